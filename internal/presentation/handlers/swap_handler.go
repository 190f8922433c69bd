package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/domain/services"
)

// SwapHandler exposes the swap session over HTTP. All state lives in the
// service; handlers translate requests into operations and return the
// resulting snapshot so a client never needs a follow-up read.
type SwapHandler struct {
	service *services.SwapService
}

// NewSwapHandler creates a new swap handler
func NewSwapHandler(service *services.SwapService) *SwapHandler {
	return &SwapHandler{service: service}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AmountRequest carries a raw amount keystroke.
type AmountRequest struct {
	Value string `json:"value"`
}

// ModeRequest selects the authoritative trade side.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// TokenSelectRequest assigns a token to one side of the pair.
type TokenSelectRequest struct {
	Side  string `json:"side"`
	Token string `json:"token"`
}

// SlippageRequest updates the tolerance in basis points.
type SlippageRequest struct {
	Bps uint64 `json:"bps"`
}

// SubmitResponse is returned by approve and swap submissions.
type SubmitResponse struct {
	Hash  string               `json:"hash"`
	State services.SessionView `json:"state"`
}

// GetTokens handles GET /api/v1/tokens
func (h *SwapHandler) GetTokens(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Tokens())
}

// GetState handles GET /api/v1/state
func (h *SwapHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// SetAmount handles POST /api/v1/amount
func (h *SwapHandler) SetAmount(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "body must be JSON with a value field")
		return
	}
	h.service.SetAmount(req.Value)
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// SetMode handles POST /api/v1/mode
func (h *SwapHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "body must be JSON with a mode field")
		return
	}
	mode := entities.SwapMode(req.Mode)
	if mode != entities.ExactIn && mode != entities.ExactOut {
		h.writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be exactIn or exactOut")
		return
	}
	h.service.SetMode(mode)
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// ToggleMode handles POST /api/v1/mode/toggle
func (h *SwapHandler) ToggleMode(w http.ResponseWriter, r *http.Request) {
	h.service.ToggleMode()
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// SelectToken handles POST /api/v1/token
func (h *SwapHandler) SelectToken(w http.ResponseWriter, r *http.Request) {
	var req TokenSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "body must be JSON with side and token fields")
		return
	}
	if req.Side != "input" && req.Side != "output" {
		h.writeError(w, http.StatusBadRequest, "invalid_side", "side must be input or output")
		return
	}
	if !common.IsHexAddress(req.Token) {
		h.writeError(w, http.StatusBadRequest, "invalid_token", "token is not a valid address")
		return
	}
	if err := h.service.SelectToken(r.Context(), req.Side, common.HexToAddress(req.Token)); err != nil {
		h.writeError(w, http.StatusNotFound, "unknown_token", "token is not in the registry")
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// SwitchTokens handles POST /api/v1/switch
func (h *SwapHandler) SwitchTokens(w http.ResponseWriter, r *http.Request) {
	h.service.SwitchTokens(r.Context())
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// SetSlippage handles POST /api/v1/slippage
func (h *SwapHandler) SetSlippage(w http.ResponseWriter, r *http.Request) {
	var req SlippageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "body must be JSON with a bps field")
		return
	}
	if err := h.service.SetSlippageBps(req.Bps); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_slippage", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// SetMax handles POST /api/v1/max, filling the input with the largest
// spendable amount.
func (h *SwapHandler) SetMax(w http.ResponseWriter, r *http.Request) {
	h.service.SetMode(entities.ExactIn)
	h.service.SetAmount(h.service.MaxSpend())
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Refresh handles POST /api/v1/refresh
func (h *SwapHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.service.RefreshPrice(r.Context())
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Approve handles POST /api/v1/approve
func (h *SwapHandler) Approve(w http.ResponseWriter, r *http.Request) {
	hash, err := h.service.Approve(r.Context())
	if err != nil {
		h.writeError(w, statusFor(err), "approve_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, SubmitResponse{
		Hash:  hash.Hex(),
		State: h.service.Snapshot(),
	})
}

// Swap handles POST /api/v1/swap
func (h *SwapHandler) Swap(w http.ResponseWriter, r *http.Request) {
	hash, err := h.service.Swap(r.Context())
	if err != nil {
		h.writeError(w, statusFor(err), "swap_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, SubmitResponse{
		Hash:  hash.Hex(),
		State: h.service.Snapshot(),
	})
}

// GetPool handles GET /api/v1/pool
func (h *SwapHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.PoolInfo(r.Context())
	if err != nil {
		h.writeError(w, http.StatusNotFound, "pool_unavailable", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrNoAccount):
		return http.StatusUnauthorized
	case errors.Is(err, entities.ErrNoQuote),
		errors.Is(err, entities.ErrInvalidApprovalTarget),
		errors.Is(err, entities.ErrInsufficientBalance),
		errors.Is(err, entities.ErrSlippageBound),
		errors.Is(err, entities.ErrParse):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *SwapHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *SwapHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
