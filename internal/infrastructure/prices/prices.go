package prices

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Source maps a token symbol to a USD unit price. Prices feed display math
// only (USD values and the price-impact estimate); they are explicitly not
// authoritative and never reach a transaction argument.
type Source interface {
	USDPrice(symbol string) (float64, bool)
}

// StaticSource serves a fixed symbol-to-price table. This is a placeholder
// for a live feed; the impact numbers derived from it are estimates, not
// pool-implied prices.
type StaticSource struct {
	mu    sync.RWMutex
	rates map[string]float64
}

// NewStaticSource creates a source seeded with the testnet pair's reference
// prices.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		rates: map[string]float64{
			"BNB":    240.5,
			"WBNB":   240.5,
			"TEST63": 0.12,
		},
	}
}

// LoadFromFile replaces the table with a JSON object of symbol -> price.
func (s *StaticSource) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read price config: %w", err)
	}
	var rates map[string]float64
	if err := json.Unmarshal(data, &rates); err != nil {
		return fmt.Errorf("failed to parse price config: %w", err)
	}
	s.mu.Lock()
	s.rates = rates
	s.mu.Unlock()
	return nil
}

// USDPrice returns the unit price for a symbol, or false when the symbol
// has no reference price. Callers must treat the absence as "unknown", not
// zero.
func (s *StaticSource) USDPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.rates[symbol]
	return price, ok
}
