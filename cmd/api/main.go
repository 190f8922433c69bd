package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/twannasleep/nerd-swap/internal/domain/entities"
	"github.com/twannasleep/nerd-swap/internal/domain/services"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/cache"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/chain"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/ethereum"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/prices"
	"github.com/twannasleep/nerd-swap/internal/infrastructure/wallet"
	"github.com/twannasleep/nerd-swap/internal/presentation/handlers"
)

const (
	version = "0.1.0"

	// BNB Smart Chain testnet defaults.
	defaultChainID = 97
	defaultRPCURL  = "https://data-seed-prebsc-1-s1.binance.org:8545"
	defaultRouter  = "0xD99D1c33F9fC3444f8101754aBC46c52416550D1"
	defaultFactory = "0x6725F303b657a9451d8BA641348b6761A6CC7a17"
	defaultWBNB    = "0xae13d989daC2f0dEbFf460aC112a837C89BAa7cd"
)

func main() {
	// .env is optional; real environment variables win either way.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	rpcURL := getEnv("BSC_RPC_URL", defaultRPCURL)
	chainID := getEnvUint("CHAIN_ID", defaultChainID)
	routerAddr := common.HexToAddress(getEnv("ROUTER_ADDRESS", defaultRouter))
	factoryAddr := common.HexToAddress(getEnv("FACTORY_ADDRESS", defaultFactory))
	wbnbAddr := common.HexToAddress(getEnv("WBNB_ADDRESS", defaultWBNB))
	walletKey := getEnv("WALLET_KEY", "")
	redisAddr := getEnv("REDIS_ADDR", "")
	port := getEnv("PORT", "8080")

	// Initialize chain client
	ethClient, err := ethereum.NewClient(rpcURL, chainID)
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}
	defer ethClient.Close()
	log.Printf("Connected to chain %s via %s", ethClient.ChainID().String(), rpcURL)

	// Initialize cache
	var cacheClient cache.Cache
	if redisAddr != "" {
		redisCache, err := cache.NewRedisCache(redisAddr, getEnv("REDIS_PASSWORD", ""), 0)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Using in-memory cache.", err)
			cacheClient = cache.NewInMemoryCache()
		} else {
			cacheClient = redisCache
			log.Printf("Connected to Redis at %s", redisAddr)
		}
	} else {
		cacheClient = cache.NewInMemoryCache()
		log.Println("Using in-memory cache")
	}

	// Initialize token registry
	registry := entities.DefaultRegistry()
	if path := getEnv("TOKENS_FILE", ""); path != "" {
		registry = entities.NewTokenRegistry()
		if err := registry.LoadFromFile(path); err != nil {
			log.Fatalf("Failed to load tokens from %s: %v", path, err)
		}
		log.Printf("Loaded %d tokens from %s", registry.Count(), path)
	}

	tokenIn, ok := registry.GetBySymbol(getEnv("DEFAULT_TOKEN_IN", "BNB"))
	if !ok {
		log.Fatalf("Default input token not in registry")
	}
	tokenOut, ok := registry.GetBySymbol(getEnv("DEFAULT_TOKEN_OUT", "TEST63"))
	if !ok {
		log.Fatalf("Default output token not in registry")
	}

	// Initialize price reference
	priceSource := prices.NewStaticSource()
	if path := getEnv("PRICES_FILE", ""); path != "" {
		if err := priceSource.LoadFromFile(path); err != nil {
			log.Fatalf("Failed to load prices from %s: %v", path, err)
		}
	}

	// Initialize wallet
	keyWallet, err := wallet.NewKeyWallet(ethClient, walletKey)
	if err != nil {
		log.Fatalf("Failed to load wallet: %v", err)
	}
	if account, connected := keyWallet.Account(); connected {
		log.Printf("Wallet connected: %s", account.Hex())
	} else {
		log.Println("No wallet key configured; running in read-only mode")
	}

	// Initialize services
	readPort := chain.NewReadPort(ethClient, cacheClient, routerAddr, factoryAddr)
	swapService := services.NewSwapService(readPort, keyWallet, priceSource, registry, routerAddr, wbnbAddr, tokenIn, tokenOut)
	defer swapService.Close()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(version, chainID)
	swapHandler := handlers.NewSwapHandler(swapService)
	streamHandler := handlers.NewStreamHandler(swapService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Get("/health", healthHandler.Health)

	// The stream is long-lived and must stay outside the request timeout.
	r.Get("/api/v1/stream", streamHandler.Stream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/tokens", swapHandler.GetTokens)
		r.Get("/state", swapHandler.GetState)
		r.Get("/pool", swapHandler.GetPool)
		r.Post("/amount", swapHandler.SetAmount)
		r.Post("/mode", swapHandler.SetMode)
		r.Post("/mode/toggle", swapHandler.ToggleMode)
		r.Post("/token", swapHandler.SelectToken)
		r.Post("/switch", swapHandler.SwitchTokens)
		r.Post("/slippage", swapHandler.SetSlippage)
		r.Post("/max", swapHandler.SetMax)
		r.Post("/refresh", swapHandler.Refresh)
		r.Post("/approve", swapHandler.Approve)
		r.Post("/swap", swapHandler.Swap)
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting nerd-swap API v%s on port %s", version, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			log.Fatalf("Invalid %s: %v", key, err)
		}
		return parsed
	}
	return defaultValue
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
