package entities

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	registry := DefaultRegistry()
	if registry.Count() != 3 {
		t.Fatalf("expected 3 default tokens, got %d", registry.Count())
	}
	if _, ok := registry.GetBySymbol("BNB"); !ok {
		t.Error("BNB missing from default registry")
	}
	if _, ok := registry.GetByAddress(TEST63.Address); !ok {
		t.Error("TEST63 missing from default registry")
	}
}

func TestRegistryLoadFromFile(t *testing.T) {
	config := `{
		"tokens": [
			{"symbol": "BNB", "name": "Binance Coin", "decimals": 18, "native": true},
			{"address": "0xfe113952C81D14520a8752C87c47f79564892bA3", "symbol": "TEST63", "name": "TEST63 Token", "decimals": 18}
		]
	}`
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	registry := NewTokenRegistry()
	if err := registry.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if registry.Count() != 2 {
		t.Fatalf("expected 2 tokens, got %d", registry.Count())
	}

	bnb, ok := registry.GetBySymbol("BNB")
	if !ok {
		t.Fatal("BNB not loaded")
	}
	if !bnb.IsNative() {
		t.Error("native flag should map to the sentinel address")
	}

	test63, ok := registry.GetBySymbol("TEST63")
	if !ok {
		t.Fatal("TEST63 not loaded")
	}
	if test63.Address != TEST63.Address {
		t.Errorf("TEST63 address = %s", test63.Address.Hex())
	}
}

func TestRegistryLoadFromMissingFile(t *testing.T) {
	registry := NewTokenRegistry()
	if err := registry.LoadFromFile("/nonexistent/tokens.json"); err == nil {
		t.Error("expected error for missing file")
	}
}
