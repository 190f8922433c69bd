package prices

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticSourceDefaults(t *testing.T) {
	source := NewStaticSource()

	price, ok := source.USDPrice("BNB")
	if !ok || price != 240.5 {
		t.Errorf("USDPrice(BNB) = (%v, %v), want 240.5", price, ok)
	}
	if _, ok := source.USDPrice("UNLISTED"); ok {
		t.Error("unlisted symbol should report no price, not zero")
	}
}

func TestStaticSourceLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")
	if err := os.WriteFile(path, []byte(`{"BNB": 300, "TEST63": 0.5}`), 0o644); err != nil {
		t.Fatal(err)
	}

	source := NewStaticSource()
	if err := source.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	price, ok := source.USDPrice("TEST63")
	if !ok || price != 0.5 {
		t.Errorf("USDPrice(TEST63) = (%v, %v), want 0.5", price, ok)
	}
	// The file replaces the table wholesale.
	if _, ok := source.USDPrice("WBNB"); ok {
		t.Error("WBNB should be absent after reload")
	}
}
