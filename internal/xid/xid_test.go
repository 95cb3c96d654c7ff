package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefix(t *testing.T) {
	id := New("shift")
	if !strings.HasPrefix(id, "shift-") {
		t.Fatalf("expected shift- prefix, got %s", id)
	}
}

func TestNewBlankPrefixFallsBack(t *testing.T) {
	for _, prefix := range []string{"", "   "} {
		id := New(prefix)
		if !strings.HasPrefix(id, "id-") {
			t.Fatalf("expected id- fallback for %q, got %s", prefix, id)
		}
	}
}

func TestNewIsUniqueEnough(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New("tx")
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
