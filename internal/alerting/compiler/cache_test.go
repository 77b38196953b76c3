package compiler

import (
	"testing"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

func TestCache_CompilesOncePerPayload(t *testing.T) {
	c, err := NewCache(4)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	payload := map[string]any{"dsl": "news ticker:005930 window:2h"}

	first := c.Compile(payload, 60, domain.SourceFiling)
	second := c.Compile(map[string]any{"dsl": "news ticker:005930 window:2h"}, 60, domain.SourceFiling)
	if c.Len() != 1 {
		t.Fatalf("Len = %d; want 1", c.Len())
	}
	if PlanSignature(first) != PlanSignature(second) {
		t.Fatalf("cached plan differs")
	}

	first.Tickers[0] = "mutated"
	if again := c.Compile(payload, 60, domain.SourceFiling); again.Tickers[0] != "005930" {
		t.Fatalf("cache handed out shared slices")
	}

	_ = c.Compile(payload, 30, domain.SourceFiling)
	if c.Len() != 2 {
		t.Fatalf("different defaults must be cached separately, Len = %d", c.Len())
	}
}

func TestCache_EvictsAndNilSafe(t *testing.T) {
	c, err := NewCache(1)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	c.Compile(map[string]any{"dsl": "a"}, 60, "")
	c.Compile(map[string]any{"dsl": "b"}, 60, "")
	if c.Len() != 1 {
		t.Fatalf("Len = %d; want 1 after eviction", c.Len())
	}

	var none *Cache
	if p := none.Compile(map[string]any{"dsl": "news"}, 60, ""); p.Source != domain.SourceNews {
		t.Fatalf("nil cache should compile directly, got %+v", p)
	}
	if none.Len() != 0 {
		t.Fatalf("nil cache Len should be 0")
	}

	if _, err := NewCache(0); err == nil {
		t.Fatalf("expected error for non-positive size")
	}
}
