package msgcat

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/park285/chess-arena/internal/domain"
)

func TestEmbeddedCatalogRendersDomainErrors(t *testing.T) {
	c := MustDefault()

	code, text := c.Error(domain.NotFound("session_not_found", "no session"), "abc")
	if code != "session_not_found" || !strings.Contains(text, "abc") {
		t.Fatalf("got %q %q", code, text)
	}

	code, text = c.Error(domain.IllegalMove([]string{"e2e4", "d2d4"}, "e2e5 is not legal"), "abc")
	if code != "illegal_move" || !strings.Contains(text, "2 legal moves") || !strings.Contains(text, "e2e5") {
		t.Fatalf("got %q %q", code, text)
	}

	code, text = c.Error(errors.New("redis down"), "abc")
	if code != "internal" || strings.Contains(text, "redis") {
		t.Fatalf("infrastructure error leaked: %q %q", code, text)
	}
}

func TestUnknownCodeFallsBackToMessage(t *testing.T) {
	c := MustDefault()
	if got := c.Code("brand_new", ErrorData{Message: "raw text"}); got != "raw text" {
		t.Fatalf("got %q", got)
	}
	if got := c.Code("brand_new", ErrorData{}); got == "" || got == "brand_new" {
		t.Fatalf("expected internal fallback, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  session_full: \"Full!\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Code("session_full", ErrorData{}); got != "Full!" {
		t.Fatalf("override not applied: %q", got)
	}
	if !c.Has("errors.not_your_turn") {
		t.Fatalf("embedded keys lost after override")
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("errors:\n  session_full: \"Again\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override key should fail")
	}
}
