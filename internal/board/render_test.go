package board

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/park285/chess-arena/internal/domain"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestRenderFENProducesPNG(t *testing.T) {
	r := NewRenderer(32)
	out, err := r.RenderFEN(context.Background(), startFEN, Options{LastMove: "e2e4", Top: "bob", Bottom: "alice"})
	if err != nil {
		t.Fatalf("RenderFEN: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := img.Bounds().Dx(), 32*8+32; got != want {
		t.Fatalf("width = %d, want %d", got, want)
	}
}

func TestRenderFlippedDiffers(t *testing.T) {
	r := NewRenderer(24)
	a, err := r.RenderFEN(context.Background(), startFEN, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.RenderFEN(context.Background(), startFEN, Options{Flipped: true})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("flipped board rendered identically")
	}
}

func TestRenderRejectsBadFEN(t *testing.T) {
	if _, err := NewRenderer(24).RenderFEN(context.Background(), "not a fen", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderSessionHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &domain.GameSession{FEN: startFEN, White: domain.PlayerSlot{Identity: "alice", RatingBefore: 1500}}
	if _, err := NewRenderer(24).RenderSession(ctx, s, domain.White); err == nil {
		t.Fatal("expected context error")
	}
}

func TestParseUCI(t *testing.T) {
	from, to, ok := parseUCI("e7e8q")
	if !ok || from != [2]int{4, 6} || to != [2]int{4, 7} {
		t.Fatalf("parseUCI = %v %v %v", from, to, ok)
	}
	if _, _, ok := parseUCI("z9a1"); ok {
		t.Fatal("accepted off-board square")
	}
}
