// Package board draws session positions as PNG images.
package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/chess-arena/internal/domain"
)

// Options controls one rendering.
type Options struct {
	// Flipped puts black at the bottom.
	Flipped bool
	// LastMove is a UCI move whose squares get highlighted.
	LastMove string
	// Top and Bottom are caption lines drawn above and below the board.
	Top    string
	Bottom string
}

type Renderer struct {
	squareSize int
}

const DefaultSquareSize = 64

func NewRenderer(squareSize int) *Renderer {
	if squareSize < 16 {
		squareSize = DefaultSquareSize
	}
	return &Renderer{squareSize: squareSize}
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	background      = color.RGBA{28, 31, 46, 255}
	lastMoveFill    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	captionPanel    = color.NRGBA{R: 40, G: 44, B: 64, A: 255}
	captionText     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// RenderSession draws s from viewer's side. An empty viewer means white's side.
func (r *Renderer) RenderSession(ctx context.Context, s *domain.GameSession, viewer domain.Color) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	opts := Options{Flipped: viewer == domain.Black}
	if n := len(s.Moves); n > 0 {
		opts.LastMove = s.Moves[n-1].UCI
	}
	white, black := caption(s.White, "White"), caption(s.Black, "Black")
	if opts.Flipped {
		opts.Top, opts.Bottom = white, black
	} else {
		opts.Top, opts.Bottom = black, white
	}
	return r.RenderFEN(ctx, s.FEN, opts)
}

func caption(p domain.PlayerSlot, fallback string) string {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = strings.TrimSpace(p.Identity)
	}
	if name == "" {
		return fallback + " (open seat)"
	}
	return fmt.Sprintf("%s (%d)", name, p.RatingBefore)
}

func (r *Renderer) RenderFEN(ctx context.Context, fen string, opts Options) ([]byte, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	b := nchess.NewGame(opt).Position().Board()

	sq := r.squareSize
	margin := sq / 2
	captionH := 28
	boardSize := sq * 8
	width := boardSize + margin*2
	height := boardSize + margin*2 + captionH*2
	origin := image.Pt(margin, margin+captionH)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, imagedraw.Src)

	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			clr := lightSquare
			if (file+rank)%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(img, squareRect(file, rank, sq, origin, opts.Flipped), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
	if from, to, ok := parseUCI(opts.LastMove); ok {
		for _, s := range [][2]int{from, to} {
			imagedraw.Draw(img, squareRect(s[0], s[1], sq, origin, opts.Flipped), image.NewUniform(lastMoveFill), image.Point{}, imagedraw.Over)
		}
	}
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			p := b.Piece(nchess.NewSquare(nchess.File(file), nchess.Rank(rank)))
			if p == nchess.NoPiece {
				continue
			}
			pi, err := renderPiece(p, sq)
			if err != nil {
				return nil, err
			}
			imagedraw.Draw(img, squareRect(file, rank, sq, origin, opts.Flipped), pi, image.Point{}, imagedraw.Over)
		}
	}

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	drawCoordinates(drawer, sq, origin, margin, opts.Flipped)
	drawCaption(drawer, image.Rect(margin, 4, margin+boardSize, captionH), opts.Top)
	bottom := origin.Y + boardSize + margin - 4
	drawCaption(drawer, image.Rect(margin, bottom, margin+boardSize, bottom+captionH-4), opts.Bottom)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// squareRect maps file/rank (0-based) to pixels.
func squareRect(file, rank, size int, origin image.Point, flipped bool) image.Rectangle {
	col, row := file, 7-rank
	if flipped {
		col, row = 7-file, rank
	}
	x := origin.X + col*size
	y := origin.Y + row*size
	return image.Rect(x, y, x+size, y+size)
}

func parseUCI(uci string) (from, to [2]int, ok bool) {
	if len(uci) < 4 {
		return from, to, false
	}
	sq := func(s string) ([2]int, bool) {
		f, r := int(s[0]-'a'), int(s[1]-'1')
		return [2]int{f, r}, f >= 0 && f < 8 && r >= 0 && r < 8
	}
	from, okFrom := sq(uci[0:2])
	to, okTo := sq(uci[2:4])
	return from, to, okFrom && okTo
}

func drawCoordinates(d *font.Drawer, size int, origin image.Point, margin int, flipped bool) {
	d.Src = image.NewUniform(coordinateColor)
	ascent := d.Face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file, rank := i, i
		fr := squareRect(file, 0, size, origin, flipped)
		drawCentered(d, string(rune('a'+file)), fr.Min.X+size/2, origin.Y+8*size+ascent+2)
		rr := squareRect(0, rank, size, origin, flipped)
		drawCentered(d, string(rune('1'+rank)), origin.X-margin/2, rr.Min.Y+size/2+ascent/2)
	}
}

func drawCaption(d *font.Drawer, rect image.Rectangle, text string) {
	text = strings.TrimSpace(text)
	if text == "" || rect.Empty() {
		return
	}
	imagedraw.Draw(d.Dst, rect, image.NewUniform(captionPanel), image.Point{}, imagedraw.Over)
	d.Src = image.NewUniform(captionText)
	m := d.Face.Metrics()
	baseline := rect.Min.Y + (rect.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
	d.Dot = fixed.P(rect.Min.X+8, baseline)
	d.DrawString(text)
}

func drawCentered(d *font.Drawer, text string, centerX, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}
