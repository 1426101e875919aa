package board

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece outlines on a 45x45 view box. FILL and STROKE are substituted per colour.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="13" r="5"/>
<path d="M17 25 Q22.5 16 28 25 L30 34 L15 34 Z"/>
<rect x="11" y="34" width="23" height="5" rx="1"/>`,
	nchess.Rook: `<path d="M12 17 V10 H16 V13 H20 V10 H25 V13 H29 V10 H33 V17 Z"/>
<path d="M14 17 L15 32 H30 L31 17 Z"/>
<rect x="11" y="32" width="23" height="6" rx="1"/>`,
	nchess.Knight: `<path d="M13 36 H33 L31 20 C30 12 24 8 20 9 L18 6 L16 11 C12 14 10 19 10 23 L13 25 L17 21 C18 25 15 29 13 36 Z"/>
<circle cx="17" cy="15" r="1.2"/>
<rect x="11" y="36" width="24" height="3" rx="1"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8" r="2.5"/>
<path d="M22.5 10 C16 15 15 22 18 28 H27 C30 22 29 15 22.5 10 Z"/>
<path d="M18 28 L17 31 H28 L27 28 Z"/>
<rect x="12" y="31" width="21" height="5" rx="1"/>`,
	nchess.Queen: `<path d="M13 31 L9 14 L16 24 L17 11 L22.5 22 L28 11 L29 24 L36 14 L32 31 Z"/>
<circle cx="9" cy="12" r="2"/><circle cx="17" cy="9" r="2"/><circle cx="28" cy="9" r="2"/><circle cx="36" cy="12" r="2"/>
<path d="M11 37 H34 L32 31 H13 Z"/>`,
	nchess.King: `<path d="M21 4 H24 V7 H27 V10 H24 V14 H21 V10 H18 V7 H21 Z"/>
<path d="M22.5 14 C15 14 9 18 10 25 L13 31 H32 L35 25 C36 18 30 14 22.5 14 Z"/>
<rect x="12" y="31" width="21" height="6" rx="1"/>`,
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceSVG(p nchess.Piece) ([]byte, error) {
	shape, ok := pieceShapes[p.Type()]
	if !ok {
		return nil, fmt.Errorf("no outline for piece %v", p)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if p.Color() == nchess.Black {
		fill, stroke = "#262626", "#0a0a0a"
	}
	r := strings.NewReplacer("FILL", fill, "STROKE", stroke)
	var b bytes.Buffer
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	b.WriteString(r.Replace(`<g fill="FILL" stroke="STROKE" stroke-width="1.5" stroke-linejoin="round">`))
	b.WriteString(shape)
	b.WriteString(`</g></svg>`)
	return b.Bytes(), nil
}

func renderPiece(p nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: p, size: size}
	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(p)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}
