package rules

import (
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"github.com/samber/lo"

	"github.com/park285/chess-arena/internal/domain"
)

const (
	startToken = "startpos"
	movesToken = "moves"
)

// Chess implements Engine on top of corentings/chess. A position is encoded as
// "startpos moves <uci> <uci> ..." and rebuilt by replay.
type Chess struct {
	bookOnce sync.Once
	book     *opening.BookECO
}

func NewChess() *Chess { return &Chess{} }

func (c *Chess) Initial() string { return startToken }

func (c *Chess) SideToMove(pos string) (domain.Color, error) {
	game, _, err := reconstruct(pos)
	if err != nil {
		return "", err
	}
	return colorFrom(game.Position().Turn()), nil
}

func (c *Chess) LegalMoves(pos string) ([]string, error) {
	game, _, err := reconstruct(pos)
	if err != nil {
		return nil, err
	}
	return legalUCI(game), nil
}

func (c *Chess) Apply(pos string, req MoveRequest) (Applied, error) {
	game, moves, err := reconstruct(pos)
	if err != nil {
		return Applied{}, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return Applied{}, ErrIllegalMove
	}
	uci, err := encodeRequest(req)
	if err != nil {
		return Applied{}, err
	}
	if !lo.Contains(legalUCI(game), uci) {
		return Applied{}, ErrIllegalMove
	}

	before := game.Position()
	mv, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		return Applied{}, ErrIllegalMove
	}
	piece := before.Board().Piece(mv.S1())
	san := nchess.AlgebraicNotation{}.Encode(before, mv)
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, ErrIllegalMove
	}

	applied := lastMove(game)
	if applied == nil {
		applied = mv
	}
	out := Applied{
		Position: encode(append(moves, uci)),
		FEN:      game.FEN(),
		Move: domain.Move{
			From:  mv.S1().String(),
			To:    mv.S2().String(),
			Piece: pieceLetter(piece.Type()),
			Color: colorFrom(piece.Color()),
			SAN:   san,
			UCI:   uci,
			Flags: domain.MoveFlags{
				Capture:   applied.HasTag(nchess.Capture) || applied.HasTag(nchess.EnPassant),
				Castle:    applied.HasTag(nchess.KingSideCastle) || applied.HasTag(nchess.QueenSideCastle),
				EnPassant: applied.HasTag(nchess.EnPassant),
				Check:     applied.HasTag(nchess.Check) || strings.ContainsAny(san, "+#"),
			},
		},
		Status: classify(game),
	}
	if promo := mv.Promo(); promo != nchess.NoPieceType {
		out.Move.Promotion = pieceLetter(promo)
		out.Move.Flags.Promotion = true
	}
	return out, nil
}

func (c *Chess) Classify(pos string) (Classification, error) {
	game, _, err := reconstruct(pos)
	if err != nil {
		return Classification{}, err
	}
	return classify(game), nil
}

func (c *Chess) FEN(pos string) (string, error) {
	game, _, err := reconstruct(pos)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

func (c *Chess) Undo(pos string) (string, error) {
	_, moves, err := reconstruct(pos)
	if err != nil {
		return "", err
	}
	if len(moves) == 0 {
		return "", fmt.Errorf("undo: %w", ErrIllegalMove)
	}
	return encode(moves[:len(moves)-1]), nil
}

// Opening returns a best-effort ECO label; the zero value when no line matches.
func (c *Chess) Opening(pos string) domain.Opening {
	game, moves, err := reconstruct(pos)
	if err != nil || len(moves) == 0 {
		return domain.Opening{}
	}
	c.bookOnce.Do(func() { c.book = opening.NewBookECO() })
	if c.book == nil {
		return domain.Opening{}
	}
	if eco := c.book.Find(game.Moves()); eco != nil {
		return domain.Opening{ECO: eco.Code(), Name: eco.Title()}
	}
	return domain.Opening{}
}

// ReplayGame rebuilds the library game for a position (board rendering, PGN export).
func ReplayGame(pos string) (*nchess.Game, error) {
	game, _, err := reconstruct(pos)
	return game, err
}

// MovesOf returns the UCI move list of a position.
func MovesOf(pos string) ([]string, error) {
	return parse(pos)
}

func parse(pos string) ([]string, error) {
	fields := strings.Fields(pos)
	if len(fields) == 0 || fields[0] != startToken {
		return nil, fmt.Errorf("%w: %q", ErrBadPosition, pos)
	}
	if len(fields) == 1 {
		return nil, nil
	}
	if fields[1] != movesToken {
		return nil, fmt.Errorf("%w: %q", ErrBadPosition, pos)
	}
	return fields[2:], nil
}

func encode(moves []string) string {
	if len(moves) == 0 {
		return startToken
	}
	return startToken + " " + movesToken + " " + strings.Join(moves, " ")
}

// reconstruct always starts from the initial position and replays the stored UCI moves.
func reconstruct(pos string) (*nchess.Game, []string, error) {
	moves, err := parse(pos)
	if err != nil {
		return nil, nil, err
	}
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, nil, fmt.Errorf("%w: replay %s: %v", ErrBadPosition, mv, err)
		}
	}
	return game, moves, nil
}

func encodeRequest(req MoveRequest) (string, error) {
	from := strings.ToLower(strings.TrimSpace(req.Origin))
	to := strings.ToLower(strings.TrimSpace(req.Destination))
	promo := strings.ToLower(strings.TrimSpace(req.Promotion))
	if !validSquare(from) || !validSquare(to) {
		return "", ErrIllegalMove
	}
	switch promo {
	case "", "q", "r", "b", "n":
	default:
		return "", ErrIllegalMove
	}
	return from + to + promo, nil
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func legalUCI(game *nchess.Game) []string {
	valid := game.ValidMoves()
	out := make([]string, 0, len(valid))
	for i := range valid {
		out = append(out, valid[i].String())
	}
	return out
}

func classify(game *nchess.Game) Classification {
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Classification{Terminal: true, Result: domain.ResultWhiteWin, Reason: reasonFrom(game.Method())}
	case nchess.BlackWon:
		return Classification{Terminal: true, Result: domain.ResultBlackWin, Reason: reasonFrom(game.Method())}
	case nchess.Draw:
		return Classification{Terminal: true, Result: domain.ResultDraw, Reason: reasonFrom(game.Method())}
	}
	// Claimable draws are applied automatically; nobody is asked to claim them.
	for _, m := range game.EligibleDraws() {
		switch r := reasonFrom(m); r {
		case domain.ReasonThreefoldRepetition, domain.ReasonFiftyMoveRule:
			return Classification{Terminal: true, Result: domain.ResultDraw, Reason: r}
		}
	}
	return Classification{}
}

func reasonFrom(method nchess.Method) domain.EndReason {
	switch strings.ToLower(method.String()) {
	case "checkmate":
		return domain.ReasonCheckmate
	case "stalemate":
		return domain.ReasonStalemate
	case "insufficientmaterial":
		return domain.ReasonInsufficientMaterial
	case "threefoldrepetition", "fivefoldrepetition":
		return domain.ReasonThreefoldRepetition
	case "fiftymoverule", "seventyfivemoverule":
		return domain.ReasonFiftyMoveRule
	}
	return domain.ReasonNone
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}

func pieceLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	case nchess.Pawn:
		return "p"
	}
	return ""
}
