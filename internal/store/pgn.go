package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/domain"
)

func resultToPGN(r domain.Result) string {
	switch r {
	case domain.ResultWhiteWin:
		return "1-0"
	case domain.ResultBlackWin:
		return "0-1"
	case domain.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the session's SAN list with the seven-tag roster plus time control and
// termination headers.
func BuildPGN(s *domain.GameSession) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	date := s.CreatedAt
	if s.EndedAt != nil {
		date = *s.EndedAt
	}
	if date.IsZero() {
		date = time.Now()
	}
	pgnResult := resultToPGN(s.Result)

	fmt.Fprintf(&b, "[Event \"%s %s game\"]\n", ratedLabel(s), s.GameType)
	b.WriteString("[Site \"chess-arena\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	b.WriteString("[Round \"-\"]\n")
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(playerLabel(s.White)))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(playerLabel(s.Black)))
	fmt.Fprintf(&b, "[Result \"%s\"]\n", pgnResult)
	if s.White.RatingBefore > 0 {
		fmt.Fprintf(&b, "[WhiteElo \"%d\"]\n", s.White.RatingBefore)
	}
	if s.Black.RatingBefore > 0 {
		fmt.Fprintf(&b, "[BlackElo \"%d\"]\n", s.Black.RatingBefore)
	}
	if tc := s.TimeControl; tc.Untimed() {
		b.WriteString("[TimeControl \"-\"]\n")
	} else {
		fmt.Fprintf(&b, "[TimeControl \"%d+%d\"]\n", tc.InitialSeconds, tc.IncrementSeconds)
	}
	if s.Opening.ECO != "" {
		fmt.Fprintf(&b, "[ECO \"%s\"]\n", s.Opening.ECO)
		fmt.Fprintf(&b, "[Opening \"%s\"]\n", sanitizePGN(s.Opening.Name))
	}
	if s.EndReason != domain.ReasonNone {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(string(s.EndReason)))
	}
	b.WriteString("\n")

	for i := 0; i < len(s.Moves); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(s.Moves[i].SAN))
		if i+1 < len(s.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func ratedLabel(s *domain.GameSession) string {
	if s.Settings.Rated {
		return "Rated"
	}
	return "Casual"
}

func playerLabel(p domain.PlayerSlot) string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	if p.Identity != "" {
		return p.Identity
	}
	return "?"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
