package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/chess-arena/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Postgres stores the session document as JSONB next to the append-only adjustment log.
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Migrate creates the bootstrap tables when they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) LoadSession(ctx context.Context, id string) (*domain.GameSession, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM arena_sessions WHERE id = $1`, strings.TrimSpace(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	var s domain.GameSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (p *Postgres) SaveSession(ctx context.Context, s *domain.GameSession) error {
	if s == nil {
		return nil
	}
	return upsertSession(ctx, p.db, s)
}

func upsertSession(ctx context.Context, ex execer, s *domain.GameSession) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	const q = `
		INSERT INTO arena_sessions (id, revision, status, doc, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			revision = EXCLUDED.revision,
			status = EXCLUDED.status,
			doc = EXCLUDED.doc,
			updated_at = now()
		WHERE arena_sessions.revision < EXCLUDED.revision`
	res, err := ex.ExecContext(ctx, q, s.ID, s.Revision, string(s.Status), doc)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

func (p *Postgres) AppendRatingAdjustment(ctx context.Context, adj domain.RatingAdjustment) error {
	return insertAdjustment(ctx, p.db, adj)
}

func insertAdjustment(ctx context.Context, ex execer, adj domain.RatingAdjustment) error {
	const q = `
		INSERT INTO rating_adjustments (
			session_id, participant, game_type, rating_before, rating_after, delta,
			opponent, opponent_rating, outcome, expected, k_factor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := ex.ExecContext(ctx, q,
		adj.SessionID, adj.Participant, string(adj.GameType), adj.RatingBefore, adj.RatingAfter, adj.Delta,
		adj.Opponent, adj.OpponentRating, string(adj.Outcome), adj.Expected, adj.KFactor, adj.At,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrDuplicateAdjustment
	}
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

func upsertRating(ctx context.Context, ex execer, r *domain.PlayerRating) error {
	const q = `
		INSERT INTO player_ratings (
			participant, game_type, rating, games_played, wins, losses, draws, streak, streak_type, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (participant, game_type) DO UPDATE SET
			rating = EXCLUDED.rating,
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			streak = EXCLUDED.streak,
			streak_type = EXCLUDED.streak_type,
			updated_at = EXCLUDED.updated_at`
	_, err := ex.ExecContext(ctx, q,
		r.Participant, string(r.GameType), r.Rating, r.GamesPlayed,
		r.Wins, r.Losses, r.Draws, r.Streak, string(r.StreakType), r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, ex execer, rec domain.GameRecord) error {
	movesUCI, err := json.Marshal(nonNil(rec.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(rec.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	const q = `
		INSERT INTO arena_games (
			session_id, white_id, black_id, game_type, rated, result, end_reason,
			moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO NOTHING`
	_, err = ex.ExecContext(ctx, q,
		rec.SessionID, rec.White, rec.Black, string(rec.GameType), rec.Rated,
		string(rec.Result), string(rec.EndReason), movesUCI, movesSAN, rec.PGN,
		nullTime(rec.StartedAt), nullTime(rec.EndedAt), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert game record: %w", err)
	}
	return nil
}

func (p *Postgres) CommitTerminal(ctx context.Context, t Terminal) (err error) {
	if t.Session == nil {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin terminal commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = upsertSession(ctx, tx, t.Session); err != nil {
		return err
	}
	for _, adj := range t.Adjustments {
		if err = insertAdjustment(ctx, tx, adj); err != nil {
			return err
		}
	}
	for _, adj := range t.Adjustments {
		if err = foldRating(ctx, tx, adj); err != nil {
			return err
		}
	}
	if err = insertRecord(ctx, tx, t.Record); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit terminal: %w", err)
	}
	return nil
}

// foldRating locks the participant's profile row for the rest of the transaction and applies
// the adjustment to what is stored there.
func foldRating(ctx context.Context, tx querier, adj domain.RatingAdjustment) error {
	const seed = `
		INSERT INTO player_ratings (participant, game_type, rating, games_played, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (participant, game_type) DO NOTHING`
	participant := strings.TrimSpace(adj.Participant)
	if _, err := tx.ExecContext(ctx, seed, participant, string(adj.GameType), domain.DefaultRating, adj.At); err != nil {
		return fmt.Errorf("seed rating: %w", err)
	}
	r, err := selectRating(ctx, tx, participant, adj.GameType, true)
	if err != nil {
		return err
	}
	foldAdjustment(r, adj)
	return upsertRating(ctx, tx, r)
}

func (p *Postgres) LoadRating(ctx context.Context, participant string, gt domain.GameType) (*domain.PlayerRating, error) {
	return selectRating(ctx, p.db, participant, gt, false)
}

func selectRating(ctx context.Context, q querier, participant string, gt domain.GameType, forUpdate bool) (*domain.PlayerRating, error) {
	query := `
		SELECT rating, games_played, wins, losses, draws, streak, streak_type, updated_at
		FROM player_ratings WHERE participant = $1 AND game_type = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	r := domain.PlayerRating{Participant: strings.TrimSpace(participant), GameType: gt}
	var streakType string
	err := q.QueryRowContext(ctx, query, r.Participant, string(gt)).Scan(
		&r.Rating, &r.GamesPlayed, &r.Wins, &r.Losses, &r.Draws, &r.Streak, &streakType, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewPlayerRating(r.Participant, gt), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select rating: %w", err)
	}
	r.StreakType = domain.Outcome(streakType)
	return &r, nil
}

func (p *Postgres) ActiveSessions(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM arena_sessions WHERE status <> $1 ORDER BY updated_at`, string(domain.StatusEnded))
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) RatingAdjustments(ctx context.Context, participant string) ([]domain.RatingAdjustment, error) {
	const q = `
		SELECT session_id, participant, game_type, rating_before, rating_after, delta,
			opponent, opponent_rating, outcome, expected, k_factor, created_at
		FROM rating_adjustments
		WHERE participant = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := p.db.QueryContext(ctx, q, strings.TrimSpace(participant))
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var out []domain.RatingAdjustment
	for rows.Next() {
		var (
			adj         domain.RatingAdjustment
			gt, outcome string
		)
		if err := rows.Scan(
			&adj.SessionID, &adj.Participant, &gt, &adj.RatingBefore, &adj.RatingAfter, &adj.Delta,
			&adj.Opponent, &adj.OpponentRating, &outcome, &adj.Expected, &adj.KFactor, &adj.At,
		); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		adj.GameType = domain.GameType(gt)
		adj.Outcome = domain.Outcome(outcome)
		out = append(out, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustments: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
