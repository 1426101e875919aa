package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-arena/internal/domain"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	maxTxAttempts     = 5
)

// Redis keeps sessions as JSON documents and commits terminal transitions in one MULTI/EXEC.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

// WithSessionTTL bounds how long session and archive documents live. Zero disables expiry.
func WithSessionTTL(ttl time.Duration) RedisOption { return func(r *Redis) { r.ttl = ttl } }

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if p := strings.TrimSpace(prefix); p != "" {
			r.prefix = p
		}
	}
}

func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, prefix: "arena", ttl: defaultSessionTTL}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OpenRedis connects to REDIS_URL style addresses and pings the server.
func OpenRedis(ctx context.Context, redisURL string, opts ...RedisOption) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, opts...), nil
}

func (r *Redis) keySession(id string) string { return r.prefix + ":session:" + strings.TrimSpace(id) }
func (r *Redis) keyRecord(id string) string  { return r.prefix + ":game:" + strings.TrimSpace(id) }
func (r *Redis) keyAdjIndex() string         { return r.prefix + ":adjustments" }
func (r *Redis) keyActive() string           { return r.prefix + ":sessions:active" }
func (r *Redis) keyUserAdj(p string) string  { return r.prefix + ":adjustments:user:" + strings.TrimSpace(p) }
func (r *Redis) keyRating(p string, gt domain.GameType) string {
	return r.prefix + ":rating:" + strings.TrimSpace(p) + ":" + string(gt)
}

func (r *Redis) LoadSession(ctx context.Context, id string) (*domain.GameSession, error) {
	return r.getSession(ctx, r.rdb, id)
}

func (r *Redis) getSession(ctx context.Context, c redis.Cmdable, id string) (*domain.GameSession, error) {
	raw, err := c.Get(ctx, r.keySession(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s domain.GameSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *Redis) checkRevision(ctx context.Context, tx *redis.Tx, s *domain.GameSession) error {
	cur, err := r.getSession(ctx, tx, s.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Revision >= s.Revision {
		return ErrConflict
	}
	return nil
}

func (r *Redis) SaveSession(ctx context.Context, s *domain.GameSession) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := r.keySession(s.ID)
	return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := r.checkRevision(ctx, tx, s); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			if s.Ended() {
				pipe.SRem(ctx, r.keyActive(), s.ID)
			} else {
				pipe.SAdd(ctx, r.keyActive(), s.ID)
			}
			return nil
		})
		return err
	}, key)
}

func (r *Redis) AppendRatingAdjustment(ctx context.Context, adj domain.RatingAdjustment) error {
	idx := r.keyAdjIndex()
	return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if err := r.ensureNewAdjustments(ctx, tx, []domain.RatingAdjustment{adj}); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.queueAdjustment(ctx, pipe, adj)
		})
		return err
	}, idx)
}

func (r *Redis) ensureNewAdjustments(ctx context.Context, tx *redis.Tx, adjs []domain.RatingAdjustment) error {
	for _, adj := range adjs {
		exists, err := tx.HExists(ctx, r.keyAdjIndex(), adjustmentKey(adj.SessionID, adj.Participant)).Result()
		if err != nil {
			return fmt.Errorf("check adjustment: %w", err)
		}
		if exists {
			return ErrDuplicateAdjustment
		}
	}
	return nil
}

func (r *Redis) queueAdjustment(ctx context.Context, pipe redis.Pipeliner, adj domain.RatingAdjustment) error {
	raw, err := json.Marshal(adj)
	if err != nil {
		return fmt.Errorf("encode adjustment: %w", err)
	}
	pipe.HSet(ctx, r.keyAdjIndex(), adjustmentKey(adj.SessionID, adj.Participant), raw)
	pipe.LPush(ctx, r.keyUserAdj(adj.Participant), raw)
	return nil
}

func (r *Redis) CommitTerminal(ctx context.Context, t Terminal) error {
	if t.Session == nil {
		return nil
	}
	sessionRaw, err := json.Marshal(t.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	recordRaw, err := json.Marshal(t.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	sk := r.keySession(t.Session.ID)
	watched := []string{sk, r.keyAdjIndex()}
	for _, adj := range t.Adjustments {
		watched = append(watched, r.keyRating(adj.Participant, adj.GameType))
	}
	commit := func(tx *redis.Tx) error {
		if err := r.checkRevision(ctx, tx, t.Session); err != nil {
			return err
		}
		if err := r.ensureNewAdjustments(ctx, tx, t.Adjustments); err != nil {
			return err
		}
		ratings := make([]*domain.PlayerRating, 0, len(t.Adjustments))
		for _, adj := range t.Adjustments {
			pr, err := r.getRating(ctx, tx, adj.Participant, adj.GameType)
			if err != nil {
				return err
			}
			foldAdjustment(pr, adj)
			ratings = append(ratings, pr)
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sk, sessionRaw, r.ttl)
			pipe.SRem(ctx, r.keyActive(), t.Session.ID)
			for _, adj := range t.Adjustments {
				if err := r.queueAdjustment(ctx, pipe, adj); err != nil {
					return err
				}
			}
			for _, pr := range ratings {
				raw, err := json.Marshal(pr)
				if err != nil {
					return fmt.Errorf("encode rating: %w", err)
				}
				pipe.Set(ctx, r.keyRating(pr.Participant, pr.GameType), raw, 0)
			}
			pipe.Set(ctx, r.keyRecord(t.Session.ID), recordRaw, r.ttl)
			return nil
		})
		return err
	}
	// a rating key touched by another session's commit aborts EXEC; rerun on fresh reads
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = r.rdb.Watch(ctx, commit, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("terminal commit: %w", err)
}

func (r *Redis) LoadRating(ctx context.Context, participant string, gt domain.GameType) (*domain.PlayerRating, error) {
	return r.getRating(ctx, r.rdb, participant, gt)
}

func (r *Redis) getRating(ctx context.Context, c redis.Cmdable, participant string, gt domain.GameType) (*domain.PlayerRating, error) {
	raw, err := c.Get(ctx, r.keyRating(participant, gt)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewPlayerRating(strings.TrimSpace(participant), gt), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rating: %w", err)
	}
	var pr domain.PlayerRating
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decode rating: %w", err)
	}
	return &pr, nil
}

func (r *Redis) RatingAdjustments(ctx context.Context, participant string) ([]domain.RatingAdjustment, error) {
	raws, err := r.rdb.LRange(ctx, r.keyUserAdj(participant), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	out := make([]domain.RatingAdjustment, 0, len(raws))
	for _, raw := range raws {
		var adj domain.RatingAdjustment
		if err := json.Unmarshal([]byte(raw), &adj); err != nil {
			return nil, fmt.Errorf("decode adjustment: %w", err)
		}
		out = append(out, adj)
	}
	return out, nil
}

// ActiveSessions returns the ids in the active set. Ids whose document already expired are
// dropped from the set on the way.
func (r *Redis) ActiveSessions(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, r.keyActive()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	out := ids[:0]
	for _, id := range ids {
		n, err := r.rdb.Exists(ctx, r.keySession(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("check session %s: %w", id, err)
		}
		if n == 0 {
			r.rdb.SRem(ctx, r.keyActive(), id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Record loads the archived summary of an ended session. Unknown ids return ErrNotFound.
func (r *Redis) Record(ctx context.Context, id string) (*domain.GameRecord, error) {
	raw, err := r.rdb.Get(ctx, r.keyRecord(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec domain.GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
