package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/chess-arena/internal/domain"
)

// Memory is a development and test store. Everything is lost on restart.
type Memory struct {
	mu sync.RWMutex

	sessions    map[string]*domain.GameSession
	adjustments map[string]domain.RatingAdjustment // session|participant
	byUser      map[string][]domain.RatingAdjustment
	ratings     map[string]*domain.PlayerRating // participant|gameType
	records     map[string]domain.GameRecord

	// failNext makes the next n writes fail with the given error. Tests only.
	failNext int
	failErr  error
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*domain.GameSession),
		adjustments: make(map[string]domain.RatingAdjustment),
		byUser:      make(map[string][]domain.RatingAdjustment),
		ratings:     make(map[string]*domain.PlayerRating),
		records:     make(map[string]domain.GameRecord),
	}
}

// FailWrites makes the next n writes return err.
func (m *Memory) FailWrites(n int, err error) {
	m.mu.Lock()
	m.failNext, m.failErr = n, err
	m.mu.Unlock()
}

func (m *Memory) injected() error {
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	return nil
}

func (m *Memory) LoadSession(ctx context.Context, id string) (*domain.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSession(ctx context.Context, s *domain.GameSession) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if err := m.checkRevision(s); err != nil {
		return err
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) checkRevision(s *domain.GameSession) error {
	if cur, ok := m.sessions[s.ID]; ok && cur.Revision >= s.Revision {
		return ErrConflict
	}
	return nil
}

func (m *Memory) AppendRatingAdjustment(ctx context.Context, adj domain.RatingAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	return m.appendLocked(adj)
}

func (m *Memory) appendLocked(adj domain.RatingAdjustment) error {
	key := adjustmentKey(adj.SessionID, adj.Participant)
	if _, exists := m.adjustments[key]; exists {
		return ErrDuplicateAdjustment
	}
	m.adjustments[key] = adj
	m.byUser[adj.Participant] = append(m.byUser[adj.Participant], adj)
	return nil
}

func (m *Memory) CommitTerminal(ctx context.Context, t Terminal) error {
	if t.Session == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if err := m.checkRevision(t.Session); err != nil {
		return err
	}
	for _, adj := range t.Adjustments {
		if _, exists := m.adjustments[adjustmentKey(adj.SessionID, adj.Participant)]; exists {
			return ErrDuplicateAdjustment
		}
	}
	for _, adj := range t.Adjustments {
		_ = m.appendLocked(adj)
	}
	for _, adj := range t.Adjustments {
		key := ratingKey(adj.Participant, adj.GameType)
		r, ok := m.ratings[key]
		if !ok || r == nil {
			r = domain.NewPlayerRating(strings.TrimSpace(adj.Participant), adj.GameType)
			m.ratings[key] = r
		}
		foldAdjustment(r, adj)
	}
	m.sessions[t.Session.ID] = t.Session.Clone()
	m.records[t.Session.ID] = t.Record
	return nil
}

func (m *Memory) LoadRating(ctx context.Context, participant string, gt domain.GameType) (*domain.PlayerRating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.ratings[ratingKey(participant, gt)]; ok && r != nil {
		cp := *r
		return &cp, nil
	}
	return domain.NewPlayerRating(strings.TrimSpace(participant), gt), nil
}

// RatingAdjustments returns the participant's history, newest first.
func (m *Memory) RatingAdjustments(ctx context.Context, participant string) ([]domain.RatingAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := append([]domain.RatingAdjustment(nil), m.byUser[strings.TrimSpace(participant)]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].At.After(items[j].At) })
	return items, nil
}

func (m *Memory) ActiveSessions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if !s.Ended() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Record returns the archived game of an ended session.
func (m *Memory) Record(id string) (domain.GameRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *Memory) Close() error { return nil }
