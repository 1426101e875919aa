// Package registry maps live connections to sessions and back.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/park285/chess-arena/internal/domain"
)

// Entry is one registered connection.
type Entry struct {
	ConnID    string
	SessionID string
	Identity  string
	Role      domain.Role
}

type room struct {
	mu      sync.Mutex
	members map[string]Entry
}

// Registry keeps an index of connection -> session and one room per session, each room with its
// own lock. Membership of a room is changed only by the owner of that session.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Entry
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]Entry),
		rooms: make(map[string]*room),
	}
}

// Register puts connID in sessionID. A connection belongs to at most one session, so any
// previous membership is dropped and returned.
func (r *Registry) Register(connID, sessionID, identity string, role domain.Role) (Entry, bool) {
	e := Entry{
		ConnID:    strings.TrimSpace(connID),
		SessionID: strings.TrimSpace(sessionID),
		Identity:  strings.TrimSpace(identity),
		Role:      role,
	}
	r.mu.Lock()
	prev, had := r.conns[e.ConnID]
	if had {
		r.removeLocked(prev)
	}
	r.conns[e.ConnID] = e
	rm, ok := r.rooms[e.SessionID]
	if !ok {
		rm = &room{members: make(map[string]Entry)}
		r.rooms[e.SessionID] = rm
	}
	r.mu.Unlock()

	rm.mu.Lock()
	rm.members[e.ConnID] = e
	rm.mu.Unlock()
	if had && prev.SessionID == e.SessionID {
		return Entry{}, false
	}
	return prev, had
}

// Unregister drops connID and returns the entry it had.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	connID = strings.TrimSpace(connID)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.conns, connID)
	r.removeLocked(e)
	return e, true
}

func (r *Registry) removeLocked(e Entry) {
	rm, ok := r.rooms[e.SessionID]
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.members, e.ConnID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if empty {
		delete(r.rooms, e.SessionID)
	}
}

// ConnectionsFor lists the connections of a session ordered by connection id.
func (r *Registry) ConnectionsFor(sessionID string) []Entry {
	r.mu.RLock()
	rm, ok := r.rooms[strings.TrimSpace(sessionID)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	out := lo.Values(rm.members)
	rm.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

func (r *Registry) SessionFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[strings.TrimSpace(connID)]
	return e.SessionID, ok
}

func (r *Registry) Lookup(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[strings.TrimSpace(connID)]
	return e, ok
}

// Has reports whether identity still has a connection with role in sessionID.
func (r *Registry) Has(sessionID, identity string, role domain.Role) bool {
	return lo.ContainsBy(r.ConnectionsFor(sessionID), func(e Entry) bool {
		return e.Identity == identity && e.Role == role
	})
}

// Len is the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
