package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCeiling is the number of concurrent calls admitted when no ceiling is configured.
const DefaultCeiling = 10

// Registry is the process-wide table of live call sessions.
type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	ceiling           int
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewRegistry(ceiling int, inactivityTimeout time.Duration) *Registry {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		ceiling:           ceiling,
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook registers the callback run for each session the janitor finds inactive.
// The hook is responsible for ending the call and removing the session.
func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Create admits a new call. An empty callID is replaced with a generated one.
func (r *Registry) Create(callID string, direction Direction, from, to string) (*Session, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		callID = uuid.NewString()
	}
	if direction != DirectionInbound && direction != DirectionOutbound {
		return nil, ErrInvalidDirection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[callID]; exists {
		return nil, ErrDuplicateCall
	}
	if len(r.sessions) >= r.ceiling {
		return nil, ErrCapacityExceeded
	}
	s := newSession(callID, direction, from, to, time.Now().UTC())
	r.sessions[callID] = s
	return s, nil
}

// Get returns the live session for callID; a missing call is reported with ok=false.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove evicts callID. Removing an absent call is a no-op.
func (r *Registry) Remove(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
	}
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Ceiling() int {
	return r.ceiling
}

// HasCapacity reports whether one more call would be admitted right now.
func (r *Registry) HasCapacity() bool {
	return r.Count() < r.ceiling
}

// List returns snapshots of all live sessions ordered by start time.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot(false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.RLock()
	for _, s := range r.sessions {
		if s.idleFor(now) >= r.inactivityTimeout {
			expired = append(expired, s)
		}
	}
	hook := r.onExpire
	r.mu.RUnlock()

	for _, s := range expired {
		if hook != nil {
			hook(s)
			continue
		}
		r.Remove(s.ID())
	}
}
