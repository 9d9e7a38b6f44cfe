package calllog

import (
	"context"
	"sync"
)

// Entry is everything the in-memory store knows about one call.
type Entry struct {
	Call    CallRecord `json:"call"`
	Turns   []Turn     `json:"turns"`
	Summary *Summary   `json:"summary,omitempty"`
}

// InMemoryStore keeps call logs in process for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	calls map[string]*Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{calls: make(map[string]*Entry)}
}

func (s *InMemoryStore) StartCall(_ context.Context, rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[rec.CallID] = &Entry{Call: rec}
	return nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(turn.CallID)
	e.Turns = append(e.Turns, turn)
	return nil
}

func (s *InMemoryStore) FinishCall(_ context.Context, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(summary.CallID)
	e.Summary = &summary
	return nil
}

// Get returns a copy of the entry for callID.
func (s *InMemoryStore) Get(callID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.calls[callID]
	if !ok {
		return Entry{}, false
	}
	out := Entry{Call: e.Call, Turns: append([]Turn(nil), e.Turns...)}
	if e.Summary != nil {
		sum := *e.Summary
		out.Summary = &sum
	}
	return out, true
}

func (s *InMemoryStore) Lookup(_ context.Context, callID string) (Entry, bool, error) {
	e, ok := s.Get(callID)
	return e, ok, nil
}

func (s *InMemoryStore) entry(callID string) *Entry {
	e, ok := s.calls[callID]
	if !ok {
		e = &Entry{Call: CallRecord{CallID: callID}}
		s.calls[callID] = e
	}
	return e
}

func (s *InMemoryStore) Close() error { return nil }
