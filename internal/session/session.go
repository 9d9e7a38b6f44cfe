package session

import (
	"fmt"
	"sync"
	"time"
)

// transitions lists every legal edge of the turn state machine. Ended is reachable from all
// non-terminal states and is handled separately.
var transitions = map[State][]State{
	StateIdle:         {StateListening, StateSpeaking},
	StateListening:    {StateTranscribing},
	StateTranscribing: {StateReasoning, StateSpeaking, StateIdle},
	StateReasoning:    {StateSpeaking, StateListening},
	StateSpeaking:     {StateIdle, StateListening},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	if from == StateEnded {
		return false
	}
	if to == StateEnded {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the registry entry for one live call. Mutations are serialized by the entry's own
// lock; in practice only the call's controller goroutine mutates it.
type Session struct {
	id        string
	direction Direction
	from      string
	to        string
	startedAt time.Time

	mu             sync.Mutex
	state          State
	history        []TurnRecord
	interruptions  int
	lastActivityAt time.Time
	endedAt        time.Time
}

func newSession(callID string, direction Direction, from, to string, now time.Time) *Session {
	return &Session{
		id:             callID,
		direction:      direction,
		from:           from,
		to:             to,
		startedAt:      now,
		state:          StateIdle,
		lastActivityAt: now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Direction() Direction { return s.direction }
func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session along one edge and returns the previous state.
func (s *Session) Transition(to State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	now := time.Now().UTC()
	s.lastActivityAt = now
	if to == StateEnded {
		s.endedAt = now
	}
	return from, nil
}

// AppendTurn adds a record to the history. Records are kept in append order.
func (s *Session) AppendTurn(rec TurnRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
}

// History returns a copy of the turn history.
func (s *Session) History() []TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) RecordInterruption() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptions++
}

// Touch marks transport activity for the inactivity janitor.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return 0
	}
	return now.Sub(s.lastActivityAt)
}

// Snapshot copies the session. withTurns controls whether the history is included.
func (s *Session) Snapshot(withTurns bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		CallID:         s.id,
		Direction:      s.direction,
		From:           s.from,
		To:             s.to,
		State:          s.state,
		Interruptions:  s.interruptions,
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	if withTurns {
		snap.Turns = make([]TurnRecord, len(s.history))
		copy(snap.Turns, s.history)
	}
	return snap
}
