package session

import (
	"errors"
	"fmt"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ParseDirection accepts the direction strings used by telephony providers ("outbound-api" etc.).
func ParseDirection(raw string) (Direction, error) {
	switch raw {
	case "", "inbound":
		return DirectionInbound, nil
	case "outbound", "outbound-api", "outbound-dial":
		return DirectionOutbound, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateReasoning    State = "reasoning"
	StateSpeaking     State = "speaking"
	StateEnded        State = "ended"
)

type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// TurnRecord is one speaker's contribution. Records are values and never change after append.
type TurnRecord struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Partial    bool      `json:"partial,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of a session, safe to serialize.
type Snapshot struct {
	CallID         string       `json:"call_id"`
	Direction      Direction    `json:"direction"`
	From           string       `json:"from,omitempty"`
	To             string       `json:"to,omitempty"`
	State          State        `json:"state"`
	Interruptions  int          `json:"interruptions"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	Turns          []TurnRecord `json:"turns,omitempty"`
}

var (
	ErrCapacityExceeded  = errors.New("session capacity exceeded")
	ErrDuplicateCall     = errors.New("call already has a live session")
	ErrInvalidDirection  = errors.New("invalid call direction")
	ErrInvalidTransition = errors.New("invalid state transition")
)
