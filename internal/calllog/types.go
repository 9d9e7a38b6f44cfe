package calllog

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/phoneagent/internal/session"
)

type Status string

const (
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusTransferred Status = "transferred"
	StatusFailed      Status = "failed"
)

// CallRecord is written when a call is admitted.
type CallRecord struct {
	CallID    string            `json:"call_id"`
	Direction session.Direction `json:"direction"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	StartedAt time.Time         `json:"started_at"`
}

// Summary is the final event of a call.
type Summary struct {
	CallID        string            `json:"call_id"`
	Direction     session.Direction `json:"direction"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Status        Status            `json:"status"`
	Reason        string            `json:"reason"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	Turns         int               `json:"turns"`
	Interruptions int               `json:"interruptions"`
	Transcript    string            `json:"transcript"`
}

func (s Summary) Duration() time.Duration {
	if s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Turn is a persisted TurnRecord.
type Turn struct {
	ID          string `json:"id"`
	CallID      string `json:"call_id"`
	PIIRedacted bool   `json:"pii_redacted"`
	session.TurnRecord
}

// Store persists call logs.
type Store interface {
	StartCall(ctx context.Context, rec CallRecord) error
	AppendTurn(ctx context.Context, turn Turn) error
	FinishCall(ctx context.Context, summary Summary) error
	Reader
	Close() error
}

// Reader looks up the log of a call. A missing call is not an error.
type Reader interface {
	Lookup(ctx context.Context, callID string) (Entry, bool, error)
}

// BuildTranscript renders the history one "speaker: text" line per turn.
func BuildTranscript(turns []session.TurnRecord) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		line := string(t.Speaker) + ": " + t.Text
		if t.Partial {
			line += " [partial]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
