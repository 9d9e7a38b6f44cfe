package calllog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/phoneagent/internal/session"
)

func TestRecorderWritesInOrder(t *testing.T) {
	store := NewInMemoryStore()
	r := NewRecorder(store, RecorderOptions{RedactPII: true})

	started := time.Now().UTC()
	r.CallStarted(CallRecord{CallID: "CA1", Direction: session.DirectionInbound, StartedAt: started})
	r.TurnRecorded("CA1", session.TurnRecord{Speaker: session.SpeakerCaller, Text: "call me at +1 (555) 123-9876", Confidence: 0.9})
	r.TurnRecorded("CA1", session.TurnRecord{Speaker: session.SpeakerAgent, Text: "Sure."})
	r.CallFinished(Summary{CallID: "CA1", Status: StatusCompleted, StartedAt: started, EndedAt: started.Add(time.Minute), Turns: 2})

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entry, ok := store.Get("CA1")
	if !ok {
		t.Fatalf("call log missing")
	}
	if len(entry.Turns) != 2 || entry.Turns[1].Speaker != session.SpeakerAgent {
		t.Fatalf("turns = %+v", entry.Turns)
	}
	if !entry.Turns[0].PIIRedacted || !strings.Contains(entry.Turns[0].Text, "[REDACTED_PHONE]") {
		t.Fatalf("caller turn not redacted: %+v", entry.Turns[0])
	}
	if entry.Summary == nil || entry.Summary.Duration() != time.Minute {
		t.Fatalf("summary = %+v", entry.Summary)
	}
}

type blockingStore struct {
	*InMemoryStore
	release chan struct{}
}

func (s *blockingStore) StartCall(ctx context.Context, rec CallRecord) error {
	<-s.release
	return errors.New("store down")
}

func TestRecorderNeverBlocksCaller(t *testing.T) {
	store := &blockingStore{InMemoryStore: NewInMemoryStore(), release: make(chan struct{})}
	r := NewRecorder(store, RecorderOptions{QueueSize: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.CallStarted(CallRecord{CallID: "CA1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("recorder blocked the caller")
	}

	close(store.release)
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	r.CallStarted(CallRecord{CallID: "CA2"})
}

func TestRedactPII(t *testing.T) {
	out, changed := RedactPII("Email sam@example.com or +1 (555) 123-9876, card 4242 4242 4242 4242.")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if _, changed := RedactPII("a house in Dallas"); changed {
		t.Fatalf("plain text should not change")
	}
}

func TestBuildTranscript(t *testing.T) {
	got := BuildTranscript([]session.TurnRecord{
		{Speaker: session.SpeakerAgent, Text: "Hello!"},
		{Speaker: session.SpeakerCaller, Text: "I'm looking", Partial: true},
	})
	want := "agent: Hello!\ncaller: I'm looking [partial]"
	if got != want {
		t.Fatalf("BuildTranscript() = %q, want %q", got, want)
	}
}
