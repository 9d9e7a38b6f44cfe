package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubTranscriber struct {
	name       string
	calls      atomic.Int32
	transcribe func(ctx context.Context, u Utterance) (Transcript, error)
}

func (s *stubTranscriber) Name() string { return s.name }

func (s *stubTranscriber) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	s.calls.Add(1)
	return s.transcribe(ctx, u)
}

func failingTranscriber(name string, code int) *stubTranscriber {
	return &stubTranscriber{name: name, transcribe: func(context.Context, Utterance) (Transcript, error) {
		return Transcript{}, &StatusError{Provider: name, Code: code}
	}}
}

func testUtterance() Utterance {
	return Utterance{CallID: "CA1", PCM: make([]int16, 1600), SampleRate: 8000, Frames: 10}
}

func TestTranscriberChainRetriesThenFallsBack(t *testing.T) {
	primary := failingTranscriber("primary", 503)
	secondary := &stubTranscriber{name: "secondary", transcribe: func(context.Context, Utterance) (Transcript, error) {
		return Transcript{Text: "  three bedrooms in Dallas ", Confidence: 0.92}, nil
	}}
	chain := NewTranscriberChain([]Transcriber{primary, secondary}, TranscriberChainOptions{
		Deadline:    time.Second,
		Retries:     1,
		BackoffBase: time.Millisecond,
	})

	got, err := chain.Transcribe(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "three bedrooms in Dallas" || got.Provider != "secondary" {
		t.Fatalf("Transcribe() = %+v", got)
	}
	if primary.calls.Load() != 2 || secondary.calls.Load() != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 2 and 1", primary.calls.Load(), secondary.calls.Load())
	}
	if chain.Name() != "primary>secondary" {
		t.Fatalf("Name() = %q", chain.Name())
	}
}

func TestTranscriberChainDoesNotRetryClientErrors(t *testing.T) {
	primary := failingTranscriber("primary", 400)
	secondary := failingTranscriber("secondary", 401)
	chain := NewTranscriberChain([]Transcriber{primary, secondary}, TranscriberChainOptions{Retries: 3})

	_, err := chain.Transcribe(context.Background(), testUtterance())
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("Transcribe() error = %v, want ErrTranscriptionFailed", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Transcribe() error = %v, want StatusError in chain", err)
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1 each", primary.calls.Load(), secondary.calls.Load())
	}
}

func TestTranscriberChainHonoursDeadline(t *testing.T) {
	slow := &stubTranscriber{name: "slow", transcribe: func(ctx context.Context, _ Utterance) (Transcript, error) {
		<-ctx.Done()
		return Transcript{}, ctx.Err()
	}}
	unused := failingTranscriber("unused", 500)
	chain := NewTranscriberChain([]Transcriber{slow, unused}, TranscriberChainOptions{Deadline: 50 * time.Millisecond})

	start := time.Now()
	_, err := chain.Transcribe(context.Background(), testUtterance())
	if !errors.Is(err, ErrTranscriptionFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Transcribe() took %s", elapsed)
	}
	if unused.calls.Load() != 0 {
		t.Fatalf("transcriber after the deadline was called")
	}
}

func TestTranscriberChainWithoutBackends(t *testing.T) {
	_, err := NewTranscriberChain(nil, TranscriberChainOptions{}).Transcribe(context.Background(), testUtterance())
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("Transcribe() error = %v, want ErrTranscriptionFailed", err)
	}
}
