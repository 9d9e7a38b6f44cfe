package voice

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	// ErrStaleFrame marks an inbound frame dropped as a duplicate or out of order.
	ErrStaleFrame = errors.New("stale frame")
)

// Utterance is one endpointed stretch of caller speech as mono PCM16.
type Utterance struct {
	CallID     string
	PCM        []int16
	SampleRate int
	Frames     int
	StartedAt  time.Duration
	// Truncated is set when the utterance hit the maximum length instead of a pause.
	Truncated bool
}

func (u Utterance) Duration() time.Duration {
	return audio.DurationOf(len(u.PCM), u.SampleRate)
}

type Transcript struct {
	Text       string
	Confidence float64
	Provider   string
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, u Utterance) (Transcript, error)
}

// AudioChunk is a piece of synthesized mono PCM16.
type AudioChunk struct {
	PCM        []int16
	SampleRate int
}

// AudioStream is a lazy, finite sequence of synthesized audio. Next returns io.EOF after the
// last chunk. Close releases the backend and may be called at any time.
type AudioStream interface {
	Next(ctx context.Context) (AudioChunk, error)
	Close() error
}

type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// Transport is the outbound side of one call.
type Transport interface {
	SendFrame(f audio.Frame) error
	// Clear drops audio queued at the far end, used on barge-in.
	Clear() error
	Mark(name string) error
	Hangup(ctx context.Context) error
	Transfer(ctx context.Context, number string) error
}

// StatusError is a non-2xx answer from an HTTP speech backend.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}
