package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/reliability"
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, e.Body)
}

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// TranscriberChainOptions tunes the transcription fallback chain.
type TranscriberChainOptions struct {
	// Deadline bounds the whole chain.
	Deadline time.Duration
	// Retries is how many times a retryable failure is retried on the same transcriber.
	Retries     int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// TranscriberChain tries transcribers in order under one deadline. Transient HTTP failures are
// retried on the same backend while budget remains; anything else moves to the next backend.
type TranscriberChain struct {
	transcribers []Transcriber
	opts         TranscriberChainOptions
	logger       *slog.Logger
}

func NewTranscriberChain(transcribers []Transcriber, opts TranscriberChainOptions) *TranscriberChain {
	if opts.Deadline <= 0 {
		opts.Deadline = 500 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 25 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriberChain{transcribers: transcribers, opts: opts, logger: logger}
}

func (c *TranscriberChain) Name() string {
	names := make([]string, 0, len(c.transcribers))
	for _, t := range c.transcribers {
		names = append(names, t.Name())
	}
	return strings.Join(names, ">")
}

func (c *TranscriberChain) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Deadline)
	defer cancel()
	ctx, rec := observability.StartStage(ctx, c.opts.Metrics, observability.StageTranscription,
		attribute.String("call.id", u.CallID),
		attribute.Int("utterance.frames", u.Frames))

	var errs []error
	for _, t := range c.transcribers {
		for attempt := 0; ; attempt++ {
			tr, err := t.Transcribe(ctx, u)
			if err == nil {
				tr.Text = strings.TrimSpace(tr.Text)
				if tr.Provider == "" {
					tr.Provider = t.Name()
				}
				c.opts.Metrics.ProviderAttempt(observability.StageTranscription, t.Name(), "ok")
				rec.SetAttributes(attribute.String("transcription.provider", tr.Provider))
				rec.End(nil)
				return tr, nil
			}

			c.opts.Metrics.ProviderAttempt(observability.StageTranscription, t.Name(), observability.FailureReason(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			if ctx.Err() != nil {
				err := fmt.Errorf("%w: %w", ErrTranscriptionFailed, errors.Join(errs...))
				rec.End(err)
				return Transcript{}, err
			}
			if attempt >= c.opts.Retries || !reliability.IsRetryable(err) {
				break
			}
			backoff := reliability.ExponentialBackoff(attempt, c.opts.BackoffBase, c.opts.BackoffCap)
			c.logger.Debug("retrying transcription", "call_id", u.CallID, "transcriber", t.Name(), "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
		}
	}

	if len(c.transcribers) == 0 {
		errs = append(errs, errors.New("no transcribers configured"))
	}
	err := fmt.Errorf("%w: %w", ErrTranscriptionFailed, errors.Join(errs...))
	rec.End(err)
	return Transcript{}, err
}
