package calllog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/session"
)

type RecorderOptions struct {
	QueueSize int
	// WriteTimeout bounds each store call.
	WriteTimeout time.Duration
	RedactPII    bool
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

type op struct {
	name  string
	apply func(ctx context.Context) error
}

// Recorder forwards call log events to a Store on a background worker. Every method returns
// immediately; store failures and a full queue are logged and counted but never reported back.
type Recorder struct {
	store     Store
	opts      RecorderOptions
	logger    *slog.Logger
	queue     chan op
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewRecorder(store Store, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		opts:   opts,
		logger: logger.With("component", "calllog"),
		queue:  make(chan op, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) CallStarted(rec CallRecord) {
	r.enqueue(op{name: "start_call", apply: func(ctx context.Context) error {
		return r.store.StartCall(ctx, rec)
	}})
}

func (r *Recorder) TurnRecorded(callID string, rec session.TurnRecord) {
	turn := Turn{CallID: callID, TurnRecord: rec}
	if r.opts.RedactPII {
		turn.Text, turn.PIIRedacted = RedactPII(turn.Text)
	}
	r.enqueue(op{name: "append_turn", apply: func(ctx context.Context) error {
		return r.store.AppendTurn(ctx, turn)
	}})
}

func (r *Recorder) CallFinished(summary Summary) {
	if r.opts.RedactPII {
		summary.Transcript, _ = RedactPII(summary.Transcript)
	}
	r.enqueue(op{name: "finish_call", apply: func(ctx context.Context) error {
		return r.store.FinishCall(ctx, summary)
	}})
}

func (r *Recorder) enqueue(o op) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.opts.Metrics.CallLogDropped()
		r.logger.Warn("call log event dropped after close", "op", o.name)
		return
	}
	select {
	case r.queue <- o:
	default:
		r.opts.Metrics.CallLogDropped()
		r.logger.Warn("call log queue full; event dropped", "op", o.name)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for o := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		if err := o.apply(ctx); err != nil {
			r.logger.Warn("call log write failed", "op", o.name, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to drain, or for ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return r.store.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}
