package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/session"
)

const (
	defaultDeadline    = 2 * time.Second
	defaultMinAttempt  = 50 * time.Millisecond
	defaultHistorySize = 12
)

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	// Deadline is the shared budget for the whole chain, tool calls included.
	Deadline time.Duration
	// AttemptTimeout optionally caps one provider attempt below the remaining budget.
	AttemptTimeout time.Duration
	// MinAttempt is the smallest remaining budget worth starting another provider with.
	MinAttempt time.Duration
	// HistoryTurns limits how many past turns are sent to a provider.
	HistoryTurns int

	SystemPrompt string
	FallbackText string
	TransferText string
	GoodbyeText  string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs an ordered provider chain under one shared deadline.
type Orchestrator struct {
	providers []Provider
	tools     Tools
	opts      Options
	logger    *slog.Logger
}

func NewOrchestrator(providers []Provider, tools Tools, opts Options) *Orchestrator {
	if opts.Deadline <= 0 {
		opts.Deadline = defaultDeadline
	}
	if opts.MinAttempt <= 0 {
		opts.MinAttempt = defaultMinAttempt
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistorySize
	}
	if strings.TrimSpace(opts.FallbackText) == "" {
		opts.FallbackText = "Could you repeat that?"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{providers: providers, tools: tools, opts: opts, logger: logger}
}

// Providers returns the chain names in attempt order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Respond answers transcript within the shared deadline. It never fails: when every provider
// fails or the budget runs out it returns the fallback phrase with Fallback set. Cancellation
// of ctx by the caller is reported through Cancelled.
func (o *Orchestrator) Respond(ctx context.Context, callID string, history []session.TurnRecord, transcript string) Result {
	start := time.Now()
	budgetCtx, cancel := context.WithTimeout(ctx, o.opts.Deadline)
	defer cancel()
	deadline, _ := budgetCtx.Deadline()

	budgetCtx, rec := observability.StartStage(budgetCtx, o.opts.Metrics, observability.StageReasoning,
		attribute.String("call.id", callID))

	req := Request{
		CallID:       callID,
		SystemPrompt: o.opts.SystemPrompt,
		History:      trimHistory(history, o.opts.HistoryTurns),
		Transcript:   transcript,
		Deadline:     deadline,
	}

	var errs []error
	for _, p := range o.providers {
		remaining := time.Until(deadline)
		if remaining < o.opts.MinAttempt {
			errs = append(errs, fmt.Errorf("%s: skipped with %s left: %w", p.Name(), remaining.Round(time.Millisecond), context.DeadlineExceeded))
			o.opts.Metrics.ProviderAttempt(observability.StageReasoning, p.Name(), "skipped")
			break
		}

		resp, err := o.attempt(budgetCtx, p, req, remaining)
		if ctx.Err() != nil {
			rec.End(ctx.Err())
			return Result{Provider: p.Name(), Elapsed: time.Since(start), Cancelled: true, Err: ctx.Err()}
		}
		if err == nil && strings.TrimSpace(resp.Text) == "" && resp.Action == ActionContinue {
			err = fmt.Errorf("%w: empty response", ErrReasoningFailed)
		}
		if err != nil {
			o.opts.Metrics.ProviderAttempt(observability.StageReasoning, p.Name(), observability.FailureReason(err))
			o.logger.Warn("reasoning provider failed",
				"call_id", callID,
				"provider", p.Name(),
				"elapsed", time.Since(start).Round(time.Millisecond),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		o.opts.Metrics.ProviderAttempt(observability.StageReasoning, p.Name(), "ok")
		rec.SetAttributes(attribute.String("reasoning.provider", p.Name()), attribute.Int("reasoning.tool_calls", resp.ToolCalls))
		rec.End(nil)
		return Result{
			Text:      o.spokenText(resp),
			Provider:  p.Name(),
			Elapsed:   time.Since(start),
			ToolCalls: resp.ToolCalls,
			Action:    resp.Action,
		}
	}

	if len(o.providers) == 0 {
		errs = append(errs, errors.New("no reasoning providers configured"))
	}
	err := fmt.Errorf("%w: %w", ErrReasoningFailed, errors.Join(errs...))
	rec.End(err)
	o.logger.Error("reasoning chain exhausted", "call_id", callID, "error", err)
	return Result{
		Text:     o.opts.FallbackText,
		Elapsed:  time.Since(start),
		Action:   ActionContinue,
		Fallback: true,
		Err:      err,
	}
}

func (o *Orchestrator) attempt(ctx context.Context, p Provider, req Request, remaining time.Duration) (Response, error) {
	attemptCtx := ctx
	if o.opts.AttemptTimeout > 0 && o.opts.AttemptTimeout < remaining {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.opts.AttemptTimeout)
		defer cancel()
	}
	resp, err := p.Respond(attemptCtx, req, o.tools)
	if err == nil && attemptCtx.Err() != nil {
		// A late answer past the budget is discarded.
		err = attemptCtx.Err()
	}
	if resp.Action == "" {
		resp.Action = ActionContinue
	}
	return resp, err
}

// spokenText replaces the model's words with the scripted line for terminal actions.
func (o *Orchestrator) spokenText(resp Response) string {
	switch resp.Action {
	case ActionTransfer:
		if o.opts.TransferText != "" {
			return o.opts.TransferText
		}
	case ActionEnd:
		if o.opts.GoodbyeText != "" {
			return o.opts.GoodbyeText
		}
	}
	return strings.TrimSpace(resp.Text)
}

func trimHistory(history []session.TurnRecord, max int) []session.TurnRecord {
	out := make([]session.TurnRecord, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		out = append(out, t)
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
