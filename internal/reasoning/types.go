package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ent0n29/phoneagent/internal/session"
)

// ErrReasoningFailed marks a failed reasoning attempt or an exhausted chain.
var ErrReasoningFailed = errors.New("reasoning failed")

// Action is what the agent wants done with the call after speaking.
type Action string

const (
	ActionContinue Action = "continue"
	ActionTransfer Action = "transfer"
	ActionEnd      Action = "end"
)

// Request is one conversational turn sent to a reasoning backend.
type Request struct {
	CallID       string
	SystemPrompt string
	History      []session.TurnRecord
	Transcript   string
	// Deadline is the end of the shared budget; it is also set on the attempt context.
	Deadline time.Time
}

// Response is a backend's answer.
type Response struct {
	Text         string
	ToolCalls    int
	Action       Action
	ActionReason string
}

// Provider is one reasoning backend. Respond must honor ctx cancellation and deadline.
type Provider interface {
	Name() string
	Respond(ctx context.Context, req Request, tools Tools) (Response, error)
}

// Tools executes the tool calls a provider receives from its model.
type Tools interface {
	Specs() []ToolSpec
	Call(ctx context.Context, name string, args json.RawMessage) ToolResult
}

// ToolResult is the outcome of one tool call. Content is always fed back to the model;
// Err records a failure of the underlying capability.
type ToolResult struct {
	Content string
	Action  Action
	Reason  string
	Err     error
}

// Result is the orchestrator's answer for a turn. It never carries a Go error to the caller;
// Err is informational when Fallback is set.
type Result struct {
	Text      string
	Provider  string
	Elapsed   time.Duration
	ToolCalls int
	Action    Action
	Fallback  bool
	Cancelled bool
	Err       error
}
