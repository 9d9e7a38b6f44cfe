package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/search"
)

// Tool names exposed to the models.
const (
	ToolPropertySearch = "property_search"
	ToolTransferCall   = "transfer_call"
	ToolEndCall        = "end_call"
)

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
)

type ToolParam struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// ToolSpec declares a tool independently of any provider's wire format.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

// JSONSchema renders the parameters as a JSON Schema object.
func (s ToolSpec) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		props[p.Name] = map[string]any{"type": string(p.Type), "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	raw, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return raw
}

var toolSpecs = []ToolSpec{
	{
		Name:        ToolPropertySearch,
		Description: "Search property listings matching the caller's criteria. Returns a short summary of the best matches.",
		Params: []ToolParam{
			{Name: "query", Type: ParamString, Description: "Natural language description of the desired property", Required: true},
			{Name: "max_price", Type: ParamNumber, Description: "Maximum price budget in dollars"},
			{Name: "min_bedrooms", Type: ParamInteger, Description: "Minimum number of bedrooms"},
			{Name: "city", Type: ParamString, Description: "Preferred city"},
		},
	},
	{
		Name:        ToolTransferCall,
		Description: "Transfer the caller to a human agent.",
		Params: []ToolParam{
			{Name: "reason", Type: ParamString, Description: "Why the caller needs a human"},
		},
	},
	{
		Name:        ToolEndCall,
		Description: "End the call politely once the caller is done.",
		Params: []ToolParam{
			{Name: "summary", Type: ParamString, Description: "One sentence summary of the call"},
		},
	},
}

// ToolboxOptions tunes how much of the remaining reasoning budget a search may use.
type ToolboxOptions struct {
	// BudgetShare is the fraction of the remaining deadline given to one search call.
	BudgetShare float64
	// MinBudget is the smallest slice worth attempting a search with.
	MinBudget time.Duration
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Toolbox implements Tools over a property Searcher.
type Toolbox struct {
	searcher search.Searcher
	opts     ToolboxOptions
	logger   *slog.Logger
}

func NewToolbox(searcher search.Searcher, opts ToolboxOptions) *Toolbox {
	if opts.BudgetShare <= 0 || opts.BudgetShare > 1 {
		opts.BudgetShare = 0.5
	}
	if opts.MinBudget <= 0 {
		opts.MinBudget = 50 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{searcher: searcher, opts: opts, logger: logger}
}

func (t *Toolbox) Specs() []ToolSpec {
	if t.searcher == nil {
		return toolSpecs[1:]
	}
	return toolSpecs
}

type propertySearchArgs struct {
	Query       string  `json:"query"`
	MaxPrice    float64 `json:"max_price"`
	MinBedrooms int     `json:"min_bedrooms"`
	City        string  `json:"city"`
}

func (t *Toolbox) Call(ctx context.Context, name string, args json.RawMessage) ToolResult {
	switch name {
	case ToolPropertySearch:
		return t.search(ctx, args)
	case ToolTransferCall:
		var a struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(args, &a)
		return ToolResult{Content: "Transfer requested.", Action: ActionTransfer, Reason: a.Reason}
	case ToolEndCall:
		var a struct {
			Summary string `json:"summary"`
		}
		_ = json.Unmarshal(args, &a)
		return ToolResult{Content: "Call will end after your goodbye.", Action: ActionEnd, Reason: a.Summary}
	default:
		return ToolResult{Content: fmt.Sprintf("Unknown tool %q.", name), Err: fmt.Errorf("unknown tool %q", name)}
	}
}

func (t *Toolbox) search(ctx context.Context, raw json.RawMessage) ToolResult {
	if t.searcher == nil {
		return ToolResult{Content: "Property search is not available.", Err: search.ErrSearchFailed}
	}
	var args propertySearchArgs
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return ToolResult{Content: "property_search needs a query.", Err: fmt.Errorf("%w: bad arguments %s", search.ErrSearchFailed, raw)}
	}

	budget := t.opts.MinBudget
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Duration(float64(time.Until(deadline)) * t.opts.BudgetShare)
	}
	if budget < t.opts.MinBudget {
		return ToolResult{
			Content: "There is no time left to search; ask the caller to hold on or narrow the request.",
			Err:     fmt.Errorf("%w: %s left in budget", search.ErrSearchFailed, budget),
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	searchCtx, rec := observability.StartStage(searchCtx, t.opts.Metrics, observability.StageSearch)
	results, err := t.searcher.Search(searchCtx, search.Query{
		Text:        args.Query,
		MaxPrice:    args.MaxPrice,
		MinBedrooms: args.MinBedrooms,
		City:        args.City,
	})
	rec.End(err)
	if err != nil {
		t.logger.Warn("property search failed", "query", args.Query, "budget", budget, "error", err)
		return ToolResult{
			Content: "Search is unavailable right now. Apologize briefly and offer to try again or transfer to an agent.",
			Err:     fmt.Errorf("%w: %w", search.ErrSearchFailed, err),
		}
	}
	return ToolResult{Content: search.Summarize(results)}
}

// toolRun tracks the tool calls of one provider attempt.
type toolRun struct {
	tools  Tools
	calls  int
	action Action
	reason string
	errs   []error
}

func newToolRun(tools Tools) *toolRun {
	return &toolRun{tools: tools, action: ActionContinue}
}

func (r *toolRun) specs() []ToolSpec {
	if r.tools == nil {
		return nil
	}
	return r.tools.Specs()
}

func (r *toolRun) call(ctx context.Context, name string, args json.RawMessage) string {
	r.calls++
	if r.tools == nil {
		return "Tools are not available."
	}
	res := r.tools.Call(ctx, name, args)
	if res.Err != nil {
		r.errs = append(r.errs, res.Err)
	}
	if res.Action != "" && res.Action != ActionContinue {
		r.action = res.Action
		r.reason = res.Reason
	}
	return res.Content
}

// finished reports whether a tool ended the conversation turn.
func (r *toolRun) finished() bool {
	return r.action != ActionContinue
}

func (r *toolRun) response(text string) Response {
	return Response{Text: text, ToolCalls: r.calls, Action: r.action, ActionReason: r.reason}
}

// fail wraps err as a reasoning failure, joining tool errors that happened on the way.
func (r *toolRun) fail(err error) error {
	all := append([]error{err}, r.errs...)
	return fmt.Errorf("%w: %w", ErrReasoningFailed, errors.Join(all...))
}
