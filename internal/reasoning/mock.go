package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MockProvider gives deterministic local replies when no model backend is configured.
// It calls the same tools a real model would for the few intents it recognizes.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

var (
	mockPriceRe    = regexp.MustCompile(`(?i)(?:under|below|less than|max(?:imum)?)\s*\$?\s*([0-9][0-9,]*)\s*(k|thousand)?`)
	mockBedroomsRe = regexp.MustCompile(`(?i)([0-9]+)\s*(?:bed|bedroom)`)
	mockCities     = []string{"Dallas", "Austin", "Houston", "San Antonio", "Plano", "Fort Worth"}
)

func (p *MockProvider) Respond(ctx context.Context, req Request, tools Tools) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	run := newToolRun(tools)
	text := strings.TrimSpace(req.Transcript)
	lower := strings.ToLower(text)
	switch {
	case text == "":
		return run.response("I am listening."), nil
	case containsAny(lower, "human", "real person", "representative", "agent please"):
		run.call(ctx, ToolTransferCall, json.RawMessage(`{"reason":"caller asked for a human"}`))
		return run.response(""), nil
	case containsAny(lower, "goodbye", "bye", "that's all", "no thanks"):
		run.call(ctx, ToolEndCall, json.RawMessage(`{"summary":"caller finished"}`))
		return run.response(""), nil
	case containsAny(lower, "house", "home", "condo", "apartment", "bedroom", "property", "listing"):
		args, _ := json.Marshal(mockSearchArgs(text))
		summary := run.call(ctx, ToolPropertySearch, args)
		return run.response(speakSummary(summary)), nil
	default:
		return run.response(fmt.Sprintf("I heard you: %s. Are you looking to buy a home?", text)), nil
	}
}

func mockSearchArgs(text string) propertySearchArgs {
	args := propertySearchArgs{Query: text}
	if m := mockPriceRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if m[2] != "" {
			v *= 1000
		}
		args.MaxPrice = v
	}
	if m := mockBedroomsRe.FindStringSubmatch(text); m != nil {
		args.MinBedrooms, _ = strconv.Atoi(m[1])
	}
	for _, c := range mockCities {
		if strings.Contains(strings.ToLower(text), strings.ToLower(c)) {
			args.City = c
			break
		}
	}
	return args
}

// speakSummary turns the numbered search summary into one spoken sentence.
func speakSummary(summary string) string {
	lines := strings.Split(summary, "\n")
	if len(lines) < 2 {
		return "I couldn't find anything matching that. Would you like to widen the search?"
	}
	first := strings.TrimSpace(lines[1])
	if i := strings.Index(first, ". "); i >= 0 {
		first = first[i+2:]
	}
	if len(lines) == 2 {
		return fmt.Sprintf("I found one option: %s.", first)
	}
	return fmt.Sprintf("I found %d options. The top one is %s.", len(lines)-1, first)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
