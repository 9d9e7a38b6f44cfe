package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/phoneagent/internal/search"
	"github.com/ent0n29/phoneagent/internal/session"
)

func TestOpenAIProviderRunsToolRound(t *testing.T) {
	var requests []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, req)
		w.Header().Set("Content-Type", "application/json")
		if len(requests) == 1 {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"property_search","arguments":"{\"query\":\"starter home\",\"city\":\"Dallas\",\"max_price\":400000}"}}]}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"The Cozy Starter Home in Dallas is listed at 320 thousand."}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{Name: "groq", BaseURL: srv.URL + "/", APIKey: "secret", Model: "llama"})
	tb := NewToolbox(search.NewMemorySearcher(nil), ToolboxOptions{})
	resp, err := p.Respond(context.Background(), Request{
		SystemPrompt: "be brief",
		History:      []session.TurnRecord{{Speaker: session.SpeakerAgent, Text: "Hello!"}},
		Transcript:   "starter home in Dallas",
	}, tb)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp.ToolCalls != 1 || !strings.Contains(resp.Text, "Cozy Starter Home") {
		t.Fatalf("resp = %+v", resp)
	}
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(requests))
	}

	first := requests[0]
	if first.MaxTokens != defaultMaxTokens || len(first.Tools) != 3 || first.ToolChoice != "auto" {
		t.Fatalf("first request = %+v", first)
	}
	roles := []string{}
	for _, m := range first.Messages {
		roles = append(roles, m.Role)
	}
	if strings.Join(roles, ",") != "system,assistant,user" {
		t.Fatalf("roles = %v", roles)
	}

	last := requests[1].Messages[len(requests[1].Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" || !strings.Contains(last.Content, "Cozy Starter Home") {
		t.Fatalf("tool message = %+v", last)
	}
}

func TestOpenAIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{Name: "groq", BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := p.Respond(context.Background(), Request{Transcript: "hi"}, nil)
	if !errors.Is(err, ErrReasoningFailed) {
		t.Fatalf("err = %v, want ErrReasoningFailed", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || !se.Retryable() {
		t.Fatalf("err = %v, want retryable StatusError 429", err)
	}
}

func TestOpenAIProviderEndCallStopsToolLoop(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Goodbye!","tool_calls":[{"id":"c","type":"function","function":{"name":"end_call","arguments":"{}"}}]}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	resp, err := p.Respond(context.Background(), Request{Transcript: "bye"}, NewToolbox(nil, ToolboxOptions{}))
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if calls != 1 || resp.Action != ActionEnd || resp.Text != "Goodbye!" {
		t.Fatalf("calls = %d, resp = %+v", calls, resp)
	}
}

func TestNewProviderValidation(t *testing.T) {
	if _, err := NewProvider(context.Background(), ProviderConfig{Kind: "groq"}); err == nil {
		t.Fatalf("NewProvider() expected error without api key")
	}
	if _, err := NewProvider(context.Background(), ProviderConfig{Kind: "carrier-pigeon"}); err == nil {
		t.Fatalf("NewProvider() expected error for unknown kind")
	}
	p, err := NewProvider(context.Background(), ProviderConfig{Kind: "groq", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Name() != "groq" {
		t.Fatalf("Name() = %q", p.Name())
	}

	chain := NewChain(context.Background(), []ProviderConfig{{Kind: "openai"}}, nil)
	if len(chain) != 1 || chain[0].Name() != "mock" {
		t.Fatalf("NewChain() = %v, want mock fallback", chain)
	}
}
