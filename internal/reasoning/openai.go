package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/phoneagent/internal/reliability"
	"github.com/ent0n29/phoneagent/internal/session"
)

// Base URLs of OpenAI-compatible chat completion APIs.
const (
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OpenAIBaseURL = "https://api.openai.com/v1"
	ZAIBaseURL    = "https://api.z.ai/api/paas/v4"
)

const (
	defaultMaxTokens = 150
	maxToolRounds    = 3
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// OpenAIProvider speaks the /chat/completions protocol shared by Groq, OpenAI and z.ai.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenAIBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	client := cfg.HTTPClient
	if client == nil {
		// Deadlines come from the request context.
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIProvider{cfg: cfg, client: client}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

// StatusError is a non-2xx answer from an HTTP backend.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether the status is transient.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Respond(ctx context.Context, req Request, tools Tools) (Response, error) {
	run := newToolRun(tools)
	body := chatRequest{
		Model:     p.cfg.Model,
		Messages:  buildChatMessages(req),
		MaxTokens: p.cfg.MaxTokens,
		Tools:     buildChatTools(run.specs()),
	}
	if p.cfg.Temperature > 0 {
		t := p.cfg.Temperature
		body.Temperature = &t
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	for round := 0; ; round++ {
		if round == maxToolRounds {
			// Force a spoken answer after the last allowed tool round.
			body.Tools = nil
			body.ToolChoice = ""
		}
		msg, err := p.complete(ctx, body)
		if err != nil {
			return Response{}, run.fail(err)
		}
		if len(msg.ToolCalls) == 0 || round == maxToolRounds {
			return run.response(strings.TrimSpace(msg.Content)), nil
		}

		body.Messages = append(body.Messages, chatMessage{Role: "assistant", Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, call := range msg.ToolCalls {
			content := run.call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			body.Messages = append(body.Messages, chatMessage{Role: "tool", ToolCallID: call.ID, Content: content})
		}
		if run.finished() {
			return run.response(strings.TrimSpace(msg.Content)), nil
		}
	}
}

func (p *OpenAIProvider) complete(ctx context.Context, body chatRequest) (chatMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatMessage{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chatMessage{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		return chatMessage{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return chatMessage{}, &StatusError{Provider: p.cfg.Name, Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return chatMessage{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return chatMessage{}, fmt.Errorf("%s returned no choices", p.cfg.Name)
	}
	return out.Choices[0].Message, nil
}

func buildChatMessages(req Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: s})
	}
	for _, t := range req.History {
		role := "user"
		if t.Speaker == session.SpeakerAgent {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Text})
	}
	return append(msgs, chatMessage{Role: "user", Content: req.Transcript})
}

func buildChatTools(specs []ToolSpec) []chatTool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(specs))
	for _, s := range specs {
		out = append(out, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.JSONSchema(),
			},
		})
	}
	return out
}
