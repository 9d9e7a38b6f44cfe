package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ent0n29/phoneagent/internal/session"
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	Name      string
	APIKey    string
	Model     string
	MaxTokens int
}

// GeminiProvider answers turns through the Gemini API with function calling.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{cfg: cfg, client: client}, nil
}

func (p *GeminiProvider) Name() string { return p.cfg.Name }

func (p *GeminiProvider) Respond(ctx context.Context, req Request, tools Tools) (Response, error) {
	run := newToolRun(tools)
	contents := buildGeminiContents(req)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.cfg.MaxTokens),
	}
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		config.SystemInstruction = genai.NewContentFromText(s, genai.RoleUser)
	}
	if decls := buildGeminiTools(run.specs()); len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	for round := 0; ; round++ {
		if round == maxToolRounds {
			config.Tools = nil
		}
		resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
		if err != nil {
			return Response{}, run.fail(fmt.Errorf("gemini generate: %w", err))
		}
		calls := resp.FunctionCalls()
		if len(calls) == 0 || round == maxToolRounds {
			return run.response(strings.TrimSpace(resp.Text())), nil
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		for _, call := range calls {
			args, _ := json.Marshal(call.Args)
			content := run.call(ctx, call.Name, args)
			contents = append(contents, genai.NewContentFromFunctionResponse(call.Name, map[string]any{"result": content}, genai.RoleUser))
		}
		if run.finished() {
			return run.response(""), nil
		}
	}
}

func buildGeminiContents(req Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		var role genai.Role = genai.RoleUser
		if t.Speaker == session.SpeakerAgent {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Text, role))
	}
	return append(out, genai.NewContentFromText(req.Transcript, genai.RoleUser))
}

func buildGeminiTools(specs []ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(s.Params)),
		}
		for _, param := range s.Params {
			schema.Properties[param.Name] = &genai.Schema{Type: geminiType(param.Type), Description: param.Description}
			if param.Required {
				schema.Required = append(schema.Required, param.Name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  schema,
		})
	}
	return out
}

func geminiType(t ParamType) genai.Type {
	switch t {
	case ParamNumber:
		return genai.TypeNumber
	case ParamInteger:
		return genai.TypeInteger
	default:
		return genai.TypeString
	}
}
