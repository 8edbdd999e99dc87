package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jholhewres/observer/pkg/observer/tools"
	"github.com/jholhewres/observer/pkg/observer/transcript"
)

// Config configures the OpenAI-compatible engine.
type Config struct {
	// BaseURL overrides the API endpoint (OpenRouter, local gateways, ...).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier.
	Model string `yaml:"model"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`

	// DirectiveRole is the message role directives are sent with:
	// "developer" (default) or "system".
	DirectiveRole string `yaml:"directive_role"`

	// Timeout bounds each completion request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default model parameters.
func DefaultConfig() Config {
	return Config{
		Model:         "gpt-4o-mini",
		Temperature:   0.5,
		MaxTokens:     4000,
		TopP:          1.0,
		DirectiveRole: "developer",
		Timeout:       2 * time.Minute,
	}
}

// OpenAIEngine implements Engine over the chat completions API.
type OpenAIEngine struct {
	client   openai.Client
	cfg      Config
	registry *tools.Registry
	logger   *slog.Logger
}

// NewOpenAIEngine creates the engine. registry may be nil when no tools are
// available. Extra request options are appended after the configured ones.
func NewOpenAIEngine(cfg Config, registry *tools.Registry, logger *slog.Logger, opts ...option.RequestOption) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrEngineUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.DirectiveRole == "" {
		cfg.DirectiveRole = defaults.DirectiveRole
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	if registry == nil {
		registry = tools.NewRegistry()
	}

	return &OpenAIEngine{
		client:   openai.NewClient(reqOpts...),
		cfg:      cfg,
		registry: registry,
		logger:   logger.With("component", "llm"),
	}, nil
}

// Model returns the configured model identifier.
func (e *OpenAIEngine) Model() string {
	return e.cfg.Model
}

// Reasoning performs the first completion over history.
func (e *OpenAIEngine) Reasoning(ctx context.Context, history *transcript.Transcript, policy ToolPolicy) (Session, error) {
	s := &openAISession{engine: e, history: history}
	if err := s.step(ctx, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return s, nil
}

type openAISession struct {
	engine  *OpenAIEngine
	history *transcript.Transcript
	last    transcript.Turn
}

func (s *openAISession) CanFinish() bool {
	return len(s.last.ToolCalls) == 0
}

func (s *openAISession) PendingToolCalls() []transcript.ToolCall {
	out := make([]transcript.ToolCall, len(s.last.ToolCalls))
	copy(out, s.last.ToolCalls)
	return out
}

func (s *openAISession) FinalText() (string, bool) {
	text := s.last.PlainText()
	return text, text != ""
}

func (s *openAISession) Proceed(ctx context.Context, policy ToolPolicy) error {
	for _, call := range s.last.ToolCalls {
		result := s.engine.runTool(ctx, call)
		s.history.Add(transcript.ToolResultTurn(call.ID, result))
	}
	if err := s.step(ctx, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrStepFailed, err)
	}
	return nil
}

// step requests one completion and appends the resulting assistant turn.
func (s *openAISession) step(ctx context.Context, policy ToolPolicy) error {
	turn, err := s.engine.complete(ctx, s.history.Turns(), policy)
	if err != nil {
		return err
	}
	s.history.Add(turn)
	s.last = turn
	return nil
}

func (e *OpenAIEngine) complete(ctx context.Context, turns []transcript.Turn, policy ToolPolicy) (transcript.Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:               e.cfg.Model,
		Messages:            e.convertTurns(turns),
		MaxCompletionTokens: openai.Int(int64(e.cfg.MaxTokens)),
		Temperature:         openai.Float(e.cfg.Temperature),
		TopP:                openai.Float(e.cfg.TopP),
	}
	if defs := e.convertTools(); len(defs) > 0 {
		params.Tools = defs
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(policy.String()),
		}
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return transcript.Turn{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return transcript.Turn{}, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]

	e.logger.Debug("completion finished",
		"model", e.cfg.Model,
		"policy", policy.String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	var calls []transcript.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		calls = append(calls, transcript.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return transcript.AssistantTurn(choice.Message.Content, calls...), nil
}

// runTool executes one call and returns the content of its tool turn. Tool
// failures are reported to the model, not to the caller.
func (e *OpenAIEngine) runTool(ctx context.Context, call transcript.ToolCall) string {
	start := time.Now()
	out, err := e.registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		e.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return errorResult(err.Error())
	}
	if !utf8.ValidString(out) {
		e.logger.Warn("tool result not encodable", "tool", call.Name)
		return `{"error":"result serialization failed: output is not valid UTF-8"}`
	}
	e.logger.Debug("tool finished", "tool", call.Name,
		"duration_ms", time.Since(start).Milliseconds(), "bytes", len(out))
	return out
}

func errorResult(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return fmt.Sprintf(`{"error":"result serialization failed: %s"}`, err)
	}
	return string(data)
}

func (e *OpenAIEngine) convertTurns(turns []transcript.Turn) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))

	// Tool turns whose request was evicted from the transcript would be
	// rejected by the API.
	announced := make(map[string]bool)

	for _, t := range turns {
		switch t.Role {
		case transcript.RoleUser:
			result = append(result, userMessage(t))

		case transcript.RoleDirective:
			result = append(result, e.directiveMessage(t))

		case transcript.RoleAssistant:
			text := t.PlainText()
			if len(t.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(text))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(t.ToolCalls))
			for i, tc := range t.ToolCalls {
				announced[tc.ID] = true
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			msg := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: msg})

		case transcript.RoleTool:
			if !announced[t.ToolCallID] {
				continue
			}
			result = append(result, openai.ToolMessage(t.PlainText(), t.ToolCallID))
		}
	}

	return result
}

func userMessage(t transcript.Turn) openai.ChatCompletionMessageParamUnion {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(t.Parts))
	for _, p := range t.Parts {
		switch p.Kind {
		case transcript.PartText:
			parts = append(parts, openai.TextContentPart(p.Text))
		case transcript.PartImage:
			img := openai.ChatCompletionContentPartImageImageURLParam{URL: p.URL}
			switch p.Detail {
			case transcript.DetailLow:
				img.Detail = "low"
			case transcript.DetailHigh:
				img.Detail = "high"
			}
			parts = append(parts, openai.ImageContentPart(img))
		}
	}

	msg := &openai.ChatCompletionUserMessageParam{
		Content: openai.ChatCompletionUserMessageParamContentUnion{OfArrayOfContentParts: parts},
	}
	if name := SanitizeName(t.Name); name != "" {
		msg.Name = openai.String(name)
	}
	return openai.ChatCompletionMessageParamUnion{OfUser: msg}
}

func (e *OpenAIEngine) directiveMessage(t transcript.Turn) openai.ChatCompletionMessageParamUnion {
	text := t.PlainText()
	name := SanitizeName(t.Name)

	if e.cfg.DirectiveRole == "system" {
		msg := &openai.ChatCompletionSystemMessageParam{
			Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(text)},
		}
		if name != "" {
			msg.Name = openai.String(name)
		}
		return openai.ChatCompletionMessageParamUnion{OfSystem: msg}
	}

	msg := &openai.ChatCompletionDeveloperMessageParam{
		Content: openai.ChatCompletionDeveloperMessageParamContentUnion{OfString: openai.String(text)},
	}
	if name != "" {
		msg.Name = openai.String(name)
	}
	return openai.ChatCompletionMessageParamUnion{OfDeveloper: msg}
}

func (e *OpenAIEngine) convertTools() []openai.ChatCompletionToolParam {
	defs := e.registry.Definitions()
	result := make([]openai.ChatCompletionToolParam, len(defs))
	for i, d := range defs {
		result[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.Parameters),
			},
		}
	}
	return result
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeName maps a participant name onto the characters the API accepts
// (letters, digits, '_' and '-', at most 64).
func SanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
