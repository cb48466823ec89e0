// Package openai provides two model-facing adapters backed by
// github.com/openai/openai-go: a Chat Completions model.Client (Complete
// only; OpenAI's Assistants streaming loop is the native shape for the
// hosted flavor, not Chat Completions deltas) and, in assistant.go, the
// Assistants-API run loop the hosted flavor actually drives (spec.md §4.1
// "Hosted flavor").
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/advantch/agentrun/model"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// Chat Completions adapter, so tests can substitute a fake.
	ChatClient interface {
		New(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
	}

	// Options configures the Chat Completions adapter.
	Options struct {
		Client       ChatClient
		DefaultModel string
	}

	// Client implements model.Client via OpenAI's Chat Completions API.
	Client struct {
		chat  ChatClient
		model string
	}
)

// New builds a Chat Completions model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using openai-go's default HTTP client,
// authenticated with apiKey; other settings come from the SDK's own option
// defaults.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: chatCompletionsService{&c.Chat.Completions}, DefaultModel: defaultModel})
}

// chatCompletionsService adapts *sdk.ChatCompletionService to ChatClient.
type chatCompletionsService struct {
	svc *sdk.ChatCompletionService
}

func (s chatCompletionsService) New(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return s.svc.New(ctx, params)
}

// Complete renders a chat completion using the configured client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter does not support Chat Completions
// streaming deltas. The hosted flavor drives OpenAI through the Assistants
// run loop in assistant.go instead, which natively streams.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func encodeMessages(msgs []model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text()
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(text))
		case model.RoleUser:
			out = append(out, sdk.UserMessage(text))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(text))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) []sdk.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  rawSchemaParams(def.InputSchema),
			},
		})
	}
	return out
}

func rawSchemaParams(raw json.RawMessage) sdk.FunctionParameters {
	if len(raw) == 0 {
		return nil
	}
	var params sdk.FunctionParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}

func translateResponse(resp *sdk.ChatCompletion) *model.Response {
	out := &model.Response{}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	if text := choice.Message.Content; text != "" {
		out.Message = model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	out.StopReason = string(choice.FinishReason)
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}
