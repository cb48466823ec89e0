package openai

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"

	"github.com/advantch/agentrun/model"
)

type fakeChatClient struct {
	resp    *sdk.ChatCompletion
	err     error
	lastReq sdk.ChatCompletionNewParams
}

func (f *fakeChatClient) New(_ context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	f.lastReq = params
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestNewRequiresClientAndDefaultModel(t *testing.T) {
	if _, err := New(Options{DefaultModel: "gpt-4o"}); err == nil {
		t.Fatal("expected error for missing client")
	}
	if _, err := New(Options{Client: &fakeChatClient{}}); err == nil {
		t.Fatal("expected error for missing default model")
	}
}

func TestCompleteTranslatesTextAndToolCalls(t *testing.T) {
	fake := &fakeChatClient{
		resp: &sdk.ChatCompletion{
			Choices: []sdk.ChatCompletionChoice{
				{
					FinishReason: "tool_calls",
					Message: sdk.ChatCompletionMessage{
						Content: "checking the weather",
						ToolCalls: []sdk.ChatCompletionMessageToolCall{
							{
								ID: "call_1",
								Function: sdk.ChatCompletionMessageToolCallFunction{
									Name:      "get_weather",
									Arguments: `{"city":"nyc"}`,
								},
							},
						},
					},
				},
			},
			Usage: sdk.CompletionUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		},
	}
	client, err := New(Options{Client: fake, DefaultModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := client.Complete(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Message.Text() != "checking the weather" {
		t.Fatalf("expected translated text, got %q", resp.Message.Text())
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("expected one get_weather tool call, got %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Fatalf("expected total tokens 20, got %d", resp.Usage.TotalTokens)
	}
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	client, _ := New(Options{Client: &fakeChatClient{}, DefaultModel: "gpt-4o"})
	if _, err := client.Complete(context.Background(), &model.Request{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestStreamReturnsUnsupported(t *testing.T) {
	client, _ := New(Options{Client: &fakeChatClient{}, DefaultModel: "gpt-4o"})
	if _, err := client.Stream(context.Background(), &model.Request{}); err != model.ErrStreamingUnsupported {
		t.Fatalf("expected ErrStreamingUnsupported, got %v", err)
	}
}
