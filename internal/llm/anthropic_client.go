package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Provider against the Anthropic Messages API.
// Selected as the extraction-endpoint vendor when the operator wants a
// cheaper/different model family than primary chat.
// Anthropic has no embeddings endpoint, so this type does not implement
// Embedder.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

func NewAnthropicClient(baseURL, apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) resolveModel(requested string) anthropic.Model {
	if requested != "" {
		return anthropic.Model(requested)
	}
	return anthropic.Model(c.model)
}

// splitSystem pulls leading system-role messages out (Anthropic takes
// system as a top-level field, not a message-list entry) and returns the
// remaining conversational turns.
func splitSystem(messages []Message) (string, []anthropic.MessageParam) {
	var system string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, turns
}

func (c *AnthropicClient) buildParams(messages []Message, opts ChatOptions) anthropic.MessageNewParams {
	system, turns := splitSystem(messages)
	maxTokens := int64(opts.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     c.resolveModel(opts.Model),
		MaxTokens: maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	return params
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error) {
	resp, err := c.client.Messages.New(ctx, c.buildParams(messages, opts))
	if err != nil {
		return ChatResult{}, fmt.Errorf("anthropic messages: %w", err)
	}
	var content string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += text.Text
		}
	}
	finish := FinishStop
	if string(resp.StopReason) == "tool_use" {
		finish = FinishToolCalls
	} else if string(resp.StopReason) == "max_tokens" {
		finish = FinishLength
	}
	return ChatResult{Message: Message{Role: RoleAssistant, Content: content}, FinishReason: finish}, nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, opts ChatOptions, handler StreamHandler) error {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(messages, opts))
	defer stream.Close()

	finish := FinishStop
	var streamErr error
streamLoop:
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := handler.OnChunk(StreamChunk{DeltaContent: delta.Text}); err != nil {
					streamErr = err
					break streamLoop
				}
			}
		case anthropic.MessageDeltaEvent:
			switch string(ev.Delta.StopReason) {
			case "tool_use":
				finish = FinishToolCalls
			case "max_tokens":
				finish = FinishLength
			}
		}
	}
	if err := stream.Err(); err != nil && streamErr == nil {
		streamErr = fmt.Errorf("anthropic message stream: %w", err)
	}
	if streamErr == nil {
		handler.OnChunk(StreamChunk{FinishReason: finish})
	}
	handler.OnDone(streamErr)
	return streamErr
}

// ListModels implements ModelLister against the Anthropic Models API, used
// by /v1/models to build the {persona} x {upstream model} cartesian
// product.
func (c *AnthropicClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic list models: %w", err)
	}
	out := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}
