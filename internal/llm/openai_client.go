package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat/embeddings endpoint.
// Streaming goes over a raw HTTP request decoded by decodeSSE rather than
// the SDK's typed stream, so provider-specific delta fields survive the
// relay untouched.
type OpenAIClient struct {
	client  openai.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIClient builds a client against baseURL (empty uses the
// provider's default) authenticated with apiKey, defaulting unary and
// streaming calls to model when ChatOptions.Model is empty.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{client: openai.NewClient(opts...), baseURL: baseURL, apiKey: apiKey, model: model}
}

func (c *OpenAIClient) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return c.model
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, ""))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.resolveModel(opts.Model),
		Messages: toOpenAIMessages(messages),
	}
	if opts.Temperature != 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens != 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.ResponseFormat == "json" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResult{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("openai chat completion: empty choices")
	}
	choice := resp.Choices[0]
	return ChatResult{
		Message:      Message{Role: RoleAssistant, Content: choice.Message.Content},
		FinishReason: FinishReason(choice.FinishReason),
	}, nil
}

// ChatStream issues a raw streaming chat-completion request and relays
// each SSE delta through handler in arrival order. The wire body is built
// by hand rather than through the SDK so the response can be decoded with
// decodeSSE: stop on [DONE], skip malformed JSON lines, preserve
// provider-specific delta fields.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, opts ChatOptions, handler StreamHandler) error {
	wireMessages := make([]map[string]string, len(messages))
	for i, m := range messages {
		wireMessages[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}
	body := map[string]any{
		"model":    c.resolveModel(opts.Model),
		"messages": wireMessages,
		"stream":   true,
	}
	if opts.Temperature != 0 {
		body["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai chat stream: marshal request: %w", err)
	}
	url := strings.TrimSuffix(c.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("openai chat stream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		streamErr := fmt.Errorf("openai chat stream: %w", err)
		handler.OnDone(streamErr)
		return streamErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		streamErr := fmt.Errorf("openai chat stream: status %d: %s", resp.StatusCode, string(b))
		handler.OnDone(streamErr)
		return streamErr
	}

	return decodeSSE(resp.Body, handler)
}

// ListModels implements ModelLister against the OpenAI-compatible /models
// endpoint, used by /v1/models to build the {persona} x {upstream model}
// cartesian product.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai list models: %w", err)
	}
	out := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

// Embed implements Embedder against the OpenAI-compatible embeddings
// endpoint, one call per batch since the endpoint accepts input as a
// string array.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.resolveModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
