package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryproxy/memoryproxy/internal/llm"
)

type stubProvider struct {
	response string
	err      error
}

func (s stubProvider) Chat(context.Context, []llm.Message, llm.ChatOptions) (llm.ChatResult, error) {
	if s.err != nil {
		return llm.ChatResult{}, s.err
	}
	return llm.ChatResult{Message: llm.Message{Role: llm.RoleAssistant, Content: s.response}}, nil
}

func (s stubProvider) ChatStream(context.Context, []llm.Message, llm.ChatOptions, llm.StreamHandler) error {
	return nil
}

func TestGateDefaultsToTrueOnMalformedJSON(t *testing.T) {
	eng := New(stubProvider{response: "not json"}, "gate-model")
	result, err := eng.Gate(context.Background(), "hi", "hello", nil)
	require.NoError(t, err)
	require.True(t, result.ShouldExtract)
}

func TestGateParsesWellFormedResponse(t *testing.T) {
	eng := New(stubProvider{response: `{"should_extract": false, "reason": "nothing new"}`}, "gate-model")
	result, err := eng.Gate(context.Background(), "hi", "hello", nil)
	require.NoError(t, err)
	require.False(t, result.ShouldExtract)
	require.Equal(t, "nothing new", result.Reason)
}

func TestExtractDropsWholeBatchOnMalformedJSON(t *testing.T) {
	eng := New(stubProvider{response: "{not valid"}, "extract-model")
	_, err := eng.Extract(context.Background(), "conversation", time.Now(), "")
	require.ErrorIs(t, err, ErrMalformedExtraction)
}

func TestExtractDropsBatchWhenMissingRequiredKey(t *testing.T) {
	eng := New(stubProvider{response: `{"memories": []}`}, "extract-model")
	_, err := eng.Extract(context.Background(), "conversation", time.Now(), "")
	require.ErrorIs(t, err, ErrMalformedExtraction)
}

func TestExtractParsesFullPayload(t *testing.T) {
	payload := `{
		"memories": [{"content": "went to Kyoto", "event_time": "2025-03-08T10:00:00+09:00"}],
		"entities": [{"name": "Kyoto", "type": "place"}],
		"relations": []
	}`
	eng := New(stubProvider{response: payload}, "extract-model")
	result, err := eng.Extract(context.Background(), "conversation", time.Now(), "")
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	require.Equal(t, "went to Kyoto", result.Memories[0].Content)
	require.NotNil(t, result.Memories[0].EventTime)
	require.True(t, result.Memories[0].EventTime.Equal(time.Date(2025, 3, 8, 10, 0, 0, 0, result.Memories[0].EventTime.Location())))
	require.Len(t, result.Entities, 1)
	require.Equal(t, "Kyoto", result.Entities[0].Name)
}

func TestExtractPreservesLocalTimeZoneOffset(t *testing.T) {
	payload := `{"memories": [{"content": "x", "event_time": "2025-03-08T10:00:00+09:00"}], "entities": [], "relations": []}`
	eng := New(stubProvider{response: payload}, "extract-model")
	result, err := eng.Extract(context.Background(), "c", time.Now(), "")
	require.NoError(t, err)
	_, offset := result.Memories[0].EventTime.Zone()
	require.Equal(t, 9*60*60, offset)
}
