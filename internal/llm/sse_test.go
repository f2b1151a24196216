package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// collectingHandler records every chunk and the terminal error for
// assertions.
type collectingHandler struct {
	chunks []StreamChunk
	done   bool
	err    error
}

func (h *collectingHandler) OnChunk(chunk StreamChunk) error {
	h.chunks = append(h.chunks, chunk)
	return nil
}

func (h *collectingHandler) OnDone(err error) {
	h.done = true
	h.err = err
}

func TestDecodeSSEStopsAtDoneSentinel(t *testing.T) {
	stream := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
			"data: [DONE]\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"never seen\"}}]}\n\n")

	h := &collectingHandler{}
	require.NoError(t, decodeSSE(stream, h))
	require.True(t, h.done)
	require.NoError(t, h.err)

	var full strings.Builder
	for _, c := range h.chunks {
		full.WriteString(c.DeltaContent)
	}
	require.Equal(t, "hello", full.String())
	require.Equal(t, FinishStop, h.chunks[len(h.chunks)-1].FinishReason)
}

func TestDecodeSSESkipsMalformedJSONLines(t *testing.T) {
	stream := strings.NewReader(
		"data: {not json at all\n\n" +
			": comment line\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":null}]}\n\n" +
			"data: [DONE]\n\n")

	h := &collectingHandler{}
	require.NoError(t, decodeSSE(stream, h))
	require.Len(t, h.chunks, 1)
	require.Equal(t, "ok", h.chunks[0].DeltaContent)
}

func TestDecodeSSEPreservesProviderSpecificDeltaFields(t *testing.T) {
	stream := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\"}]},\"finish_reason\":null}]}\n\n" +
			"data: [DONE]\n\n")

	h := &collectingHandler{}
	require.NoError(t, decodeSSE(stream, h))
	require.Len(t, h.chunks, 1)
	require.Empty(t, h.chunks[0].DeltaContent)
	require.Contains(t, string(h.chunks[0].RawDelta), "call_1")
}

func TestDecodeSSEEmptyStreamYieldsNoChunks(t *testing.T) {
	h := &collectingHandler{}
	require.NoError(t, decodeSSE(strings.NewReader(""), h))
	require.Empty(t, h.chunks)
	require.True(t, h.done)
}
