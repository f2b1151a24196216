package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// sseDelta is the minimal OpenAI-compatible streaming chunk shape needed to
// extract a content delta and finish reason. Delta is kept as raw JSON so
// provider-specific fields (tool_calls, function_call, ...) survive the
// relay untouched rather than being dropped by a narrowly typed struct.
type sseDelta struct {
	Choices []struct {
		Delta        json.RawMessage `json:"delta"`
		FinishReason *string         `json:"finish_reason"`
	} `json:"choices"`
}

// sseDeltaContent is the subset of a delta object decoded best-effort for
// DeltaContent; any other fields present in the raw delta are preserved
// separately in StreamChunk.RawDelta.
type sseDeltaContent struct {
	Content string `json:"content"`
}

// decodeSSE reads an OpenAI-compatible `data:`-line SSE stream from r,
// invoking handler for each parsed delta in arrival order. It stops at the
// `[DONE]` sentinel or EOF. Malformed JSON lines are skipped (provider
// bug tolerance), never treated as a fatal error.
func decodeSSE(r io.Reader, handler StreamHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var finalErr error
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var delta sseDelta
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			continue // malformed JSON line: skip, do not abort the stream
		}
		if len(delta.Choices) == 0 {
			continue
		}
		choice := delta.Choices[0]
		var content sseDeltaContent
		_ = json.Unmarshal(choice.Delta, &content) // best-effort; raw bytes kept below regardless
		chunk := StreamChunk{DeltaContent: content.Content, RawDelta: choice.Delta}
		if choice.FinishReason != nil {
			chunk.FinishReason = FinishReason(*choice.FinishReason)
		}
		if err := handler.OnChunk(chunk); err != nil {
			finalErr = err
			break
		}
	}
	if err := scanner.Err(); err != nil && finalErr == nil {
		finalErr = err
	}
	handler.OnDone(finalErr)
	return finalErr
}
