package injection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryproxy/memoryproxy/internal/llm"
)

func TestInjectSystemModeCreatesLeadingSystemTurn(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "What color do I like?"}}
	memories := []RankedMemory{{Content: "User's favorite color is emerald green"}}

	out := Inject(messages, memories, "", ModeSystem)

	require.Len(t, out, 2)
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "<content>User&apos;s favorite color is emerald green</content>")
	assert.Equal(t, messages[0], out[1]) // user turn preserved verbatim
}

func TestInjectSystemModeAugmentsExistingSystemTurn(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a helpful assistant."},
		{Role: llm.RoleUser, Content: "hi"},
	}
	memories := []RankedMemory{{Content: "likes tea"}}

	out := Inject(messages, memories, "persona prompt", ModeSystem)

	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "You are a helpful assistant.")
	assert.Contains(t, out[0].Content, "likes tea")
	assert.Contains(t, out[0].Content, "persona prompt")
	assert.Equal(t, messages[1], out[1])
}

func TestInjectMessagesModePrependsOneTurnPerMemory(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	memories := []RankedMemory{{Content: "a"}, {Content: "b"}}

	out := Inject(messages, memories, "sys", ModeMessages)

	require.Len(t, out, 4)
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "<content>a</content>")
	assert.Equal(t, llm.RoleSystem, out[1].Role)
	assert.Contains(t, out[1].Content, "<content>b</content>")
	assert.Equal(t, "sys", out[2].Content)
	assert.Equal(t, messages[0], out[3])
}

func TestInjectEscapesXMLSpecialCharacters(t *testing.T) {
	memories := []RankedMemory{{Content: `<script>alert("x")</script> & 'quote'`}}
	out := Inject(nil, memories, "", ModeSystem)
	require.Len(t, out, 1)
	assert.NotContains(t, out[0].Content, "<script>")
	assert.Contains(t, out[0].Content, "&lt;script&gt;")
	assert.Contains(t, out[0].Content, "&amp;")
	assert.Contains(t, out[0].Content, "&apos;quote&apos;")
}

func TestInjectEmptyMemoriesEmitsNoBlock(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	out := Inject(messages, nil, "", ModeSystem)
	assert.Equal(t, messages, out)
}

func TestInjectIncludesEventTimeWhenPresent(t *testing.T) {
	et := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	memories := []RankedMemory{{Content: "went to Kyoto", EventTime: &et}}
	out := Inject(nil, memories, "", ModeSystem)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "<event_time>2025-03-02 10:00</event_time>")
}

func TestInjectNeverMutatesInputSlice(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	original := append([]llm.Message(nil), messages...)
	_ = Inject(messages, []RankedMemory{{Content: "x"}}, "", ModeSystem)
	assert.Equal(t, original, messages)
}
