// Package extraction derives new long-term memories, entities, and
// relations from a completed dialogue turn in two LM stages: a cheap gate
// decision followed by a structured extract.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memoryproxy/memoryproxy/internal/llm"
)

// GateResult is stage 1's decision.
type GateResult struct {
	ShouldExtract bool   `json:"should_extract"`
	Reason        string `json:"reason"`
}

// Memory, Entity, and Relation are stage 2's extracted units.
type Memory struct {
	Content   string     `json:"content"`
	EventTime *time.Time `json:"event_time"`
}

type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Result is the fully parsed stage-2 output.
type Result struct {
	Memories  []Memory   `json:"memories"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// rawExtraction is the wire shape of stage 2; a json.RawMessage for
// event_time lets ISO-8601 parsing preserve the local offset, since
// time.Time's default unmarshal would normalize the zone away.
type rawExtraction struct {
	Memories []struct {
		Content   string  `json:"content"`
		EventTime *string `json:"event_time"`
	} `json:"memories"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// ErrMalformedExtraction is returned when stage 2's JSON is malformed or
// missing a required top-level key; the caller must drop the whole batch.
var ErrMalformedExtraction = fmt.Errorf("extraction: malformed or incomplete structured output")

// Engine runs both extraction stages against a configured Provider. A
// separate Engine instance is typically built for the extraction endpoint
// (its own model/timeout), distinct from the primary chat Provider.
type Engine struct {
	provider llm.Provider
	model    string
}

func New(provider llm.Provider, model string) *Engine {
	return &Engine{provider: provider, model: model}
}

const gateSystemPrompt = `You decide whether a completed conversation turn contains anything worth remembering long-term.
Reply with a small JSON object: {"should_extract": bool, "reason": string}. Nothing else.`

// Gate runs stage 1. lastUserTurn and assistantResponse are the just
// completed turn; injectedMemories were folded into the prompt for this
// turn, given as context so the model does not flag already-known facts.
// On JSON parse failure, the gate defaults to true.
func (e *Engine) Gate(ctx context.Context, lastUserTurn, assistantResponse string, injectedMemories []string) (GateResult, error) {
	prompt := fmt.Sprintf("User: %s\nAssistant: %s\n", lastUserTurn, assistantResponse)
	if len(injectedMemories) > 0 {
		prompt += "Already-known memories this turn:\n- " + strings.Join(injectedMemories, "\n- ") + "\n"
	}

	result, err := e.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: gateSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.ChatOptions{Model: e.model, Temperature: 0.1, MaxTokens: 100, ResponseFormat: "json"})
	if err != nil {
		return GateResult{}, fmt.Errorf("extraction gate: %w", err)
	}

	var gate GateResult
	if err := json.Unmarshal([]byte(result.Message.Content), &gate); err != nil {
		return GateResult{ShouldExtract: true, Reason: "gate response was not valid JSON, defaulting to extract"}, nil
	}
	return gate, nil
}

const extractSystemPromptTemplate = `The current time is {current_time} on {current_date}. Extract new long-term memories,
entities, and relations from the conversation below. Resolve relative time expressions
("yesterday", "an hour ago") against the current time, but preserve the conversation's
own time zone; do not convert to UTC. Reply with exactly this JSON shape and nothing else:
{"memories": [{"content": str, "event_time": ISO-8601 string or null}],
 "entities": [{"name": str, "type": str}],
 "relations": [{"from": str, "to": str, "type": str}]}

Conversation:
{conversation_text}`

// Extract runs stage 2. now anchors relative-time expressions. promptTemplate,
// if non-empty, overrides extractSystemPromptTemplate; all three placeholders {current_time}/
// {current_date}/{conversation_text} are substituted the same way.
func (e *Engine) Extract(ctx context.Context, conversationText string, now time.Time, promptTemplate string) (Result, error) {
	tmpl := extractSystemPromptTemplate
	if promptTemplate != "" {
		tmpl = promptTemplate
	}
	prompt := strings.NewReplacer(
		"{current_time}", now.Format("15:04 MST"),
		"{current_date}", now.Format("2006-01-02"),
		"{conversation_text}", conversationText,
	).Replace(tmpl)

	result, err := e.provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.ChatOptions{Model: e.model, Temperature: 0.3, MaxTokens: 500, ResponseFormat: "json"})
	if err != nil {
		return Result{}, fmt.Errorf("extraction extract: %w", err)
	}

	return parseExtraction(result.Message.Content)
}

// parseExtraction drops the whole batch when the JSON is malformed or
// missing any required top-level key; partial acceptance is not
// supported.
func parseExtraction(content string) (Result, error) {
	var has map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &has); err != nil {
		return Result{}, ErrMalformedExtraction
	}
	for _, key := range []string{"memories", "entities", "relations"} {
		if _, ok := has[key]; !ok {
			return Result{}, ErrMalformedExtraction
		}
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Result{}, ErrMalformedExtraction
	}

	out := Result{Entities: raw.Entities, Relations: raw.Relations}
	for _, m := range raw.Memories {
		entry := Memory{Content: m.Content}
		if m.EventTime != nil && *m.EventTime != "" {
			if t, err := time.Parse(time.RFC3339, *m.EventTime); err == nil {
				entry.EventTime = &t
			}
			// an unparseable event_time is dropped, not fatal to the batch
		}
		out.Memories = append(out.Memories, entry)
	}
	return out, nil
}
