// Package injection folds retrieved memories into a chat message list
// before it is forwarded to the upstream LM.
package injection

import (
	"fmt"
	"strings"
	"time"

	"github.com/memoryproxy/memoryproxy/internal/llm"
)

// Mode selects how memories are folded into the message list.
type Mode string

const (
	ModeSystem   Mode = "system"
	ModeMessages Mode = "messages"
	ModeMixed    Mode = "mixed" // legacy alias for ModeSystem
)

// RankedMemory is one memory ready for rendering, in final rank order.
type RankedMemory struct {
	Content   string
	EventTime *time.Time
}

const directive = "answer the user's question based on the information above"

var xmlEscaper = strings.NewReplacer(
	`&`, "&amp;",
	`<`, "&lt;",
	`>`, "&gt;",
	`"`, "&quot;",
	`'`, "&apos;",
)

// escapeXML applies the five-character XML escape so user content cannot
// break out of the rendered memory block. Applied once, here, never at
// call sites.
func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// renderBlock builds the <memory_context> XML block from ranked memories
// in rank order. Returns "" if memories is empty.
func renderBlock(memories []RankedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<memory_context>\n  <related_knowledge>\n")
	for i, m := range memories {
		b.WriteString(fmt.Sprintf("    <memory index=\"%d\">\n", i+1))
		b.WriteString(fmt.Sprintf("      <content>%s</content>\n", escapeXML(m.Content)))
		if m.EventTime != nil {
			b.WriteString(fmt.Sprintf("      <event_time>%s</event_time>\n", m.EventTime.Format("2006-01-02 15:04")))
		}
		b.WriteString("    </memory>\n")
	}
	b.WriteString("  </related_knowledge>\n</memory_context>\n")
	b.WriteString(directive)
	return b.String()
}

// Inject folds memories into messages per mode, returning a new slice.
// messages is never mutated; every user/assistant turn is passed through
// verbatim and in order.
func Inject(messages []llm.Message, memories []RankedMemory, systemPrompt string, mode Mode) []llm.Message {
	block := renderBlock(memories)
	if block == "" && systemPrompt == "" {
		return append([]llm.Message(nil), messages...)
	}

	switch mode {
	case ModeMessages:
		return injectMessages(messages, memories, systemPrompt)
	default: // ModeSystem, ModeMixed (legacy alias), and unknown default to system
		return injectSystem(messages, block, systemPrompt)
	}
}

// injectSystem appends the memory block and persona prompt to the leading
// system turn, creating one if absent.
func injectSystem(messages []llm.Message, block, systemPrompt string) []llm.Message {
	out := append([]llm.Message(nil), messages...)

	var addition string
	if block != "" {
		addition = block
	}
	if systemPrompt != "" {
		if addition != "" {
			addition += "\n\n"
		}
		addition += systemPrompt
	}
	if addition == "" {
		return out
	}

	if len(out) > 0 && out[0].Role == llm.RoleSystem {
		out[0].Content = out[0].Content + "\n\n" + addition
		return out
	}
	return append([]llm.Message{{Role: llm.RoleSystem, Content: addition}}, out...)
}

// injectMessages emits each memory as its own leading system turn, in
// rank order, before the first existing turn, followed by the persona
// system prompt as one more leading turn if present.
func injectMessages(messages []llm.Message, memories []RankedMemory, systemPrompt string) []llm.Message {
	leading := make([]llm.Message, 0, len(memories)+1)
	for _, m := range memories {
		leading = append(leading, llm.Message{
			Role:    llm.RoleSystem,
			Content: renderBlock([]RankedMemory{m}),
		})
	}
	if systemPrompt != "" {
		leading = append(leading, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	out := make([]llm.Message, 0, len(leading)+len(messages))
	out = append(out, leading...)
	out = append(out, messages...)
	return out
}
