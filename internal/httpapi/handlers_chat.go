package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memoryproxy/memoryproxy/internal/extraction"
	"github.com/memoryproxy/memoryproxy/internal/injection"
	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/store"
	"github.com/memoryproxy/memoryproxy/internal/writecoord"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type memoryConfigRequest struct {
	Enabled  *bool `json:"enabled"`
	AutoSave *bool `json:"auto_save"`
}

type chatCompletionRequest struct {
	Model        string               `json:"model"`
	Messages     []chatMessage        `json:"messages"`
	Stream       bool                 `json:"stream"`
	Temperature  float64              `json:"temperature"`
	MaxTokens    int                  `json:"max_tokens"`
	MemoryConfig *memoryConfigRequest `json:"memory_config"`
}

type chatChoice struct {
	Index   int          `json:"index"`
	Message *chatMessage `json:"message,omitempty"`
	// Delta carries the raw upstream delta object for streaming chunks, so
	// provider-specific fields (e.g. tool_calls) reach the client
	// untouched. Unset on non-streaming responses.
	Delta        json.RawMessage `json:"delta,omitempty"`
	FinishReason *string         `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// splitModel parses the OpenAI-compatible `model` field as
// persona_id[/lm_model].
func splitModel(model string) (personaID, lmModel string) {
	if idx := strings.IndexByte(model, '/'); idx >= 0 {
		return model[:idx], model[idx+1:]
	}
	return model, ""
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	personaID, lmModel := splitModel(req.Model)
	if personaID == "" {
		respondError(w, http.StatusBadRequest, "model must be persona_id[/lm_model]")
		return
	}
	persona, err := s.personas.Get(r.Context(), personaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown persona")
			return
		}
		respondError(w, statusFromError(err), err.Error())
		return
	}
	if lmModel == "" {
		lmModel = s.cfg.LLM.Model
	}

	memEnabled := s.cfg.MemorySystem.Enabled
	autoSave := s.cfg.MemorySystem.AutoSave
	if req.MemoryConfig != nil {
		if req.MemoryConfig.Enabled != nil {
			memEnabled = *req.MemoryConfig.Enabled
		}
		if req.MemoryConfig.AutoSave != nil {
			autoSave = *req.MemoryConfig.AutoSave
		}
	}

	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	lastUserTurn := lastUserContent(messages)

	var injected []string
	outgoing := messages
	if memEnabled {
		candidates := s.retrieval.Retrieve(r.Context(), personaID, lastUserTurn)
		ranked := make([]injection.RankedMemory, len(candidates))
		for i, c := range candidates {
			ranked[i] = injection.RankedMemory{Content: c.Content, EventTime: c.EventTime}
			injected = append(injected, c.Content)
		}
		outgoing = injection.Inject(messages, ranked, persona.SystemPrompt, s.injectionMode())
	}

	opts := llm.ChatOptions{Model: lmModel, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		s.streamChatCompletion(w, r, id, created, req.Model, outgoing, opts, personaID, lastUserTurn, injected, autoSave)
		return
	}

	result, err := s.chatProvider.Chat(r.Context(), outgoing, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("upstream chat call failed: %v", err))
		return
	}

	// The gate runs synchronously in the non-streaming path, before the
	// response is returned to the caller. Gated on autoSave alone:
	// memory_config.enabled only controls retrieval/injection, extraction
	// runs independently of it.
	if autoSave && string(result.FinishReason) == string(llm.FinishStop) {
		s.runGateThenBackground(r.Context(), personaID, lastUserTurn, result.Message.Content, injected)
	}

	finish := string(result.FinishReason)
	respondJSON(w, http.StatusOK, chatCompletionResponse{
		ID: id, Object: "chat.completion", Created: created, Model: req.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      &chatMessage{Role: string(llm.RoleAssistant), Content: result.Message.Content},
			FinishReason: &finish,
		}},
	})
}

func lastUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// streamChatCompletion forwards each upstream delta to the client as an
// OpenAI-shaped SSE chunk, byte for byte and in arrival order, then runs
// gate/extract/dedupe/write in the background once the stream has
// completed.
func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, id string, created int64, modelName string,
	outgoing []llm.Message, opts llm.ChatOptions, personaID, lastUserTurn string, injected []string, autoSave bool) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported by response writer")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	var full strings.Builder
	var finishReason string

	handler := sseForwarder{
		onChunk: func(chunk llm.StreamChunk) error {
			full.WriteString(chunk.DeltaContent)
			if chunk.FinishReason != "" {
				finishReason = string(chunk.FinishReason)
			}
			var finish *string
			if chunk.FinishReason != "" {
				f := string(chunk.FinishReason)
				finish = &f
			}
			delta := chunk.RawDelta
			if len(delta) == 0 {
				delta, _ = json.Marshal(map[string]string{"content": chunk.DeltaContent})
			}
			payload := chatCompletionResponse{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
				Choices: []chatChoice{{Index: 0, Delta: delta, FinishReason: finish}},
			}
			raw, _ := json.Marshal(payload)
			if _, err := fmt.Fprintf(bw, "data: %s\n\n", raw); err != nil {
				return err
			}
			bw.Flush()
			flusher.Flush()
			return nil
		},
	}

	err := s.chatProvider.ChatStream(r.Context(), outgoing, opts, handler)
	if err != nil {
		observability.LoggerWithTrace(r.Context()).Warn().Err(err).Msg("chat stream: upstream error mid-stream")
	}
	fmt.Fprint(bw, "data: [DONE]\n\n")
	bw.Flush()
	flusher.Flush()

	// memory_config.enabled only gates retrieval/injection above;
	// extraction runs independently whenever autoSave is set. Unlike the
	// non-streaming path, the gate itself runs detached here: the stream
	// is already terminated, so nothing should hold the connection open.
	if autoSave && finishReason == string(llm.FinishStop) {
		go s.runGateThenBackground(context.WithoutCancel(r.Context()), personaID, lastUserTurn, full.String(), injected)
	}
}

type sseForwarder struct {
	onChunk func(llm.StreamChunk) error
}

func (h sseForwarder) OnChunk(chunk llm.StreamChunk) error { return h.onChunk(chunk) }
func (h sseForwarder) OnDone(err error)                    {}

// runGateThenBackground runs the gate decision and, if the gate
// recommends extraction, dispatches extract/dedupe/write on a detached
// goroutine so the caller is never blocked on stage 2.
func (s *Server) runGateThenBackground(ctx context.Context, personaID, lastUserTurn, assistantResponse string, injected []string) {
	log := observability.LoggerWithTrace(ctx)
	gateCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	gate, err := s.extraction.Gate(gateCtx, lastUserTurn, assistantResponse, injected)
	if err != nil {
		log.Warn().Err(err).Msg("extraction gate call failed, skipping extraction")
		return
	}
	if !gate.ShouldExtract {
		return
	}

	detached := context.WithoutCancel(ctx)
	go s.extractDedupeWrite(detached, personaID, lastUserTurn, assistantResponse)
}

func (s *Server) extractDedupeWrite(ctx context.Context, personaID, lastUserTurn, assistantResponse string) {
	ctx, cancel := context.WithTimeout(ctx, s.extractionTimeout())
	defer cancel()
	ctx, end := observability.StartSpan(ctx, "extraction.pipeline")
	defer end()
	log := observability.LoggerWithTrace(ctx)

	conversation := fmt.Sprintf("User: %s\nAssistant: %s\n", lastUserTurn, assistantResponse)
	result, err := s.extraction.Extract(ctx, conversation, time.Now(), s.cfg.MemoryExtraction.PromptTemplate)
	if err != nil {
		if errors.Is(err, extraction.ErrMalformedExtraction) {
			log.Warn().Msg("extraction: malformed structured output, dropping whole batch")
			return
		}
		log.Warn().Err(err).Msg("extraction: LM call failed, dropping batch")
		return
	}

	entities := make([]writecoord.EntityInput, len(result.Entities))
	for i, e := range result.Entities {
		entities[i] = writecoord.EntityInput{Name: e.Name, Type: e.Type}
	}
	relations := make([]writecoord.RelationInput, len(result.Relations))
	for i, rel := range result.Relations {
		relations[i] = writecoord.RelationInput{From: rel.From, To: rel.To, Type: rel.Type}
	}

	for _, m := range result.Memories {
		decision, err := s.dedup.Check(ctx, personaID, m.Content)
		if err != nil {
			log.Warn().Err(err).Msg("dedup check failed, skipping memory")
			continue
		}
		if decision.IsDuplicate {
			log.Info().Float64("max_similarity", decision.MaxSimilarity).Msg("dedup: skipped near-duplicate memory")
			continue
		}
		_, err = s.writer.Write(ctx, writecoord.Request{
			PersonaID: personaID,
			Content:   m.Content,
			EventTime: m.EventTime,
			Embedding: decision.Embedding,
			Entities:  entities,
			Relations: relations,
		})
		if err != nil {
			log.Warn().Err(err).Msg("writecoord: failed to persist extracted memory")
		}
	}
}

// handleCompletions implements the POST /v1/completions text-completion
// passthrough: a single user turn, no retrieval/injection/extraction;
// those are chat-surface concerns.
type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionChoice struct {
	Text         string  `json:"text"`
	Index        int     `json:"index"`
	FinishReason *string `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	_, lmModel := splitModel(req.Model)
	if lmModel == "" {
		lmModel = s.cfg.LLM.Model
	}
	result, err := s.chatProvider.Chat(r.Context(), []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		llm.ChatOptions{Model: lmModel, Temperature: req.Temperature, MaxTokens: req.MaxTokens})
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("upstream completion call failed: %v", err))
		return
	}
	finish := string(result.FinishReason)
	respondJSON(w, http.StatusOK, completionResponse{
		ID: "cmpl-" + uuid.NewString(), Object: "text_completion", Created: time.Now().Unix(), Model: req.Model,
		Choices: []completionChoice{{Text: result.Message.Content, Index: 0, FinishReason: &finish}},
	})
}

// handleListModels returns the cartesian product {personas} x {upstream
// chat models} as model ids. The upstream model
// list comes from the provider's ListModels capability when it implements
// one; a provider that doesn't, or a failing call, falls back to the single
// configured default model.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	personas, err := s.personas.List(r.Context())
	if err != nil {
		respondError(w, statusFromError(err), err.Error())
		return
	}

	upstreamModels := []string{s.cfg.LLM.Model}
	if lister, ok := s.chatProvider.(llm.ModelLister); ok {
		models, err := lister.ListModels(r.Context())
		if err != nil {
			observability.LoggerWithTrace(r.Context()).Warn().Err(err).
				Msg("list models: upstream call failed, falling back to configured default")
		} else if len(models) > 0 {
			upstreamModels = models
		}
	}

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	out := make([]modelEntry, 0, len(personas)*len(upstreamModels))
	for _, p := range personas {
		for _, m := range upstreamModels {
			out = append(out, modelEntry{ID: p.ID + "/" + m, Object: "model", OwnedBy: "memoryproxy"})
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}
