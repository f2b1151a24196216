package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryproxy/memoryproxy/internal/cache"
	"github.com/memoryproxy/memoryproxy/internal/config"
	"github.com/memoryproxy/memoryproxy/internal/dedup"
	"github.com/memoryproxy/memoryproxy/internal/extraction"
	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/persona"
	"github.com/memoryproxy/memoryproxy/internal/retrieval"
	"github.com/memoryproxy/memoryproxy/internal/store"
	"github.com/memoryproxy/memoryproxy/internal/writecoord"
)

// stubProvider answers Chat/ChatStream with a fixed response, recording
// every call it received so tests can assert on what the server sent
// upstream (injected memories, model, etc).
type stubProvider struct {
	reply       string
	finish      llm.FinishReason
	chatCalls   []llm.Message
	streamCalls []llm.Message
}

func (s *stubProvider) Chat(_ context.Context, messages []llm.Message, _ llm.ChatOptions) (llm.ChatResult, error) {
	s.chatCalls = append(s.chatCalls, messages...)
	finish := s.finish
	if finish == "" {
		finish = llm.FinishStop
	}
	return llm.ChatResult{Message: llm.Message{Role: llm.RoleAssistant, Content: s.reply}, FinishReason: finish}, nil
}

func (s *stubProvider) ChatStream(_ context.Context, messages []llm.Message, _ llm.ChatOptions, handler llm.StreamHandler) error {
	s.streamCalls = append(s.streamCalls, messages...)
	for _, word := range strings.Fields(s.reply) {
		if err := handler.OnChunk(llm.StreamChunk{DeltaContent: word + " "}); err != nil {
			return err
		}
	}
	finish := s.finish
	if finish == "" {
		finish = llm.FinishStop
	}
	return handler.OnChunk(llm.StreamChunk{FinishReason: finish})
}

// stubEmbedder returns a fixed-direction embedding regardless of input, so
// every memory in a test collides on similarity deterministically.
type stubEmbedder struct{ vector []float32 }

func (s stubEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

type testServer struct {
	*Server
	chat   *stubProvider
	extr   *stubProvider
	vector *store.MemoryVectorStore
	meta   *store.MemoryMetadataStore
	graph  *store.MemoryGraphStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	vector := store.NewMemoryVectorStore()
	graph := store.NewMemoryGraphStore()
	meta := store.NewMemoryMetadataStore()
	embedder := stubEmbedder{vector: []float32{1, 0, 0}}
	embCache := cache.NewInProcessCache(time.Minute)

	chat := &stubProvider{reply: "hello there"}
	extr := &stubProvider{}

	cfg := config.Default()
	cfg.MemorySystem.Enabled = true
	cfg.MemorySystem.AutoSave = true
	cfg.MemorySystem.DedupThreshold = 0.85

	retrievalEngine := retrieval.New(vector, graph, meta, embedder, embCache, "embed-model", retrieval.DefaultConfig())
	extractionEngine := extraction.New(extr, "extract-model")
	dedupChecker := dedup.New(vector, embedder, "embed-model", cfg.MemorySystem.DedupThreshold)
	writer := writecoord.New(vector, meta, graph, embedder, "embed-model")
	personas := persona.New(meta, vector)

	srv := NewServer(Dependencies{
		Config:       cfg,
		Stores:       &store.Manager{Vector: vector, Graph: graph, Metadata: meta},
		ChatProvider: chat,
		Embedder:     embedder,
		Retrieval:    retrievalEngine,
		Extraction:   extractionEngine,
		Dedup:        dedupChecker,
		Writer:       writer,
		Personas:     personas,
	})

	return &testServer{Server: srv, chat: chat, extr: extr, vector: vector, meta: meta, graph: graph}
}

func mustCreatePersona(t *testing.T, ts *testServer, id string) {
	t.Helper()
	_, err := ts.personas.Create(context.Background(), id, "test persona", "You are a helpful assistant.")
	require.NoError(t, err)
}

func doJSON(ts *testServer, method, path string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)
	return w
}

func TestChatCompletionsNonStreamingRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")

	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "alice/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "what's the weather like"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "hello there", resp.Choices[0].Message.Content)
	require.Equal(t, "stop", *resp.Choices[0].FinishReason)
}

func TestChatCompletionsUnknownPersonaReturns404(t *testing.T) {
	ts := newTestServer(t)
	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "ghost/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatCompletionsMissingPersonaSegmentIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "",
		Messages: []chatMessage{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletionsInjectsStoredMemoryIntoSystemPrompt(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")

	require.NoError(t, ts.vector.Upsert(context.Background(), store.VectorRecord{
		ID: "v1", PersonaID: "alice", Embedding: []float32{1, 0, 0},
	}))
	_, err := ts.meta.CreateMemory(context.Background(), store.Memory{
		ID: "m1", PersonaID: "alice", VectorID: "v1", Content: "prefers tea over coffee",
	})
	require.NoError(t, err)

	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "alice/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "what should I drink"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.NotEmpty(t, ts.chat.chatCalls)
	found := false
	for _, m := range ts.chat.chatCalls {
		if strings.Contains(m.Content, "prefers tea over coffee") {
			found = true
		}
	}
	require.True(t, found, "expected retrieved memory to be injected into an outgoing message")
}

func TestChatCompletionsAutoSaveExtractsAndWritesMemory(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")
	ts.extr.reply = `{"should_extract": true, "reason": "new preference mentioned",
		"memories": [{"content": "likes hiking"}], "entities": [], "relations": []}`

	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "alice/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "I love hiking on weekends"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		list, err := ts.meta.ListMemories(context.Background(), "alice")
		if err != nil {
			return false
		}
		for _, m := range list {
			if m.Content == "likes hiking" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestChatCompletionsAutoSaveSkippedWhenGateDeclines(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")
	ts.extr.reply = `{"should_extract": false, "reason": "nothing new"}`

	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "alice/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	time.Sleep(50 * time.Millisecond)
	list, err := ts.meta.ListMemories(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestChatCompletionsToolCallFinishSuppressesExtraction(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")
	ts.chat.finish = llm.FinishToolCalls
	ts.extr.reply = `{"should_extract": true, "reason": "would extract",
		"memories": [{"content": "likes hiking"}], "entities": [], "relations": []}`

	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "alice/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "I love hiking on weekends"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, ts.extr.chatCalls, "no gate or extract call may be issued when finish_reason is not stop")
	list, err := ts.meta.ListMemories(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestChatCompletionsExtractionRunsIndependentlyOfMemoryEnabled(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")
	ts.cfg.MemorySystem.Enabled = false
	ts.cfg.MemorySystem.AutoSave = true
	ts.extr.reply = `{"should_extract": true, "reason": "new preference mentioned",
		"memories": [{"content": "likes hiking"}], "entities": [], "relations": []}`

	w := doJSON(ts, "POST", "/v1/chat/completions", chatCompletionRequest{
		Model:    "alice/gpt-4o-mini",
		Messages: []chatMessage{{Role: "user", Content: "I love hiking on weekends"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		list, err := ts.meta.ListMemories(context.Background(), "alice")
		if err != nil {
			return false
		}
		for _, m := range list {
			if m.Content == "likes hiking" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestChatCompletionsStreamingForwardsAllChunksAndTerminatesWithDone(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{
		"model": "alice/gpt-4o-mini",
		"messages": [{"role": "user", "content": "hi"}],
		"stream": true
	}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.Contains(t, body, `"object":"chat.completion.chunk"`)
	require.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))

	var rebuilt strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || strings.Contains(line, "[DONE]") {
			continue
		}
		var chunk chatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		if len(chunk.Choices[0].Delta) > 0 {
			var delta chatMessage
			require.NoError(t, json.Unmarshal(chunk.Choices[0].Delta, &delta))
			rebuilt.WriteString(delta.Content)
		}
	}
	require.Equal(t, "hello there ", rebuilt.String())
}

func TestMemoriesCRUDRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")

	w := doJSON(ts, "POST", "/v1/memories", memoryRequest{PersonaID: "alice", Content: "likes jazz"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created store.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "likes jazz", created.Content)

	w = doJSON(ts, "GET", "/v1/memories/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(ts, "PUT", "/v1/memories/"+created.ID, memoryRequest{PersonaID: "alice", Content: "likes blues"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated store.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "likes blues", updated.Content)

	w = doJSON(ts, "DELETE", "/v1/memories/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(ts, "GET", "/v1/memories/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// idempotent: deleting an already-gone memory still returns 204.
	w = doJSON(ts, "DELETE", "/v1/memories/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestPersonaDeleteCascadesMemoriesButNotGraph(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")

	w := doJSON(ts, "POST", "/v1/memories", memoryRequest{PersonaID: "alice", Content: "owns a cat"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, ts.graph.UpsertNode(context.Background(), store.GraphNode{PersonaID: "alice", Name: "cat", Type: "pet"}))

	w = doJSON(ts, "DELETE", "/v1/personas/alice", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	list, err := ts.meta.ListMemories(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, list)

	_, ok, err := ts.graph.GetNode(context.Background(), "alice", "cat")
	require.NoError(t, err)
	require.True(t, ok, "graph entities must survive persona cascade delete")
}

func TestGraphEndpointReturnsWholePersonaGraphWithoutFocus(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")

	ctx := context.Background()
	require.NoError(t, ts.graph.UpsertNode(ctx, store.GraphNode{PersonaID: "alice", Name: "Kyoto", Type: "place"}))
	require.NoError(t, ts.graph.UpsertNode(ctx, store.GraphNode{PersonaID: "alice", Name: "Japan", Type: "place"}))
	require.NoError(t, ts.graph.UpsertEdge(ctx, store.GraphEdge{PersonaID: "alice", From: "Kyoto", To: "Japan", Kind: store.RelationBelongsTo, Weight: 1}))
	require.NoError(t, ts.graph.UpsertNode(ctx, store.GraphNode{PersonaID: "bob", Name: "Osaka", Type: "place"}))

	w := doJSON(ts, "GET", "/v1/graph?persona_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Nodes []store.GraphNode `json:"nodes"`
		Edges []store.GraphEdge `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Nodes, 2)
	require.Len(t, resp.Edges, 1)

	w = doJSON(ts, "GET", "/v1/graph?persona_id=alice&entity=Kyoto&depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Edges, 1)
}

func TestListModelsReturnsPersonaModelCartesianProduct(t *testing.T) {
	ts := newTestServer(t)
	mustCreatePersona(t, ts, "alice")
	mustCreatePersona(t, ts, "bob")

	w := doJSON(ts, "GET", "/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// stubProvider has no ListModels, so the single configured default
	// model crosses with both personas.
	require.Len(t, resp.Data, 2)
	ids := []string{resp.Data[0].ID, resp.Data[1].ID}
	require.Contains(t, ids, "alice/"+ts.cfg.LLM.Model)
	require.Contains(t, ids, "bob/"+ts.cfg.LLM.Model)
}

func TestAuthRejectsMissingBearerTokenWhenAPIKeyConfigured(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Server.APIKey = "secret-token"

	w := doJSON(ts, "GET", "/v1/personas", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/v1/personas", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w2 := httptest.NewRecorder()
	ts.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
}
