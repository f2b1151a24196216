// Package httpapi implements the proxy's HTTP surface on a stdlib
// net/http.ServeMux using Go 1.22+ method-pattern routing.
package httpapi

import (
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/memoryproxy/memoryproxy/internal/config"
	"github.com/memoryproxy/memoryproxy/internal/dedup"
	"github.com/memoryproxy/memoryproxy/internal/extraction"
	"github.com/memoryproxy/memoryproxy/internal/injection"
	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/persona"
	"github.com/memoryproxy/memoryproxy/internal/retrieval"
	"github.com/memoryproxy/memoryproxy/internal/store"
	"github.com/memoryproxy/memoryproxy/internal/writecoord"
)

// Server wires every pipeline component behind the HTTP surface.
type Server struct {
	mux     *http.ServeMux
	handler http.Handler

	cfg config.Config

	stores *store.Manager

	chatProvider llm.Provider
	embedder     llm.Embedder

	retrieval  *retrieval.Engine
	extraction *extraction.Engine
	dedup      *dedup.Checker
	writer     *writecoord.Coordinator
	personas   *persona.Manager

	mcpHandler http.Handler
}

// Dependencies groups everything NewServer needs, so main.go's wiring
// stays in one place.
type Dependencies struct {
	Config       config.Config
	Stores       *store.Manager
	ChatProvider llm.Provider
	Embedder     llm.Embedder
	Retrieval    *retrieval.Engine
	Extraction   *extraction.Engine
	Dedup        *dedup.Checker
	Writer       *writecoord.Coordinator
	Personas     *persona.Manager
}

func NewServer(deps Dependencies) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		cfg:          deps.Config,
		stores:       deps.Stores,
		chatProvider: deps.ChatProvider,
		embedder:     deps.Embedder,
		retrieval:    deps.Retrieval,
		extraction:   deps.Extraction,
		dedup:        deps.Dedup,
		writer:       deps.Writer,
		personas:     deps.Personas,
	}
	s.mcpHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.buildMCPServer()
	}, nil)
	s.registerRoutes()
	// Every request gets a server span so LoggerWithTrace can stamp log
	// lines with trace/span ids down the whole pipeline.
	s.handler = otelhttp.NewHandler(s.withAuth(s.mux), "memoryproxy")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("POST /v1/completions", s.handleCompletions)
	s.mux.HandleFunc("GET /v1/models", s.handleListModels)

	s.mux.HandleFunc("GET /v1/memories", s.handleListMemories)
	s.mux.HandleFunc("POST /v1/memories", s.handleCreateMemory)
	s.mux.HandleFunc("GET /v1/memories/{id}", s.handleGetMemory)
	s.mux.HandleFunc("PUT /v1/memories/{id}", s.handleUpdateMemory)
	s.mux.HandleFunc("DELETE /v1/memories/{id}", s.handleDeleteMemory)
	s.mux.HandleFunc("POST /v1/memories/search", s.handleSearchMemories)

	s.mux.HandleFunc("GET /v1/personas", s.handleListPersonas)
	s.mux.HandleFunc("POST /v1/personas", s.handleCreatePersona)
	s.mux.HandleFunc("GET /v1/personas/{id}", s.handleGetPersona)
	s.mux.HandleFunc("PUT /v1/personas/{id}", s.handleUpdatePersona)
	s.mux.HandleFunc("DELETE /v1/personas/{id}", s.handleDeletePersona)

	s.mux.HandleFunc("GET /v1/graph", s.handleGetGraph)

	s.mux.HandleFunc("GET /v1/config", s.handleListConfig)
	s.mux.HandleFunc("GET /v1/config/{key}", s.handleGetConfig)
	s.mux.HandleFunc("PUT /v1/config/{key}", s.handlePutConfig)

	s.mux.HandleFunc("POST /v1/mcp", s.handleMCP)
}

// injectionMode resolves the configured injection_mode into the
// injection.Mode type, defaulting to system.
func (s *Server) injectionMode() injection.Mode {
	switch s.cfg.MemorySystem.InjectionMode {
	case string(injection.ModeMessages):
		return injection.ModeMessages
	case string(injection.ModeMixed):
		return injection.ModeMixed
	default:
		return injection.ModeSystem
	}
}

// extractionTimeout bounds background extraction, independent of the
// request that triggered it.
func (s *Server) extractionTimeout() time.Duration {
	if s.cfg.MemoryExtraction.Timeout > 0 {
		return s.cfg.MemoryExtraction.Timeout
	}
	return 60 * time.Second
}
