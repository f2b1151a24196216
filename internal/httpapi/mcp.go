package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/store"
	"github.com/memoryproxy/memoryproxy/internal/writecoord"
)

// buildMCPServer exposes the memory surface as MCP tools and resources:
// JSON-RPC 2.0 tool/resource discovery and invocation, served over the
// SDK's streamable-HTTP transport.
func (s *Server) buildMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "memoryproxy", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_memories",
		Description: "Semantic search over a persona's long-term memories.",
	}, s.mcpSearchMemories)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_memory",
		Description: "Remember an important fact, preference, or piece of background about the user for future conversations.",
	}, s.mcpSaveMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_memory",
		Description: "Correct a previously saved memory when the user changes their mind or provides more accurate information.",
	}, s.mcpUpdateMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_memory",
		Description: "Forget a memory that is outdated, wrong, or that the user explicitly asked to remove.",
	}, s.mcpDeleteMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_personas",
		Description: "List every configured persona (memory namespace).",
	}, s.mcpListPersonas)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "memory",
		Description: "A single memory, addressed by persona and memory id.",
		URITemplate: "memory://{persona_id}/{memory_id}",
		MIMEType:    "text/plain",
	}, s.mcpReadMemory)

	return server
}

type searchMemoriesArgs struct {
	PersonaID string `json:"persona_id" jsonschema:"required,description=Persona to search within"`
	Query     string `json:"query" jsonschema:"required,description=Natural-language search query"`
}

type searchMemoriesResult struct {
	Results []searchMemoriesHit `json:"results"`
}

type searchMemoriesHit struct {
	MemoryID   string  `json:"memory_id"`
	Content    string  `json:"content"`
	FinalScore float64 `json:"final_score"`
}

func (s *Server) mcpSearchMemories(ctx context.Context, req *mcp.CallToolRequest, args searchMemoriesArgs) (*mcp.CallToolResult, searchMemoriesResult, error) {
	candidates := s.retrieval.Retrieve(ctx, args.PersonaID, args.Query)
	out := searchMemoriesResult{Results: make([]searchMemoriesHit, len(candidates))}
	for i, c := range candidates {
		out.Results[i] = searchMemoriesHit{MemoryID: c.MemoryID, Content: c.Content, FinalScore: c.FinalScore}
	}
	return nil, out, nil
}

type saveMemoryArgs struct {
	PersonaID  string `json:"persona_id" jsonschema:"required,description=Persona to save the memory under"`
	Content    string `json:"content" jsonschema:"required,description=The fact to remember, e.g. 'User prefers green tea'"`
	EntityName string `json:"entity_name,omitempty" jsonschema:"description=Optional entity (person, place, thing) this memory is about"`
}

type saveMemoryResult struct {
	MemoryID string `json:"memory_id"`
}

func (s *Server) mcpSaveMemory(ctx context.Context, req *mcp.CallToolRequest, args saveMemoryArgs) (*mcp.CallToolResult, saveMemoryResult, error) {
	if args.PersonaID == "" || args.Content == "" {
		return nil, saveMemoryResult{}, fmt.Errorf("mcp: persona_id and content are required")
	}
	wreq := writecoord.Request{PersonaID: args.PersonaID, Content: args.Content}
	if args.EntityName != "" {
		wreq.Entities = []writecoord.EntityInput{{Name: args.EntityName}}
	}
	created, err := s.writer.Write(ctx, wreq)
	if err != nil {
		return nil, saveMemoryResult{}, err
	}
	return nil, saveMemoryResult{MemoryID: created.ID}, nil
}

type updateMemoryArgs struct {
	MemoryID   string `json:"memory_id" jsonschema:"required,description=Id of the memory to update"`
	NewContent string `json:"new_content" jsonschema:"required,description=The corrected content"`
}

type updateMemoryResult struct {
	MemoryID string `json:"memory_id"`
	Content  string `json:"content"`
}

// mcpUpdateMemory re-embeds the corrected content and overwrites both the
// vector record and the metadata row, preserving id, created_at, and
// access_count like the HTTP update path.
func (s *Server) mcpUpdateMemory(ctx context.Context, req *mcp.CallToolRequest, args updateMemoryArgs) (*mcp.CallToolResult, updateMemoryResult, error) {
	if args.MemoryID == "" || args.NewContent == "" {
		return nil, updateMemoryResult{}, fmt.Errorf("mcp: memory_id and new_content are required")
	}
	existing, err := s.stores.Metadata.GetMemory(ctx, args.MemoryID)
	if err != nil {
		return nil, updateMemoryResult{}, err
	}
	vecs, err := s.embedder.Embed(ctx, []string{args.NewContent}, s.cfg.Embedding.Model)
	if err != nil || len(vecs) == 0 {
		return nil, updateMemoryResult{}, fmt.Errorf("mcp: re-embedding failed")
	}
	if err := s.stores.Vector.Upsert(ctx, store.VectorRecord{
		ID: existing.VectorID, PersonaID: existing.PersonaID, Content: args.NewContent,
		Embedding: vecs[0], EntityID: existing.EntityID, CreatedAt: time.Now(),
	}); err != nil {
		return nil, updateMemoryResult{}, err
	}
	existing.Content = args.NewContent
	updated, err := s.stores.Metadata.UpdateMemory(ctx, existing)
	if err != nil {
		return nil, updateMemoryResult{}, err
	}
	return nil, updateMemoryResult{MemoryID: updated.ID, Content: updated.Content}, nil
}

type deleteMemoryArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"required,description=Id of the memory to delete"`
	Reason   string `json:"reason,omitempty" jsonschema:"description=Optional reason for forgetting this memory"`
}

type deleteMemoryResult struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) mcpDeleteMemory(ctx context.Context, req *mcp.CallToolRequest, args deleteMemoryArgs) (*mcp.CallToolResult, deleteMemoryResult, error) {
	if args.MemoryID == "" {
		return nil, deleteMemoryResult{}, fmt.Errorf("mcp: memory_id is required")
	}
	mem, err := s.stores.Metadata.GetMemory(ctx, args.MemoryID)
	if err != nil {
		return nil, deleteMemoryResult{}, err
	}
	log := observability.LoggerWithTrace(ctx)
	if err := s.stores.Vector.Delete(ctx, mem.PersonaID, mem.VectorID); err != nil {
		log.Warn().Err(err).Str("memory_id", mem.ID).Msg("mcp delete: vector delete failed")
	}
	if err := s.stores.Metadata.DeleteMemory(ctx, mem.ID); err != nil {
		return nil, deleteMemoryResult{}, err
	}
	if args.Reason != "" {
		log.Info().Str("memory_id", mem.ID).Str("reason", args.Reason).Msg("mcp: memory deleted")
	}
	return nil, deleteMemoryResult{Deleted: true}, nil
}

type listPersonasArgs struct{}

type listPersonasResult struct {
	Personas []string `json:"personas"`
}

func (s *Server) mcpListPersonas(ctx context.Context, req *mcp.CallToolRequest, _ listPersonasArgs) (*mcp.CallToolResult, listPersonasResult, error) {
	personas, err := s.personas.List(ctx)
	if err != nil {
		return nil, listPersonasResult{}, err
	}
	out := listPersonasResult{Personas: make([]string, len(personas))}
	for i, p := range personas {
		out.Personas[i] = p.ID
	}
	return nil, out, nil
}

func (s *Server) mcpReadMemory(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	rest, ok := strings.CutPrefix(req.Params.URI, "memory://")
	if !ok {
		return nil, fmt.Errorf("mcp: malformed memory URI %q", req.Params.URI)
	}
	personaID, memoryID, ok := strings.Cut(rest, "/")
	if !ok || personaID == "" || memoryID == "" {
		return nil, fmt.Errorf("mcp: malformed memory URI %q", req.Params.URI)
	}
	mem, err := s.stores.Metadata.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if mem.PersonaID != personaID {
		return nil, store.ErrNotFound
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: mem.Content}},
	}, nil
}

// handleMCP mounts the MCP streamable-HTTP transport. requests without an
// "id" are notifications and produce only an "end" event, per the
// transport's own JSON-RPC semantics.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	s.mcpHandler.ServeHTTP(w, r)
}
