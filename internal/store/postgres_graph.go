package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresGraphStore adapts store.GraphStore to Postgres: idempotent
// table/index creation at startup, fully parameterized queries
// throughout.
type PostgresGraphStore struct {
	pool *pgxpool.Pool
}

func NewPostgresGraphStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresGraphStore, error) {
	s := &PostgresGraphStore{pool: pool}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresGraphStore) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			persona_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (persona_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			id BIGSERIAL PRIMARY KEY,
			persona_id TEXT NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			kind TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			UNIQUE (persona_id, source, target, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges (persona_id, source)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges (persona_id, target)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("graph store init: %w", err)
		}
	}
	return nil
}

func (s *PostgresGraphStore) UpsertNode(ctx context.Context, node GraphNode) error {
	node, err := validateNode(node)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO graph_nodes (persona_id, name, type, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (persona_id, name) DO NOTHING
	`, node.PersonaID, node.Name, node.Type, node.Description)
	if err != nil {
		return fmt.Errorf("upsert graph node: %w", err)
	}
	return nil
}

func (s *PostgresGraphStore) UpsertEdge(ctx context.Context, edge GraphEdge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO graph_edges (persona_id, source, target, kind, weight)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (persona_id, source, target, kind) DO UPDATE SET weight = EXCLUDED.weight
	`, edge.PersonaID, edge.From, edge.To, string(edge.Kind), edge.Weight)
	if err != nil {
		return fmt.Errorf("upsert graph edge: %w", err)
	}
	return nil
}

func (s *PostgresGraphStore) GetNode(ctx context.Context, personaID, name string) (GraphNode, bool, error) {
	var n GraphNode
	n.PersonaID, n.Name = personaID, name
	err := s.pool.QueryRow(ctx, `
		SELECT type, description FROM graph_nodes WHERE persona_id = $1 AND name = $2
	`, personaID, name).Scan(&n.Type, &n.Description)
	if err == pgx.ErrNoRows {
		return GraphNode{}, false, nil
	}
	if err != nil {
		return GraphNode{}, false, fmt.Errorf("get graph node: %w", err)
	}
	return n, true, nil
}

// Neighbors performs an iterative, depth-bounded BFS issuing one
// parameterized query per hop (source or target match), collecting edge
// weights along the way for graph-density scoring.
func (s *PostgresGraphStore) Neighbors(ctx context.Context, personaID, name string, depth int) (GraphNeighborhood, error) {
	if depth <= 0 {
		depth = 1
	}
	visitedNodes := map[string]bool{name: true}
	visitedEdges := map[string]GraphEdge{}
	frontier := []string{name}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		rows, err := s.pool.Query(ctx, `
			SELECT source, target, kind, weight FROM graph_edges
			WHERE persona_id = $1 AND (source = ANY($2) OR target = ANY($2))
		`, personaID, frontier)
		if err != nil {
			return GraphNeighborhood{}, fmt.Errorf("query graph edges: %w", err)
		}
		var next []string
		for rows.Next() {
			var e GraphEdge
			var kind string
			if err := rows.Scan(&e.From, &e.To, &kind, &e.Weight); err != nil {
				rows.Close()
				return GraphNeighborhood{}, fmt.Errorf("scan graph edge: %w", err)
			}
			e.PersonaID, e.Kind = personaID, RelationKind(kind)
			visitedEdges[e.From+"->"+e.To+":"+string(e.Kind)] = e
			for _, candidate := range []string{e.From, e.To} {
				if !visitedNodes[candidate] {
					visitedNodes[candidate] = true
					next = append(next, candidate)
				}
			}
		}
		rows.Close()
		frontier = next
	}

	names := make([]string, 0, len(visitedNodes))
	for n := range visitedNodes {
		names = append(names, n)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT name, type, description FROM graph_nodes WHERE persona_id = $1 AND name = ANY($2)
	`, personaID, names)
	if err != nil {
		return GraphNeighborhood{}, fmt.Errorf("query graph nodes: %w", err)
	}
	defer rows.Close()

	result := GraphNeighborhood{}
	for rows.Next() {
		var n GraphNode
		n.PersonaID = personaID
		if err := rows.Scan(&n.Name, &n.Type, &n.Description); err != nil {
			return GraphNeighborhood{}, fmt.Errorf("scan graph node: %w", err)
		}
		result.Nodes = append(result.Nodes, n)
	}
	for _, e := range visitedEdges {
		result.Edges = append(result.Edges, e)
	}
	return result, nil
}

// Dump returns every node and edge in the persona's graph.
func (s *PostgresGraphStore) Dump(ctx context.Context, personaID string) (GraphNeighborhood, error) {
	result := GraphNeighborhood{}

	nodeRows, err := s.pool.Query(ctx, `
		SELECT name, type, description FROM graph_nodes WHERE persona_id = $1
	`, personaID)
	if err != nil {
		return GraphNeighborhood{}, fmt.Errorf("dump graph nodes: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var n GraphNode
		n.PersonaID = personaID
		if err := nodeRows.Scan(&n.Name, &n.Type, &n.Description); err != nil {
			return GraphNeighborhood{}, fmt.Errorf("scan graph node: %w", err)
		}
		result.Nodes = append(result.Nodes, n)
	}

	edgeRows, err := s.pool.Query(ctx, `
		SELECT source, target, kind, weight FROM graph_edges WHERE persona_id = $1
	`, personaID)
	if err != nil {
		return GraphNeighborhood{}, fmt.Errorf("dump graph edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e GraphEdge
		var kind string
		if err := edgeRows.Scan(&e.From, &e.To, &kind, &e.Weight); err != nil {
			return GraphNeighborhood{}, fmt.Errorf("scan graph edge: %w", err)
		}
		e.PersonaID, e.Kind = personaID, RelationKind(kind)
		result.Edges = append(result.Edges, e)
	}
	return result, nil
}

func (s *PostgresGraphStore) Close() error {
	s.pool.Close()
	return nil
}
