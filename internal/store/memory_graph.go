package store

import (
	"context"
	"sync"
)

type nodeKey struct {
	personaID string
	name      string
}

// MemoryGraphStore is an in-memory GraphStore: a nodes map plus an
// adjacency map keyed by source node, persona-scoped, with k-hop BFS.
type MemoryGraphStore struct {
	mu    sync.RWMutex
	nodes map[nodeKey]GraphNode
	edges map[nodeKey][]GraphEdge // adjacency from the edge's From node
}

func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		nodes: make(map[nodeKey]GraphNode),
		edges: make(map[nodeKey][]GraphEdge),
	}
}

func (s *MemoryGraphStore) UpsertNode(_ context.Context, node GraphNode) error {
	node, err := validateNode(node)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nodeKey{node.PersonaID, node.Name}
	if _, exists := s.nodes[key]; !exists { // create-if-absent, never fail on duplicate
		s.nodes[key] = node
	}
	return nil
}

func (s *MemoryGraphStore) UpsertEdge(_ context.Context, edge GraphEdge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fromKey := nodeKey{edge.PersonaID, edge.From}
	for i, e := range s.edges[fromKey] {
		if e.To == edge.To && e.Kind == edge.Kind {
			s.edges[fromKey][i] = edge // idempotent upsert on the natural key
			return nil
		}
	}
	s.edges[fromKey] = append(s.edges[fromKey], edge)
	return nil
}

func (s *MemoryGraphStore) GetNode(_ context.Context, personaID, name string) (GraphNode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeKey{personaID, name}]
	return n, ok, nil
}

// Neighbors performs an undirected BFS of up to depth hops from name,
// within the persona, returning every distinct node and edge visited.
func (s *MemoryGraphStore) Neighbors(_ context.Context, personaID, name string, depth int) (GraphNeighborhood, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if depth <= 0 {
		depth = 1
	}

	visitedNodes := map[string]bool{name: true}
	visitedEdges := make(map[string]GraphEdge)
	frontier := []string{name}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, current := range frontier {
			for _, e := range s.edges[nodeKey{personaID, current}] {
				edgeID := e.From + "->" + e.To + ":" + string(e.Kind)
				visitedEdges[edgeID] = e
				if !visitedNodes[e.To] {
					visitedNodes[e.To] = true
					next = append(next, e.To)
				}
			}
			// also walk incoming edges so the neighborhood is undirected
			for key, bucket := range s.edges {
				if key.personaID != personaID {
					continue
				}
				for _, e := range bucket {
					if e.To != current {
						continue
					}
					edgeID := e.From + "->" + e.To + ":" + string(e.Kind)
					visitedEdges[edgeID] = e
					if !visitedNodes[e.From] {
						visitedNodes[e.From] = true
						next = append(next, e.From)
					}
				}
			}
		}
		frontier = next
	}

	result := GraphNeighborhood{}
	for nodeName := range visitedNodes {
		if n, ok := s.nodes[nodeKey{personaID, nodeName}]; ok {
			result.Nodes = append(result.Nodes, n)
		}
	}
	for _, e := range visitedEdges {
		result.Edges = append(result.Edges, e)
	}
	return result, nil
}

// Dump returns every node and edge in the persona's graph.
func (s *MemoryGraphStore) Dump(_ context.Context, personaID string) (GraphNeighborhood, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := GraphNeighborhood{}
	for key, n := range s.nodes {
		if key.personaID == personaID {
			result.Nodes = append(result.Nodes, n)
		}
	}
	for key, bucket := range s.edges {
		if key.personaID == personaID {
			result.Edges = append(result.Edges, bucket...)
		}
	}
	return result, nil
}

func (s *MemoryGraphStore) Close() error { return nil }
