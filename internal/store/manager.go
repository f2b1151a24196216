package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memoryproxy/memoryproxy/internal/config"
)

// Manager holds the three store handles the memory pipeline depends on:
// per-backend switch, shared-DSN fallback, lazy construction.
type Manager struct {
	Vector   VectorStore
	Graph    GraphStore
	Metadata MetadataStore

	mu      sync.Mutex
	cfg     config.StoreConfig
	pools   map[string]*pgxpool.Pool
	once    sync.Once
	onceErr error
}

// NewManager does not connect eagerly: handles are constructed on first
// use through Ensure, which performs the double-checked construction. For
// backends configured as "memory" (the default), the handle is cheap
// since it opens no connection.
func NewManager(cfg config.StoreConfig) *Manager {
	m := &Manager{cfg: cfg, pools: make(map[string]*pgxpool.Pool)}
	return m
}

// Ensure performs the lazy, double-checked construction of all three
// store handles against ctx. Safe to call concurrently; only the first
// caller pays the connection cost.
func (m *Manager) Ensure(ctx context.Context) error {
	m.once.Do(func() {
		m.onceErr = m.build(ctx)
	})
	return m.onceErr
}

func (m *Manager) build(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vectorDSN := firstNonEmpty(m.cfg.Vector.DSN, m.cfg.DefaultDSN)
	graphDSN := firstNonEmpty(m.cfg.Graph.DSN, m.cfg.DefaultDSN)
	metadataDSN := firstNonEmpty(m.cfg.Metadata.DSN, m.cfg.DefaultDSN)

	vector, err := m.buildVector(ctx, vectorDSN)
	if err != nil {
		return fmt.Errorf("build vector store: %w", err)
	}
	m.Vector = vector

	graph, err := m.buildGraph(ctx, graphDSN)
	if err != nil {
		return fmt.Errorf("build graph store: %w", err)
	}
	m.Graph = graph

	metadata, err := m.buildMetadata(ctx, metadataDSN)
	if err != nil {
		return fmt.Errorf("build metadata store: %w", err)
	}
	m.Metadata = metadata

	return nil
}

func (m *Manager) buildVector(ctx context.Context, dsn string) (VectorStore, error) {
	switch m.cfg.Vector.Backend {
	case "", "memory":
		return NewMemoryVectorStore(), nil
	case "qdrant":
		if dsn == "" {
			return nil, fmt.Errorf("vector backend qdrant requires a dsn")
		}
		return NewQdrantVectorStore(ctx, dsn, firstNonEmpty(m.cfg.Vector.Collection, "memories"),
			m.cfg.Vector.Dimensions, m.cfg.Vector.Metric)
	case "none", "disabled":
		return noopVectorStore{}, nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", m.cfg.Vector.Backend)
	}
}

func (m *Manager) buildGraph(ctx context.Context, dsn string) (GraphStore, error) {
	switch m.cfg.Graph.Backend {
	case "", "memory":
		return NewMemoryGraphStore(), nil
	case "postgres", "pg":
		pool, err := m.pool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresGraphStore(ctx, pool)
	case "none", "disabled":
		return noopGraphStore{}, nil
	default:
		return nil, fmt.Errorf("unsupported graph backend: %s", m.cfg.Graph.Backend)
	}
}

func (m *Manager) buildMetadata(ctx context.Context, dsn string) (MetadataStore, error) {
	switch m.cfg.Metadata.Backend {
	case "", "memory":
		return NewMemoryMetadataStore(), nil
	case "postgres", "pg":
		pool, err := m.pool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresMetadataStore(ctx, pool)
	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s", m.cfg.Metadata.Backend)
	}
}

// pool returns a shared pgxpool.Pool for dsn, opening it once even when
// graph and metadata point at the same DSN.
func (m *Manager) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires a dsn")
	}
	if p, ok := m.pools[dsn]; ok {
		return p, nil
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	m.pools[dsn] = pool
	return pool, nil
}

// Close tears down every handle in reverse order of acquisition.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	if m.Metadata != nil {
		if err := m.Metadata.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.Graph != nil {
		if err := m.Graph.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.Vector != nil {
		if err := m.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type noopVectorStore struct{}

func (noopVectorStore) Upsert(context.Context, VectorRecord) error   { return nil }
func (noopVectorStore) Delete(context.Context, string, string) error { return nil }
func (noopVectorStore) SimilaritySearch(context.Context, string, []float32, int) ([]VectorMatch, error) {
	return nil, nil
}
func (noopVectorStore) Touch(context.Context, string, string) error { return nil }
func (noopVectorStore) Close() error                                { return nil }

type noopGraphStore struct{}

func (noopGraphStore) UpsertNode(context.Context, GraphNode) error { return nil }
func (noopGraphStore) UpsertEdge(context.Context, GraphEdge) error { return nil }
func (noopGraphStore) Neighbors(context.Context, string, string, int) (GraphNeighborhood, error) {
	return GraphNeighborhood{}, nil
}
func (noopGraphStore) Dump(context.Context, string) (GraphNeighborhood, error) {
	return GraphNeighborhood{}, nil
}
func (noopGraphStore) GetNode(context.Context, string, string) (GraphNode, bool, error) {
	return GraphNode{}, false, nil
}
func (noopGraphStore) Close() error { return nil }
