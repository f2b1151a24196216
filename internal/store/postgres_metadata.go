package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMetadataStore adapts store.MetadataStore to Postgres:
// idempotent `CREATE TABLE IF NOT EXISTS` migrations at startup,
// parameterized CRUD.
type PostgresMetadataStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMetadataStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresMetadataStore, error) {
	s := &PostgresMetadataStore{pool: pool}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresMetadataStore) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
			vector_id TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'long_term',
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			event_time TIMESTAMPTZ,
			last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			access_count BIGINT NOT NULL DEFAULT 0,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_vector_id ON memories (vector_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_persona_type ON memories (persona_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_persona_created ON memories (persona_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_vector_entity ON memories (vector_id, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_event_persona ON memories (event_time, persona_id)`,
		`CREATE TABLE IF NOT EXISTS configurations (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("metadata store init: %w", err)
		}
	}
	return nil
}

func (s *PostgresMetadataStore) CreatePersona(ctx context.Context, p Persona) (Persona, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO personas (id, description, system_prompt)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET id = personas.id
		RETURNING id, description, system_prompt, created_at, updated_at
	`, p.ID, p.Description, p.SystemPrompt)
	return scanPersona(row)
}

func (s *PostgresMetadataStore) GetPersona(ctx context.Context, id string) (Persona, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, description, system_prompt, created_at, updated_at FROM personas WHERE id = $1
	`, id)
	p, err := scanPersona(row)
	if err == pgx.ErrNoRows {
		return Persona{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresMetadataStore) ListPersonas(ctx context.Context) ([]Persona, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, description, system_prompt, created_at, updated_at FROM personas`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()
	var out []Persona
	for rows.Next() {
		p, err := scanPersonaRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresMetadataStore) UpdatePersonaFields(ctx context.Context, p Persona) (Persona, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE personas SET description = $2, system_prompt = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, description, system_prompt, created_at, updated_at
	`, p.ID, p.Description, p.SystemPrompt)
	updated, err := scanPersona(row)
	if err == pgx.ErrNoRows {
		return Persona{}, ErrNotFound
	}
	return updated, err
}

func (s *PostgresMetadataStore) DeletePersona(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM personas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) CreateMemory(ctx context.Context, m Memory) (Memory, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return Memory{}, fmt.Errorf("marshal memory metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO memories (id, persona_id, vector_id, entity_id, type, content, event_time, score, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, persona_id, vector_id, entity_id, type, content, created_at, event_time,
			last_accessed_at, access_count, score, metadata
	`, m.ID, m.PersonaID, m.VectorID, m.EntityID, string(m.Type), m.Content, m.EventTime, m.Score, meta)
	return scanMemory(row)
}

func (s *PostgresMetadataStore) GetMemory(ctx context.Context, id string) (Memory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, persona_id, vector_id, entity_id, type, content, created_at, event_time,
			last_accessed_at, access_count, score, metadata
		FROM memories WHERE id = $1
	`, id)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresMetadataStore) GetMemoryByVectorID(ctx context.Context, vectorID string) (Memory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, persona_id, vector_id, entity_id, type, content, created_at, event_time,
			last_accessed_at, access_count, score, metadata
		FROM memories WHERE vector_id = $1
	`, vectorID)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresMetadataStore) ListMemories(ctx context.Context, personaID string) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, persona_id, vector_id, entity_id, type, content, created_at, event_time,
			last_accessed_at, access_count, score, metadata
		FROM memories WHERE persona_id = $1
	`, personaID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresMetadataStore) UpdateMemory(ctx context.Context, m Memory) (Memory, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return Memory{}, fmt.Errorf("marshal memory metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE memories SET content = $2, vector_id = $3, entity_id = $4, event_time = $5, metadata = $6
		WHERE id = $1
		RETURNING id, persona_id, vector_id, entity_id, type, content, created_at, event_time,
			last_accessed_at, access_count, score, metadata
	`, m.ID, m.Content, m.VectorID, m.EntityID, m.EventTime, meta)
	result, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	return result, err
}

func (s *PostgresMetadataStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) Touch(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memories SET last_accessed_at = $2, access_count = access_count + 1 WHERE id = $1
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) GetConfig(ctx context.Context, key string) (ConfigEntry, bool, error) {
	var c ConfigEntry
	var raw []byte
	c.Key = key
	err := s.pool.QueryRow(ctx, `SELECT value, updated_at FROM configurations WHERE key = $1`, key).Scan(&raw, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return ConfigEntry{}, false, nil
	}
	if err != nil {
		return ConfigEntry{}, false, fmt.Errorf("get config: %w", err)
	}
	if err := json.Unmarshal(raw, &c.Value); err != nil {
		return ConfigEntry{}, false, fmt.Errorf("unmarshal config value: %w", err)
	}
	return c, true, nil
}

func (s *PostgresMetadataStore) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM configurations`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close()
	var out []ConfigEntry
	for rows.Next() {
		var c ConfigEntry
		var raw []byte
		if err := rows.Scan(&c.Key, &raw, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		if err := json.Unmarshal(raw, &c.Value); err != nil {
			return nil, fmt.Errorf("unmarshal config value: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresMetadataStore) PutConfig(ctx context.Context, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal config value: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO configurations (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, raw)
	if err != nil {
		return fmt.Errorf("put config: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) Close() error {
	s.pool.Close()
	return nil
}

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query's
// per-row Scan), letting scanPersona/scanMemory share one Scan signature.
type row interface {
	Scan(dest ...any) error
}

func scanPersona(r row) (Persona, error) {
	var p Persona
	err := r.Scan(&p.ID, &p.Description, &p.SystemPrompt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPersonaRows(r pgx.Rows) (Persona, error) { return scanPersona(r) }

func scanMemory(r row) (Memory, error) {
	var m Memory
	var typ string
	var raw []byte
	err := r.Scan(&m.ID, &m.PersonaID, &m.VectorID, &m.EntityID, &typ, &m.Content, &m.CreatedAt,
		&m.EventTime, &m.LastAccessedAt, &m.AccessCount, &m.Score, &raw)
	if err != nil {
		return Memory{}, err
	}
	m.Type = MemoryType(typ)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.Metadata); err != nil {
			return Memory{}, fmt.Errorf("unmarshal memory metadata: %w", err)
		}
	}
	return m, nil
}

func scanMemoryRows(r pgx.Rows) (Memory, error) { return scanMemory(r) }
