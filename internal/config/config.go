// Package config loads the proxy's configuration: process defaults,
// a YAML file, environment overrides, and a relational overlay read at
// runtime through the /config surface.
package config

import "time"

// EndpointConfig describes one LM-provider endpoint (chat, extraction, or
// embedding). Each is independently configured.
type EndpointConfig struct {
	Vendor         string        `yaml:"vendor" json:"vendor"` // "openai" | "anthropic"
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	APIKey         string        `yaml:"api_key" json:"api_key"`
	Model          string        `yaml:"model" json:"model"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	PromptTemplate string        `yaml:"prompt_template" json:"prompt_template,omitempty"`
}

// MemorySystemConfig controls the memory pipeline's on/off switches and
// global behavior. Matches the recognized `memory_system` config key.
type MemorySystemConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	AutoSave       bool    `yaml:"auto_save" json:"auto_save"`
	MaxLongTerm    int     `yaml:"max_long_term" json:"max_long_term"`
	InjectionMode  string  `yaml:"injection_mode" json:"injection_mode"` // system|messages|mixed
	DedupThreshold float64 `yaml:"dedup_threshold" json:"dedup_threshold"`
}

// MemoryScoringConfig holds the final-score weights and recency decay.
type MemoryScoringConfig struct {
	WeightSimilarity   float64 `yaml:"weight_similarity" json:"weight_similarity"`
	WeightAccess       float64 `yaml:"weight_access" json:"weight_access"`
	WeightRecency      float64 `yaml:"weight_recency" json:"weight_recency"`
	WeightGraph        float64 `yaml:"weight_graph" json:"weight_graph"`
	RecencyDecayLambda float64 `yaml:"recency_decay_lambda" json:"recency_decay_lambda"`
}

// MilvusConfig names the recognized `milvus` config key (top_k tuning for
// the vector store, named for parity with the source's vendor choice even
// though the vector backend here is Qdrant or in-memory).
type MilvusConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`
}

// KuzuConfig names the recognized `kuzu` config key (graph table names).
type KuzuConfig struct {
	UserTable    string `yaml:"user_table" json:"user_table"`
	EntityTable  string `yaml:"entity_table" json:"entity_table"`
	ConceptTable string `yaml:"concept_table" json:"concept_table"`
}

// CacheConfig controls the embedding cache.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Backend  string        `yaml:"backend" json:"backend"` // "memory" | "redis"
	RedisDSN string        `yaml:"redis_dsn" json:"redis_dsn,omitempty"`
}

// StoreBackendConfig describes one store backend selection.
type StoreBackendConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // memory|postgres|qdrant|none (qdrant: vector only; postgres: graph/metadata; none: vector/graph)
	DSN        string `yaml:"dsn" json:"dsn,omitempty"`
	Dimensions int    `yaml:"dimensions" json:"dimensions,omitempty"`
	Metric     string `yaml:"metric" json:"metric,omitempty"`
	Collection string `yaml:"collection" json:"collection,omitempty"`
}

// StoreConfig groups the three store backends plus a shared default DSN.
type StoreConfig struct {
	DefaultDSN string             `yaml:"default_dsn" json:"default_dsn,omitempty"`
	Vector     StoreBackendConfig `yaml:"vector" json:"vector"`
	Graph      StoreBackendConfig `yaml:"graph" json:"graph"`
	Metadata   StoreBackendConfig `yaml:"metadata" json:"metadata"`
}

// ServerConfig holds HTTP bind and auth settings.
type ServerConfig struct {
	Addr   string `yaml:"addr" json:"addr"`
	APIKey string `yaml:"api_key" json:"api_key,omitempty"`
}

// LogConfig controls the observability logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	Path  string `yaml:"path" json:"path,omitempty"`
}

// Config is the fully resolved process configuration.
type Config struct {
	Server           ServerConfig        `yaml:"server" json:"server"`
	Log              LogConfig           `yaml:"log" json:"log"`
	Store            StoreConfig         `yaml:"store" json:"store"`
	Cache            CacheConfig         `yaml:"cache" json:"cache"`
	LLM              EndpointConfig      `yaml:"llm" json:"llm"`
	Embedding        EndpointConfig      `yaml:"embedding" json:"embedding"`
	MemoryExtraction EndpointConfig      `yaml:"memory_extraction" json:"memory_extraction"`
	MemorySystem     MemorySystemConfig  `yaml:"memory_system" json:"memory_system"`
	MemoryScoring    MemoryScoringConfig `yaml:"memory_scoring" json:"memory_scoring"`
	Milvus           MilvusConfig        `yaml:"milvus" json:"milvus"`
	Kuzu             KuzuConfig          `yaml:"kuzu" json:"kuzu"`
}

// Default returns the process's zero-configuration fallback, used whenever
// a key is absent from both the relational overlay and the YAML file.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8085"},
		Log:    LogConfig{Level: "info"},
		Store: StoreConfig{
			Vector:   StoreBackendConfig{Backend: "memory", Dimensions: 768, Metric: "cosine"},
			Graph:    StoreBackendConfig{Backend: "memory"},
			Metadata: StoreBackendConfig{Backend: "memory"},
		},
		Cache: CacheConfig{TTL: time.Hour, Backend: "memory"},
		LLM: EndpointConfig{
			Vendor:  "openai",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Embedding: EndpointConfig{
			Vendor:  "openai",
			Model:   "text-embedding-3-small",
			Timeout: 30 * time.Second,
		},
		MemoryExtraction: EndpointConfig{
			Vendor:  "openai",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		MemorySystem: MemorySystemConfig{
			Enabled:        true,
			AutoSave:       true,
			MaxLongTerm:    3,
			InjectionMode:  "system",
			DedupThreshold: 0.85,
		},
		MemoryScoring: MemoryScoringConfig{
			WeightSimilarity:   0.4,
			WeightAccess:       0.3,
			WeightRecency:      0.2,
			WeightGraph:        0.1,
			RecencyDecayLambda: 1e-6,
		},
		Milvus: MilvusConfig{TopK: 10},
		Kuzu:   KuzuConfig{UserTable: "User", EntityTable: "Entity", ConceptTable: "Concept"},
	}
}
