package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load resolves the process configuration: defaults, overlaid by a YAML
// file (if present at path), overlaid by environment variables. The
// relational overlay (read through the store) is applied later by callers
// that have a store.Manager, since it requires a live connection; see
// ApplyOverlay.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // best effort; absence of a .env file is not an error

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv overrides fields with environment variables when present.
// Callers that merge the relational overlay re-apply it afterwards so the
// resolved precedence stays env > db > file > default.
func ApplyEnv(cfg *Config) {
	cfg.Server.Addr = firstNonEmpty(os.Getenv("MEMORYPROXY_ADDR"), cfg.Server.Addr)
	cfg.Server.APIKey = firstNonEmpty(os.Getenv("MEMORYPROXY_API_KEY"), cfg.Server.APIKey)

	cfg.LLM.BaseURL = firstNonEmpty(os.Getenv("MEMORYPROXY_LLM_BASE_URL"), cfg.LLM.BaseURL)
	cfg.LLM.APIKey = firstNonEmpty(os.Getenv("MEMORYPROXY_LLM_API_KEY"), cfg.LLM.APIKey)
	cfg.LLM.Model = firstNonEmpty(os.Getenv("MEMORYPROXY_LLM_MODEL"), cfg.LLM.Model)
	cfg.LLM.Vendor = firstNonEmpty(os.Getenv("MEMORYPROXY_LLM_VENDOR"), cfg.LLM.Vendor)

	cfg.Embedding.BaseURL = firstNonEmpty(os.Getenv("MEMORYPROXY_EMBEDDING_BASE_URL"), cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = firstNonEmpty(os.Getenv("MEMORYPROXY_EMBEDDING_API_KEY"), cfg.Embedding.APIKey)
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("MEMORYPROXY_EMBEDDING_MODEL"), cfg.Embedding.Model)

	cfg.MemoryExtraction.BaseURL = firstNonEmpty(os.Getenv("MEMORYPROXY_EXTRACTION_BASE_URL"), cfg.MemoryExtraction.BaseURL)
	cfg.MemoryExtraction.APIKey = firstNonEmpty(os.Getenv("MEMORYPROXY_EXTRACTION_API_KEY"), cfg.MemoryExtraction.APIKey)
	cfg.MemoryExtraction.Model = firstNonEmpty(os.Getenv("MEMORYPROXY_EXTRACTION_MODEL"), cfg.MemoryExtraction.Model)
	cfg.MemoryExtraction.Vendor = firstNonEmpty(os.Getenv("MEMORYPROXY_EXTRACTION_VENDOR"), cfg.MemoryExtraction.Vendor)

	cfg.Store.DefaultDSN = firstNonEmpty(os.Getenv("MEMORYPROXY_STORE_DSN"), cfg.Store.DefaultDSN)
	cfg.Store.Vector.Backend = firstNonEmpty(os.Getenv("MEMORYPROXY_VECTOR_BACKEND"), cfg.Store.Vector.Backend)
	cfg.Store.Vector.DSN = firstNonEmpty(os.Getenv("MEMORYPROXY_VECTOR_DSN"), cfg.Store.Vector.DSN)
	cfg.Store.Graph.Backend = firstNonEmpty(os.Getenv("MEMORYPROXY_GRAPH_BACKEND"), cfg.Store.Graph.Backend)
	cfg.Store.Graph.DSN = firstNonEmpty(os.Getenv("MEMORYPROXY_GRAPH_DSN"), cfg.Store.Graph.DSN)
	cfg.Store.Metadata.Backend = firstNonEmpty(os.Getenv("MEMORYPROXY_METADATA_BACKEND"), cfg.Store.Metadata.Backend)
	cfg.Store.Metadata.DSN = firstNonEmpty(os.Getenv("MEMORYPROXY_METADATA_DSN"), cfg.Store.Metadata.DSN)

	cfg.Cache.Backend = firstNonEmpty(os.Getenv("MEMORYPROXY_CACHE_BACKEND"), cfg.Cache.Backend)
	cfg.Cache.RedisDSN = firstNonEmpty(os.Getenv("MEMORYPROXY_REDIS_DSN"), cfg.Cache.RedisDSN)
	if v := os.Getenv("MEMORYPROXY_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTL = time.Duration(n) * time.Second
		}
	}

	cfg.Log.Level = firstNonEmpty(os.Getenv("MEMORYPROXY_LOG_LEVEL"), cfg.Log.Level)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ApplyOverlay merges relational-store rows over cfg following the
// env > db > file > default precedence. Only keys
// present in the overlay are touched; unknown keys are ignored.
func ApplyOverlay(cfg *Config, overlay map[string]map[string]any) {
	applyEndpointOverlay(&cfg.LLM, overlay["llm"])
	applyEndpointOverlay(&cfg.Embedding, overlay["embedding"])
	applyEndpointOverlay(&cfg.MemoryExtraction, overlay["memory_extraction"])

	if v, ok := overlay["memory_system"]; ok {
		if b, ok := v["enabled"].(bool); ok {
			cfg.MemorySystem.Enabled = b
		}
		if b, ok := v["auto_save"].(bool); ok {
			cfg.MemorySystem.AutoSave = b
		}
		if n, ok := asFloat(v["max_long_term"]); ok {
			cfg.MemorySystem.MaxLongTerm = int(n)
		}
		if s, ok := v["injection_mode"].(string); ok {
			cfg.MemorySystem.InjectionMode = s
		}
		if n, ok := asFloat(v["dedup_threshold"]); ok {
			cfg.MemorySystem.DedupThreshold = n
		}
	}
	if v, ok := overlay["memory_scoring"]; ok {
		if n, ok := asFloat(v["weight_similarity"]); ok {
			cfg.MemoryScoring.WeightSimilarity = n
		}
		if n, ok := asFloat(v["weight_access"]); ok {
			cfg.MemoryScoring.WeightAccess = n
		}
		if n, ok := asFloat(v["weight_recency"]); ok {
			cfg.MemoryScoring.WeightRecency = n
		}
		if n, ok := asFloat(v["weight_graph"]); ok {
			cfg.MemoryScoring.WeightGraph = n
		}
		if n, ok := asFloat(v["recency_decay_lambda"]); ok {
			cfg.MemoryScoring.RecencyDecayLambda = n
		}
	}
	if v, ok := overlay["milvus"]; ok {
		if n, ok := asFloat(v["top_k"]); ok {
			cfg.Milvus.TopK = int(n)
		}
	}
	if v, ok := overlay["kuzu"]; ok {
		if s, ok := v["user_table"].(string); ok {
			cfg.Kuzu.UserTable = s
		}
		if s, ok := v["entity_table"].(string); ok {
			cfg.Kuzu.EntityTable = s
		}
		if s, ok := v["concept_table"].(string); ok {
			cfg.Kuzu.ConceptTable = s
		}
	}
	if v, ok := overlay["cache"]; ok {
		if n, ok := asFloat(v["ttl"]); ok {
			cfg.Cache.TTL = time.Duration(n) * time.Second
		}
	}
}

func applyEndpointOverlay(ep *EndpointConfig, v map[string]any) {
	if v == nil {
		return
	}
	if s, ok := v["base_url"].(string); ok {
		ep.BaseURL = s
	}
	if s, ok := v["api_key"].(string); ok {
		ep.APIKey = s
	}
	if s, ok := v["model"].(string); ok {
		ep.Model = s
	}
	if s, ok := v["vendor"].(string); ok {
		ep.Vendor = s
	}
	if n, ok := asFloat(v["timeout"]); ok {
		ep.Timeout = time.Duration(n) * time.Second
	}
	if s, ok := v["prompt_template"].(string); ok {
		ep.PromptTemplate = s
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
