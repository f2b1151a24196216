// Command memoryproxy runs the memory-augmented conversational proxy's
// HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/memoryproxy/memoryproxy/internal/cache"
	"github.com/memoryproxy/memoryproxy/internal/config"
	"github.com/memoryproxy/memoryproxy/internal/dedup"
	"github.com/memoryproxy/memoryproxy/internal/extraction"
	"github.com/memoryproxy/memoryproxy/internal/httpapi"
	"github.com/memoryproxy/memoryproxy/internal/llm"
	"github.com/memoryproxy/memoryproxy/internal/observability"
	"github.com/memoryproxy/memoryproxy/internal/persona"
	"github.com/memoryproxy/memoryproxy/internal/retrieval"
	"github.com/memoryproxy/memoryproxy/internal/store"
	"github.com/memoryproxy/memoryproxy/internal/writecoord"
	"github.com/redis/go-redis/v9"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("memoryproxy")
	}
}

func run() error {
	cfg, err := config.Load(getenv("MEMORYPROXY_CONFIG", "config.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := observability.InitLogger(cfg.Log.Path, cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	otel.SetTracerProvider(observability.NewTracerProvider())

	baseCtx := context.Background()

	stores := store.NewManager(cfg.Store)
	if err := stores.Ensure(baseCtx); err != nil {
		return fmt.Errorf("init stores: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Msg("error closing stores")
		}
	}()

	// Relational config overlay, applied over the file-resolved config;
	// environment variables are re-applied after so they keep precedence.
	if entries, err := stores.Metadata.ListConfig(baseCtx); err != nil {
		log.Warn().Err(err).Msg("config overlay: list failed, continuing with file/env config")
	} else {
		overlay := make(map[string]map[string]any, len(entries))
		for _, e := range entries {
			overlay[e.Key] = e.Value
		}
		config.ApplyOverlay(&cfg, overlay)
		config.ApplyEnv(&cfg)
	}

	// Both the OpenAI and Anthropic SDKs fall back to http.DefaultClient
	// when no option.WithHTTPClient is given, so instrumenting it here
	// covers every outbound LM call without threading a client through
	// each constructor.
	http.DefaultClient = observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second})

	chatProvider := newChatProvider(cfg.LLM)
	extractionProvider := newChatProvider(cfg.MemoryExtraction)
	// Embeddings are only implemented against the OpenAI client shape; the
	// embedding endpoint's vendor field is reserved for a future embedder.
	embedder := llm.NewOpenAIClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model)

	embCache := newEmbeddingCache(cfg.Cache)

	retrievalCfg := retrieval.DefaultConfig()
	retrievalCfg.TopK = cfg.Milvus.TopK
	retrievalCfg.MaxInject = cfg.MemorySystem.MaxLongTerm
	retrievalCfg.Weights.Similarity = cfg.MemoryScoring.WeightSimilarity
	retrievalCfg.Weights.Access = cfg.MemoryScoring.WeightAccess
	retrievalCfg.Weights.Recency = cfg.MemoryScoring.WeightRecency
	retrievalCfg.Weights.Graph = cfg.MemoryScoring.WeightGraph
	retrievalCfg.Weights.DecayLambda = cfg.MemoryScoring.RecencyDecayLambda

	retrievalEngine := retrieval.New(stores.Vector, stores.Graph, stores.Metadata, embedder, embCache, cfg.Embedding.Model, retrievalCfg)
	extractionEngine := extraction.New(extractionProvider, cfg.MemoryExtraction.Model)
	dedupChecker := dedup.New(stores.Vector, embedder, cfg.Embedding.Model, cfg.MemorySystem.DedupThreshold)
	writer := writecoord.New(stores.Vector, stores.Metadata, stores.Graph, embedder, cfg.Embedding.Model)
	personas := persona.New(stores.Metadata, stores.Vector)

	server := httpapi.NewServer(httpapi.Dependencies{
		Config:       cfg,
		Stores:       stores,
		ChatProvider: chatProvider,
		Embedder:     embedder,
		Retrieval:    retrievalEngine,
		Extraction:   extractionEngine,
		Dedup:        dedupChecker,
		Writer:       writer,
		Personas:     personas,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("memoryproxy listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-stop:
		log.Info().Msg("memoryproxy shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(baseCtx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	return nil
}

// newChatProvider dispatches an EndpointConfig to the matching llm.Provider
// implementation, defaulting to OpenAI when vendor is unset.
func newChatProvider(ep config.EndpointConfig) llm.Provider {
	switch ep.Vendor {
	case "anthropic":
		return llm.NewAnthropicClient(ep.BaseURL, ep.APIKey, ep.Model)
	default:
		return llm.NewOpenAIClient(ep.BaseURL, ep.APIKey, ep.Model)
	}
}

func newEmbeddingCache(cfg config.CacheConfig) cache.EmbeddingCache {
	if cfg.Backend == "redis" && cfg.RedisDSN != "" {
		opts, err := redis.ParseURL(cfg.RedisDSN)
		if err != nil {
			log.Warn().Err(err).Msg("cache: invalid redis dsn, falling back to in-process cache")
			return cache.NewInProcessCache(cfg.TTL)
		}
		return cache.NewRedisCache(redis.NewClient(opts), cfg.TTL)
	}
	return cache.NewInProcessCache(cfg.TTL)
}
