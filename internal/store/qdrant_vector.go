package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller-supplied memory/vector id, since Qdrant
// point ids must be a u64 or UUID and ours are opaque strings.
const payloadIDField = "_original_id"
const payloadPersonaField = "persona_id"
const payloadEntityField = "entity_id"

// QdrantVectorStore adapts store.VectorStore to a Qdrant collection:
// DSN-based client construction, idempotent collection creation, and
// deterministic-UUID derivation for non-UUID string ids.
type QdrantVectorStore struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
}

// NewQdrantVectorStore parses dsn as host[:port]?api_key=... and ensures
// the target collection exists with the given dimension/metric.
func NewQdrantVectorStore(ctx context.Context, dsn, collection string, dimension int, metric string) (*QdrantVectorStore, error) {
	host, port, apiKey, err := parseQdrantDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	s := &QdrantVectorStore{client: client, collection: collection, dimension: uint64(dimension)}
	if err := s.ensureCollection(ctx, metric); err != nil {
		return nil, err
	}
	return s, nil
}

func parseQdrantDSN(dsn string) (host string, port int, apiKey string, err error) {
	if !strings.Contains(dsn, "://") {
		dsn = "//" + dsn // bare host[:port] form: parse it as an authority, not a scheme
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", 0, "", err
	}
	host = u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port = 6334
	if p := u.Port(); p != "" {
		if n, convErr := strconv.Atoi(p); convErr == nil {
			port = n
		}
	}
	apiKey = u.Query().Get("api_key")
	return host, port, apiKey, nil
}

func (s *QdrantVectorStore) ensureCollection(ctx context.Context, metric string) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension,
			Distance: distanceFor(metric),
		}),
	})
}

func distanceFor(metric string) qdrant.Distance {
	switch strings.ToLower(metric) {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid", "euclidean":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// pointID derives a stable UUID from an arbitrary string id, so callers
// may use their own opaque ids without colliding with Qdrant's id format.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *QdrantVectorStore) Upsert(ctx context.Context, rec VectorRecord) error {
	payload := map[string]any{
		payloadIDField:      rec.ID,
		payloadPersonaField: rec.PersonaID,
		payloadEntityField:  rec.EntityID,
		"content":           rec.Content,
		"created_at":        rec.CreatedAt.Unix(),
		"last_accessed_at":  rec.LastAccessedAt.Unix(),
		"access_count":      rec.AccessCount,
		"score":             rec.Score,
	}
	for k, v := range rec.Metadata {
		payload["meta_"+k] = v
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID(rec.ID)),
			Vectors: qdrant.NewVectorsDense(rec.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantVectorStore) Delete(ctx context.Context, personaID, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(id))),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (s *QdrantVectorStore) SimilaritySearch(ctx context.Context, personaID string, embedding []float32, topK int) ([]VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(payloadPersonaField, personaID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	matches := make([]VectorMatch, 0, len(results))
	for _, r := range results {
		payload := r.GetPayload()
		rec := VectorRecord{
			PersonaID: personaID,
			Embedding: embedding,
		}
		if v, ok := payload[payloadIDField]; ok {
			rec.ID = v.GetStringValue()
		}
		if v, ok := payload["content"]; ok {
			rec.Content = v.GetStringValue()
		}
		if v, ok := payload[payloadEntityField]; ok {
			rec.EntityID = v.GetStringValue()
		}
		matches = append(matches, VectorMatch{ID: rec.ID, Similarity: float64(r.GetScore()), Record: rec})
	}
	return matches, nil
}

func (s *QdrantVectorStore) Touch(context.Context, string, string) error {
	// Access metrics live in the relational metadata store, not the vector
	// payload; Qdrant's payload is not updated on read.
	return nil
}

func (s *QdrantVectorStore) Close() error { return nil }
