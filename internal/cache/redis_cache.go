package cache

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the embedding cache with Redis SETEX/GET, for
// deployments that run more than one proxy process sharing one cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "memoryproxy:emb:"}
}

func (c *RedisCache) Get(ctx context.Context, content string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.prefix+KeyFor(content)).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeFloat32s(raw), true
}

func (c *RedisCache) Set(ctx context.Context, content string, embedding []float32) {
	_ = c.client.Set(ctx, c.prefix+KeyFor(content), encodeFloat32s(embedding), c.ttl).Err()
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
