package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// EmbeddingCacheConfig 查询向量缓存配置。
type EmbeddingCacheConfig struct {
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		TTL:       24 * time.Hour,
		KeyPrefix: "emb:",
	}
}

// EmbeddingCacheStats 缓存命中统计。
type EmbeddingCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// CachedEmbeddingProvider 在 Redis 中缓存单条查询的向量。
// 批量 Embed 直接透传，图书建索引时始终整批调用一次底层供应商。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	redis    goredis.UniversalClient
	config   *EmbeddingCacheConfig

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding Provider。redis 为 nil 时不缓存。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, redis goredis.UniversalClient, config *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		redis:    redis,
		config:   config,
	}
}

// cacheKey 键包含供应商名称，避免不同模型的向量混用。
func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.config.KeyPrefix + c.provider.Name() + ":" + hex.EncodeToString(sum[:])
}

// EmbedSingle 生成单条文本的向量，优先读取缓存。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if c.redis == nil {
		return c.provider.EmbedSingle(ctx, text)
	}

	key := c.cacheKey(text)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, decodeErr := decodeVector(data); decodeErr == nil {
			c.hits.Add(1)
			return vec, nil
		}
		logger.Warnw("缓存的向量格式错误，删除", "key", key)
		_ = c.redis.Del(ctx, key).Err()
	case !errors.Is(err, goredis.Nil):
		c.errs.Add(1)
		logger.Warnw("读取向量缓存失败，直接调用供应商", "error", err.Error())
	}

	c.misses.Add(1)
	vec, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.redis.Set(ctx, key, encodeVector(vec), c.config.TTL).Err(); err != nil {
		c.errs.Add(1)
		logger.Warnw("写入向量缓存失败", "error", err.Error(), "key", key)
	}
	return vec, nil
}

// Embed 批量生成向量，不经过缓存。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.provider.Embed(ctx, texts)
}

// Name 返回底层 provider 的名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name()
}

// Stats 返回命中统计。
func (c *CachedEmbeddingProvider) Stats() EmbeddingCacheStats {
	return EmbeddingCacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)
