package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

// AnswerCacheConfig 语义问答缓存配置。
type AnswerCacheConfig struct {
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultAnswerCacheConfig 返回默认配置。
func DefaultAnswerCacheConfig() *AnswerCacheConfig {
	return &AnswerCacheConfig{
		TTL:       time.Hour,
		KeyPrefix: "bookrag:answer:",
	}
}

// AnswerCache 语义问答结果缓存，键按图书分组以便驱逐时整体清理。
// Redis 错误一律按未命中处理。
type AnswerCache struct {
	redis  goredis.UniversalClient
	config *AnswerCacheConfig
}

// NewAnswerCache 创建问答缓存。redis 为 nil 时所有操作为空操作。
func NewAnswerCache(redis goredis.UniversalClient, config *AnswerCacheConfig) *AnswerCache {
	if config == nil {
		config = DefaultAnswerCacheConfig()
	}
	return &AnswerCache{redis: redis, config: config}
}

func (c *AnswerCache) enabled() bool {
	return c != nil && c.redis != nil
}

func (c *AnswerCache) bookPrefix(bookID string) string {
	return c.config.KeyPrefix + store.BookHash(bookID) + ":"
}

// key 生成缓存键：<prefix><md5(book_id)>:<sha256(question|top_k|up_to_page)>。
func (c *AnswerCache) key(bookID, question string, topK int, upToPage *int) string {
	page := "none"
	if upToPage != nil {
		page = strconv.Itoa(*upToPage)
	}
	sum := sha256.Sum256([]byte(question + "|" + strconv.Itoa(topK) + "|" + page))
	return c.bookPrefix(bookID) + hex.EncodeToString(sum[:])
}

// Get 读取缓存的回答，未命中或出错时返回 false。
func (c *AnswerCache) Get(ctx context.Context, bookID, question string, topK int, upToPage *int) (*SemanticAnswer, bool) {
	if !c.enabled() {
		return nil, false
	}

	key := c.key(bookID, question, topK, upToPage)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("读取问答缓存失败", "key", key, "error", err.Error())
		}
		return nil, false
	}

	var ans SemanticAnswer
	if err := json.Unmarshal(data, &ans); err != nil {
		logger.Warnw("问答缓存数据损坏，删除", "key", key, "error", err.Error())
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}

	logger.Debugw("问答缓存命中", "book_id", bookID, "key", key)
	return &ans, true
}

// Set 写入回答，失败只记录日志。
func (c *AnswerCache) Set(ctx context.Context, bookID, question string, topK int, upToPage *int, ans *SemanticAnswer) {
	if !c.enabled() || ans == nil {
		return
	}

	key := c.key(bookID, question, topK, upToPage)
	data, err := json.Marshal(ans)
	if err != nil {
		logger.Warnw("序列化问答结果失败", "error", err.Error())
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("写入问答缓存失败", "key", key, "error", err.Error())
	}
}

// InvalidateBook 删除某本书的全部缓存回答，返回删除的键数量。
func (c *AnswerCache) InvalidateBook(ctx context.Context, bookID string) (int, error) {
	if !c.enabled() {
		return 0, nil
	}

	iter := c.redis.Scan(ctx, 0, c.bookPrefix(bookID)+"*", 100).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("删除问答缓存键失败", "key", iter.Val(), "error", err.Error())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan answer cache: %w", err)
	}

	logger.Infow("已清理图书问答缓存", "book_id", bookID, "deleted_count", deleted)
	return deleted, nil
}
