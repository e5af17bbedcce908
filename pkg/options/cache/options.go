// Package cache provides options for the Redis-backed answer and query
// embedding caches.
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/bookrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 缓存配置。只有 redis.enabled 为 true 时才生效。
type Options struct {
	// AnswerEnabled 是否缓存语义问答结果。
	AnswerEnabled bool `json:"answer-enabled" mapstructure:"answer-enabled"`

	// AnswerTTL 问答缓存过期时间。
	AnswerTTL time.Duration `json:"answer-ttl" mapstructure:"answer-ttl"`

	// AnswerKeyPrefix 问答缓存键前缀。
	AnswerKeyPrefix string `json:"answer-key-prefix" mapstructure:"answer-key-prefix"`

	// EmbeddingEnabled 是否缓存查询向量。
	EmbeddingEnabled bool `json:"embedding-enabled" mapstructure:"embedding-enabled"`

	// EmbeddingTTL 查询向量缓存过期时间。
	EmbeddingTTL time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`

	// EmbeddingKeyPrefix 查询向量缓存键前缀，应包含模型名以免换模型后读到旧向量。
	EmbeddingKeyPrefix string `json:"embedding-key-prefix" mapstructure:"embedding-key-prefix"`
}

// NewOptions 创建默认缓存配置。
func NewOptions() *Options {
	return &Options{
		AnswerEnabled:      true,
		AnswerTTL:          time.Hour,
		AnswerKeyPrefix:    "bookrag:answer:",
		EmbeddingEnabled:   true,
		EmbeddingTTL:       24 * time.Hour,
		EmbeddingKeyPrefix: "bookrag:emb:",
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "cache."
	fs.BoolVar(&o.AnswerEnabled, p+"answer-enabled", o.AnswerEnabled, "Cache semantic answers in Redis.")
	fs.DurationVar(&o.AnswerTTL, p+"answer-ttl", o.AnswerTTL, "Answer cache TTL.")
	fs.StringVar(&o.AnswerKeyPrefix, p+"answer-key-prefix", o.AnswerKeyPrefix, "Answer cache key prefix.")
	fs.BoolVar(&o.EmbeddingEnabled, p+"embedding-enabled", o.EmbeddingEnabled, "Cache query embeddings in Redis.")
	fs.DurationVar(&o.EmbeddingTTL, p+"embedding-ttl", o.EmbeddingTTL, "Query embedding cache TTL.")
	fs.StringVar(&o.EmbeddingKeyPrefix, p+"embedding-key-prefix", o.EmbeddingKeyPrefix, "Query embedding cache key prefix.")
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.AnswerEnabled && o.AnswerTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.answer-ttl must be positive"))
	}
	if o.EmbeddingEnabled && o.EmbeddingTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.embedding-ttl must be positive"))
	}
	return errs
}

// Complete completes the cache options with defaults.
func (o *Options) Complete() error {
	defaults := NewOptions()
	if o.AnswerKeyPrefix == "" {
		o.AnswerKeyPrefix = defaults.AnswerKeyPrefix
	}
	if o.EmbeddingKeyPrefix == "" {
		o.EmbeddingKeyPrefix = defaults.EmbeddingKeyPrefix
	}
	return nil
}
