// Package index provides options for the book index manager and the
// question answering budgets.
package index

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/bookrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 图书索引与问答配置。
type Options struct {
	// CacheDir 磁盘索引缓存目录。
	CacheDir string `json:"cache-dir" mapstructure:"cache-dir"`

	// DefaultTopK 请求未指定 top_k 时检索的片段数。
	DefaultTopK int `json:"default-top-k" mapstructure:"default-top-k"`

	// ContextBudget 问答上下文的 token 上限。
	ContextBudget int `json:"context-budget" mapstructure:"context-budget"`

	// SummaryBudget 整书摘要的 token 预算。
	SummaryBudget int `json:"summary-budget" mapstructure:"summary-budget"`

	// ChunkBudget 单节摘要的 token 上限。
	ChunkBudget int `json:"chunk-budget" mapstructure:"chunk-budget"`

	// KeywordChunks 关键词问答选取的片段数。
	KeywordChunks int `json:"keyword-chunks" mapstructure:"keyword-chunks"`

	// WarmTimeout 单次后台预热的超时时间。
	WarmTimeout time.Duration `json:"warm-timeout" mapstructure:"warm-timeout"`
}

// NewOptions 创建默认配置。
func NewOptions() *Options {
	return &Options{
		CacheDir:      "./rag_cache",
		DefaultTopK:   5,
		ContextBudget: 12000,
		SummaryBudget: 12000,
		ChunkBudget:   15000,
		KeywordChunks: 5,
		WarmTimeout:   10 * time.Minute,
	}
}

// AddFlags adds flags for index options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "index."
	fs.StringVar(&o.CacheDir, p+"cache-dir", o.CacheDir, "Directory holding the on-disk book index cache.")
	fs.IntVar(&o.DefaultTopK, p+"default-top-k", o.DefaultTopK, "Chunks retrieved when a request omits top_k.")
	fs.IntVar(&o.ContextBudget, p+"context-budget", o.ContextBudget, "Token budget of the question answering context.")
	fs.IntVar(&o.SummaryBudget, p+"summary-budget", o.SummaryBudget, "Token budget of a book summary.")
	fs.IntVar(&o.ChunkBudget, p+"chunk-budget", o.ChunkBudget, "Token limit of a single chunk summary.")
	fs.IntVar(&o.KeywordChunks, p+"keyword-chunks", o.KeywordChunks, "Chunks selected by keyword question answering.")
	fs.DurationVar(&o.WarmTimeout, p+"warm-timeout", o.WarmTimeout, "Timeout of a background index warm-up.")
}

// Validate validates the index options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.CacheDir == "" {
		errs = append(errs, fmt.Errorf("index.cache-dir is required"))
	}
	if o.DefaultTopK <= 0 {
		errs = append(errs, fmt.Errorf("index.default-top-k must be positive"))
	}
	for name, v := range map[string]int{
		"context-budget": o.ContextBudget,
		"summary-budget": o.SummaryBudget,
		"chunk-budget":   o.ChunkBudget,
		"keyword-chunks": o.KeywordChunks,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("index.%s must be positive", name))
		}
	}
	if o.WarmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("index.warm-timeout must be positive"))
	}
	return errs
}

// Complete completes the index options with defaults.
func (o *Options) Complete() error {
	return nil
}
