// Package options contains flags and options for initializing the bookrag server.
package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/bookrag/internal/bookrag"
	"github.com/kart-io/bookrag/pkg/infra/app/cliflag"
	"github.com/kart-io/bookrag/pkg/infra/tracing"
	genericoptions "github.com/kart-io/bookrag/pkg/options"
	cacheopts "github.com/kart-io/bookrag/pkg/options/cache"
	indexopts "github.com/kart-io/bookrag/pkg/options/index"
	llmopts "github.com/kart-io/bookrag/pkg/options/llm"
	logopts "github.com/kart-io/bookrag/pkg/options/logger"
	middlewareopts "github.com/kart-io/bookrag/pkg/options/middleware"
	poolopts "github.com/kart-io/bookrag/pkg/options/pool"
	redisopts "github.com/kart-io/bookrag/pkg/options/redis"
	httpopts "github.com/kart-io/bookrag/pkg/options/server/http"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// MiddlewareOptions contains HTTP middleware configuration.
	MiddlewareOptions *middlewareopts.Options `json:"middleware" mapstructure:"middleware"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.EmbeddingOptions `json:"embedding" mapstructure:"embedding"`

	// GenerationOptions contains the OpenRouter and Cohere configuration.
	GenerationOptions *llmopts.GenerationOptions `json:"generation" mapstructure:"generation"`

	// IndexOptions contains index cache and budget configuration.
	IndexOptions *indexopts.Options `json:"index" mapstructure:"index"`

	// RedisOptions contains the optional Redis connection.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// CacheOptions contains answer and query embedding cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// PoolOptions contains the warm-up worker pool configuration.
	PoolOptions *poolopts.Options `json:"pool" mapstructure:"pool"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracing.Options `json:"tracing" mapstructure:"tracing"`

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:       httpopts.NewOptions(),
		LogOptions:        logopts.NewOptions(),
		MiddlewareOptions: middlewareopts.NewOptions(),
		EmbeddingOptions:  llmopts.NewEmbeddingOptions(),
		GenerationOptions: llmopts.NewGenerationOptions(),
		IndexOptions:      indexopts.NewOptions(),
		RedisOptions:      redisopts.NewOptions(),
		CacheOptions:      cacheopts.NewOptions(),
		PoolOptions:       poolopts.NewOptions(),
		TracingOptions:    tracing.NewOptions(),
		ShutdownTimeout:   30 * time.Second,
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.MiddlewareOptions.AddFlags(fss.FlagSet("middleware"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.GenerationOptions.AddFlags(fss.FlagSet("generation"))
	o.IndexOptions.AddFlags(fss.FlagSet("index"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.PoolOptions.AddFlags(fss.FlagSet("pool"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))

	// misc flags
	fs := fss.FlagSet("misc")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout")

	return fss
}

func (o *ServerOptions) groups() []genericoptions.IOptions {
	return []genericoptions.IOptions{
		o.HTTPOptions,
		o.LogOptions,
		o.MiddlewareOptions,
		o.EmbeddingOptions,
		o.GenerationOptions,
		o.IndexOptions,
		o.RedisOptions,
		o.CacheOptions,
		o.PoolOptions,
		o.TracingOptions,
	}
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	return genericoptions.CompleteAll(o.groups()...)
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := genericoptions.ValidateAll(o.groups()...)
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive"))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a bookrag.Config based on ServerOptions.
func (o *ServerOptions) Config() (*bookrag.Config, error) {
	return &bookrag.Config{
		HTTPOptions:       o.HTTPOptions,
		LogOptions:        o.LogOptions,
		MiddlewareOptions: o.MiddlewareOptions,
		EmbeddingOptions:  o.EmbeddingOptions,
		GenerationOptions: o.GenerationOptions,
		IndexOptions:      o.IndexOptions,
		RedisOptions:      o.RedisOptions,
		CacheOptions:      o.CacheOptions,
		PoolOptions:       o.PoolOptions,
		TracingOptions:    o.TracingOptions,
		ShutdownTimeout:   o.ShutdownTimeout,
	}, nil
}
