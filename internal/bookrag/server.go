// Package bookrag provides the book RAG server implementation.
package bookrag

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/bookrag/internal/bookrag/biz"
	"github.com/kart-io/bookrag/internal/bookrag/handler"
	"github.com/kart-io/bookrag/internal/bookrag/metrics"
	"github.com/kart-io/bookrag/internal/bookrag/router"
	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/infra/app"
	"github.com/kart-io/bookrag/pkg/infra/pool"
	"github.com/kart-io/bookrag/pkg/infra/server"
	"github.com/kart-io/bookrag/pkg/infra/tracing"
	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/llm/gateway"
	"github.com/kart-io/bookrag/pkg/llm/resilience"
	cacheopts "github.com/kart-io/bookrag/pkg/options/cache"
	indexopts "github.com/kart-io/bookrag/pkg/options/index"
	llmopts "github.com/kart-io/bookrag/pkg/options/llm"
	logopts "github.com/kart-io/bookrag/pkg/options/logger"
	middlewareopts "github.com/kart-io/bookrag/pkg/options/middleware"
	poolopts "github.com/kart-io/bookrag/pkg/options/pool"
	redisopts "github.com/kart-io/bookrag/pkg/options/redis"
	httpopts "github.com/kart-io/bookrag/pkg/options/server/http"
	"github.com/kart-io/bookrag/pkg/utils/validator"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/bookrag/pkg/llm/cohere"
	_ "github.com/kart-io/bookrag/pkg/llm/ollama"
	_ "github.com/kart-io/bookrag/pkg/llm/openai"
	_ "github.com/kart-io/bookrag/pkg/llm/openrouter"
)

// Name is the name of the application.
const Name = "bookrag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions       *httpopts.Options
	LogOptions        *logopts.Options
	MiddlewareOptions *middlewareopts.Options
	EmbeddingOptions  *llmopts.EmbeddingOptions
	GenerationOptions *llmopts.GenerationOptions
	IndexOptions      *indexopts.Options
	RedisOptions      *redisopts.Options
	CacheOptions      *cacheopts.Options
	PoolOptions       *poolopts.Options
	TracingOptions    *tracing.Options
	ShutdownTimeout   time.Duration
}

// Server represents the book RAG server.
type Server struct {
	srv     *server.Manager
	closers []func(context.Context)
}

// NewServer initializes and returns a new Server instance.
// 任一步骤失败时已创建的资源会被释放。
func (cfg *Config) NewServer(ctx context.Context) (_ *Server, err error) {
	printBanner(cfg)

	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting book RAG service...")

	s := &Server{}
	defer func() {
		if err != nil {
			s.close(context.WithoutCancel(ctx))
		}
	}()

	// 2. 请求校验：gin 绑定与错误翻译共用同一个校验器
	v := validator.New(validator.WithTagName("binding"))
	validator.SetGlobal(v)
	binding.Validator = v.Binding()

	// 3. 初始化链路追踪
	tp, err := tracing.NewProvider(cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.closers = append(s.closers, func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warnw("failed to shutdown tracer provider", "error", err.Error())
		}
	})
	logger.Infow("Tracing initialized", "enabled", tp.Enabled())

	// 4. 初始化 Redis 客户端（可选，用于问答缓存与查询向量缓存）
	redisClient := cfg.newRedisClient(ctx)
	if redisClient != nil {
		s.closers = append(s.closers, func(context.Context) { _ = redisClient.Close() })
	}

	// 5. 初始化向量化供应商
	embedCfg := cfg.EmbeddingOptions.ToConfigMap()
	// 重试由 resilience 包装器统一处理
	embedCfg["max_retries"] = 0
	baseEmbedder, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	retry := resilience.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.EmbeddingOptions.MaxRetries + 1
	embedder := resilience.NewEmbeddingProvider(baseEmbedder, retry, &resilience.BreakerConfig{
		MaxFailures:      cfg.EmbeddingOptions.BreakerMaxFailures,
		OpenTimeout:      cfg.EmbeddingOptions.BreakerOpenTimeout,
		HalfOpenMaxCalls: 1,
	})
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
		"max_attempts", retry.MaxAttempts,
	)

	var queryEmbedder llm.EmbeddingProvider = embedder
	if redisClient != nil && cfg.CacheOptions.EmbeddingEnabled {
		queryEmbedder = llm.NewCachedEmbeddingProvider(embedder, redisClient, &llm.EmbeddingCacheConfig{
			TTL:       cfg.CacheOptions.EmbeddingTTL,
			KeyPrefix: cfg.CacheOptions.EmbeddingKeyPrefix,
		})
		logger.Infow("Query embedding cache enabled", "ttl", cfg.CacheOptions.EmbeddingTTL)
	}

	// 6. 初始化生成网关
	mt := metrics.Default()
	gw, err := cfg.newGateway(mt)
	if err != nil {
		return nil, err
	}

	// 7. 初始化后台预热任务池
	warmPool, err := pool.NewPool("bookrag-warm", cfg.PoolOptions.Config())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize warm pool: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) { warmPool.Release() })

	// 8. 初始化 Store 与 Biz 层
	cacheStore, err := store.NewCacheStore(cfg.IndexOptions.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index cache: %w", err)
	}

	var answers *biz.AnswerCache
	if redisClient != nil && cfg.CacheOptions.AnswerEnabled {
		answers = biz.NewAnswerCache(redisClient, &biz.AnswerCacheConfig{
			TTL:       cfg.CacheOptions.AnswerTTL,
			KeyPrefix: cfg.CacheOptions.AnswerKeyPrefix,
		})
		logger.Infow("Answer cache enabled", "ttl", cfg.CacheOptions.AnswerTTL)
	}

	index := biz.NewIndexManager(embedder, cacheStore,
		biz.WithQueryEmbedder(queryEmbedder),
		biz.WithAnswerCache(answers),
		biz.WithWarmPool(warmPool),
		biz.WithMetrics(mt),
		biz.WithWarmTimeout(cfg.IndexOptions.WarmTimeout),
	)
	svc := biz.NewService(index, gw, answers, mt, &biz.ServiceConfig{
		Model:            gw.Models()[0],
		APIKeyConfigured: cfg.GenerationOptions.OpenRouter.APIKey != "",
		DefaultTopK:      cfg.IndexOptions.DefaultTopK,
		ContextBudget:    cfg.IndexOptions.ContextBudget,
		SummaryBudget:    cfg.IndexOptions.SummaryBudget,
		ChunkBudget:      cfg.IndexOptions.ChunkBudget,
		KeywordChunks:    cfg.IndexOptions.KeywordChunks,
	})
	logger.Infow("Book RAG service initialized",
		"cache_dir", cfg.IndexOptions.CacheDir,
		"answer_cache", answers != nil,
		"default_top_k", cfg.IndexOptions.DefaultTopK,
	)

	// 9. 初始化 Handler 层与服务器
	h := handler.NewHandler(svc, embedder.Breaker())
	s.srv = server.NewManager(
		server.WithHTTPOptions(cfg.HTTPOptions),
		server.WithMiddleware(cfg.MiddlewareOptions),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	// 关闭时等待进行中的预热任务写完磁盘缓存
	s.srv.AddServer(warmPool)

	// 10. 注册路由
	if err := router.Register(s.srv, h); err != nil {
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}

	logger.Info("Book RAG service is ready")
	return s, nil
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	defer s.close(context.WithoutCancel(ctx))
	return s.srv.Run(ctx)
}

// close 按创建的逆序释放资源。
func (s *Server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
	s.closers = nil
}

// newRedisClient 连接失败时降级为无缓存运行，返回 nil。
func (cfg *Config) newRedisClient(ctx context.Context) *goredis.Client {
	if !cfg.RedisOptions.Enabled {
		logger.Info("Redis is disabled, caches are off")
		return nil
	}

	client := cfg.RedisOptions.NewClient()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warnw("failed to connect to redis, caches will be disabled",
			"addr", cfg.RedisOptions.Addr(),
			"error", err.Error(),
		)
		_ = client.Close()
		return nil
	}
	logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr())
	return client
}

// newGateway 创建生成网关。主供应商缺少密钥时传入 nil，请求时由网关返回未配置错误并降级。
func (cfg *Config) newGateway(mt *metrics.BookRAGMetrics) (*gateway.Gateway, error) {
	gen := cfg.GenerationOptions

	var primary llm.ChatProvider
	if gen.OpenRouter.APIKey != "" {
		p, err := llm.NewChatProvider("openrouter", gen.PrimaryConfigMap())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openrouter provider: %w", err)
		}
		primary = p
	} else {
		logger.Warnw("OpenRouter API key not configured", "env", llmopts.OpenRouterAPIKeyEnv)
	}

	var secondary llm.ChatProvider
	if gen.HasSecondary() {
		p, err := llm.NewChatProvider("cohere", gen.SecondaryConfigMap())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cohere provider: %w", err)
		}
		secondary = p
	}

	gw := gateway.New(primary, secondary, gateway.Config{
		Models:         gen.OpenRouter.Models,
		PrimaryLabel:   "OpenRouter",
		SecondaryLabel: "Cohere",
		OnFallback:     func(string) { mt.RecordFallback() },
	})
	logger.Infow("Generation gateway initialized",
		"models", gw.Models(),
		"secondary", gw.HasSecondary(),
	)
	return gw, nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Listen: %s\n", cfg.HTTPOptions.Addr)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Generation: %v (fallback: %v)\n", cfg.GenerationOptions.OpenRouter.Models, cfg.GenerationOptions.HasSecondary())
	fmt.Printf("  Index cache: %s\n", cfg.IndexOptions.CacheDir)
}
