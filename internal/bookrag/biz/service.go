package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/bookrag/internal/bookrag/metrics"
	"github.com/kart-io/bookrag/internal/pkg/textutil"
	"github.com/kart-io/bookrag/pkg/infra/tracing"
	"github.com/kart-io/bookrag/pkg/llm"
)

// Generator 生成网关接口，由 gateway.Gateway 实现。
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error)
}

// ServiceConfig 问答服务配置。
type ServiceConfig struct {
	// Model 健康检查中展示的主模型。
	Model string
	// APIKeyConfigured 主供应商是否配置了 API 密钥。
	APIKeyConfigured bool
	// DefaultTopK 请求未指定 top_k 时使用的值。
	DefaultTopK int
	// ContextBudget 问答上下文的 token 上限，超出时只保留前 3 个片段。
	ContextBudget int
	// SummaryBudget 整体摘要的 token 预算。
	SummaryBudget int
	// ChunkBudget 单节摘要的 token 上限。
	ChunkBudget int
	// KeywordChunks 关键词问答选取的片段数。
	KeywordChunks int
}

// DefaultServiceConfig 返回默认配置。
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		DefaultTopK:   5,
		ContextBudget: 12000,
		SummaryBudget: 12000,
		ChunkBudget:   15000,
		KeywordChunks: 5,
	}
}

// Service 图书问答服务。
type Service struct {
	index     *IndexManager
	generator Generator
	answers   *AnswerCache
	metrics   *metrics.BookRAGMetrics
	config    *ServiceConfig
}

// NewService 创建问答服务。answers 可以为 nil。
func NewService(index *IndexManager, generator Generator, answers *AnswerCache, mt *metrics.BookRAGMetrics, config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if mt == nil {
		mt = metrics.Default()
	}
	return &Service{
		index:     index,
		generator: generator,
		answers:   answers,
		metrics:   mt,
		config:    config,
	}
}

// Index 返回底层索引管理器。
func (s *Service) Index() *IndexManager {
	return s.index
}

// Metrics 返回指标收集器。
func (s *Service) Metrics() *metrics.BookRAGMetrics {
	return s.metrics
}

// SemanticQuestion 语义检索问答请求。
type SemanticQuestion struct {
	Question  string
	BookID    string
	Chunks    []ChunkInput
	BookTitle string
	UpToPage  *int
	TopK      int
}

// SemanticAnswer 语义检索问答结果。
type SemanticAnswer struct {
	Answer           string    `json:"answer"`
	ChunksUsed       int       `json:"chunks_used"`
	SimilarityScores []float32 `json:"similarity_scores"`
	BookID           string    `json:"book_id"`
	UpToPage         *int      `json:"up_to_page"`
}

// KeywordQuestion 关键词问答请求。
type KeywordQuestion struct {
	Question     string
	Chunks       []string
	BookTitle    string
	ContextScope string
	History      []Exchange
}

// KeywordAnswer 关键词问答结果。
type KeywordAnswer struct {
	Answer             string `json:"answer"`
	RelevantChunksUsed int    `json:"relevant_chunks_used"`
	ContextScope       string `json:"context_scope"`
}

// ChunkSummaryRequest 单节摘要请求。
type ChunkSummaryRequest struct {
	ChunkText      string
	BookTitle      string
	ChunkID        string
	IsContinuation bool
}

// Health 健康检查结果。
type Health struct {
	Status           string `json:"status"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	Model            string `json:"model"`
}

// AskSemantic 确保图书已建立索引后进行语义检索并生成回答。
func (s *Service) AskSemantic(ctx context.Context, req *SemanticQuestion) (ans *SemanticAnswer, err error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, invalid("Question must be provided.")
	}
	if strings.TrimSpace(req.BookID) == "" {
		return nil, invalid("Book ID must be provided.")
	}
	if len(req.Chunks) == 0 {
		return nil, invalid("Chunks must be a non-empty list.")
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.config.DefaultTopK
	}
	if topK < 0 {
		return nil, invalid("top_k must be a positive integer.")
	}

	if cached, ok := s.answers.Get(ctx, req.BookID, req.Question, topK, req.UpToPage); ok {
		s.metrics.RecordQuery(true, nil)
		return cached, nil
	}
	defer func() { s.metrics.RecordQuery(false, err) }()
	epoch := s.index.epoch(req.BookID)

	ctx, span := tracing.StartSpan(ctx, tracerName, "Service.AskSemantic",
		trace.WithAttributes(tracing.String("book.id", req.BookID), tracing.Int("search.top_k", topK)))
	defer span.End()

	if err := s.index.EnsureIndex(ctx, req.BookID, PrepareChunks(req.Chunks, req.BookTitle)); err != nil {
		return nil, err
	}

	results, err := s.index.Search(ctx, req.BookID, req.Question, topK, req.UpToPage)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoRelevantContent
	}

	content := SemanticContext(req.BookTitle, req.Question, results)
	if textutil.EstimateTokens(content) > s.config.ContextBudget {
		results = results[:min(3, len(results))]
		content = SemanticContext(req.BookTitle, req.Question, results)
	}

	answer, err := s.generate(ctx, newBundle(semanticQAPrompt, content), 600, 0.3)
	if err != nil {
		return nil, err
	}

	scores := make([]float32, len(results))
	for i, r := range results {
		scores[i] = r.SimilarityScore
	}
	ans = &SemanticAnswer{
		Answer:           answer,
		ChunksUsed:       len(results),
		SimilarityScores: scores,
		BookID:           req.BookID,
		UpToPage:         req.UpToPage,
	}
	// 生成期间图书被驱逐时不写缓存，否则旧内容的回答会在 TTL 内持续命中
	if s.answers.enabled() {
		cached, _ := s.index.commit(req.BookID, epoch, func() error {
			s.answers.Set(ctx, req.BookID, req.Question, topK, req.UpToPage, ans)
			return nil
		})
		if !cached {
			logger.Debugw("图书在生成回答期间被驱逐，跳过问答缓存", "book_id", req.BookID)
		}
	}
	return ans, nil
}

// AskKeyword 不使用向量索引，按关键词选取片段后生成回答。
func (s *Service) AskKeyword(ctx context.Context, req *KeywordQuestion) (ans *KeywordAnswer, err error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, invalid("Question must be provided.")
	}
	if len(req.Chunks) == 0 {
		return nil, invalid("Chunks must be a non-empty list.")
	}
	defer func() { s.metrics.RecordQuery(false, err) }()

	relevant := textutil.FindRelevantChunks(req.Question, req.Chunks, s.config.KeywordChunks)
	if len(relevant) == 0 {
		return nil, invalid(ErrNoRelevantContent.Error())
	}

	content := QAContext(req.Question, relevant, req.BookTitle, req.History)
	if textutil.EstimateTokens(content) > s.config.ContextBudget {
		relevant = relevant[:min(3, len(relevant))]
		content = QAContext(req.Question, relevant, req.BookTitle, req.History)
	}

	answer, err := s.generate(ctx, newBundle(askQuestionPrompt, content), 600, 0.3)
	if err != nil {
		return nil, err
	}

	scope := req.ContextScope
	if scope == "" {
		scope = "pages_so_far"
	}
	return &KeywordAnswer{
		Answer:             answer,
		RelevantChunksUsed: len(relevant),
		ContextScope:       scope,
	}, nil
}

// Summarize 在 token 预算内汇总已读内容。
func (s *Service) Summarize(ctx context.Context, chunks []string, title string) (string, error) {
	if len(chunks) == 0 {
		return "", invalid("Chunks must be a non-empty list.")
	}

	content := textutil.TruncateToBudget(chunks, s.config.SummaryBudget)
	if strings.TrimSpace(content) == "" {
		return "", invalid("No meaningful content found after processing.")
	}

	return s.generate(ctx, SummaryPrompt(title, content), 500, 0.7)
}

// SummarizeChunk 汇总单个章节。
func (s *Service) SummarizeChunk(ctx context.Context, req *ChunkSummaryRequest) (string, error) {
	if strings.TrimSpace(req.ChunkText) == "" {
		return "", invalid("Chunk text must be provided.")
	}

	cleaned := textutil.CleanText(req.ChunkText)
	if strings.TrimSpace(cleaned) == "" {
		return "", invalid("No meaningful content found after cleaning.")
	}
	if textutil.EstimateTokens(cleaned) > s.config.ChunkBudget {
		cleaned = textutil.HardTruncate(cleaned, s.config.ChunkBudget)
	}

	return s.generate(ctx, ChunkSummaryPrompt(req.BookTitle, req.ChunkID, cleaned, req.IsContinuation), 400, 0.7)
}

// Health 返回服务健康状态。
func (s *Service) Health() Health {
	return Health{
		Status:           "ok",
		APIKeyConfigured: s.config.APIKeyConfigured,
		Model:            s.config.Model,
	}
}

// EvictBook 驱逐图书的索引与缓存。
func (s *Service) EvictBook(ctx context.Context, bookID string) error {
	return s.index.EvictBook(ctx, bookID)
}

// WarmBook 在后台为图书建立索引。
func (s *Service) WarmBook(bookID string, chunks []ChunkInput, title string) error {
	return s.index.Warm(bookID, PrepareChunks(chunks, title))
}

func (s *Service) generate(ctx context.Context, bundle PromptBundle, maxTokens int, temperature float64) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Service.Generate",
		trace.WithAttributes(tracing.Int("prompt.estimated_tokens", bundle.EstimatedTokens)))
	defer span.End()

	start := time.Now()
	answer, err := s.generator.Generate(ctx, bundle.Messages(), maxTokens, temperature)
	s.metrics.RecordGeneration(time.Since(start), err)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Errorw("生成回答失败", "error", err.Error(), "estimated_tokens", bundle.EstimatedTokens)
		return "", err
	}
	return answer, nil
}
