package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kart-io/bookrag/internal/bookrag/metrics"
	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/infra/pool"
	"github.com/kart-io/bookrag/pkg/infra/tracing"
	"github.com/kart-io/bookrag/pkg/llm"
)

const tracerName = "bookrag/biz"

// IndexStats 索引管理器统计信息。
type IndexStats struct {
	Books      int    `json:"books"`
	Chunks     int    `json:"chunks"`
	Builds     uint64 `json:"builds"`
	MemoryHits uint64 `json:"memory_hits"`
	DiskHits   uint64 `json:"disk_hits"`
	InFlight   int64  `json:"in_flight"`
}

// IndexOption 配置 IndexManager。
type IndexOption func(*IndexManager)

// WithQueryEmbedder 使用独立的查询向量供应商（例如带 Redis 缓存的包装器）。
// 必须与构建索引的供应商使用同一模型。
func WithQueryEmbedder(p llm.EmbeddingProvider) IndexOption {
	return func(m *IndexManager) {
		m.queryEmbedder = p
	}
}

// WithAnswerCache 在驱逐图书时同时清理该书的问答缓存。
func WithAnswerCache(c *AnswerCache) IndexOption {
	return func(m *IndexManager) {
		m.answers = c
	}
}

// WithWarmPool 设置后台预热使用的任务池。
func WithWarmPool(p *pool.Pool) IndexOption {
	return func(m *IndexManager) {
		m.pool = p
	}
}

// WithMetrics 设置指标收集器，默认使用进程级实例。
func WithMetrics(mt *metrics.BookRAGMetrics) IndexOption {
	return func(m *IndexManager) {
		m.metrics = mt
	}
}

// WithWarmTimeout 设置单次后台预热的超时时间。
func WithWarmTimeout(d time.Duration) IndexOption {
	return func(m *IndexManager) {
		m.warmTimeout = d
	}
}

// IndexManager 维护 book_id 到 BookIndex 的内存注册表。
// 同一本书的并发构建通过 singleflight 合并，不同图书互不阻塞。
type IndexManager struct {
	embedder      llm.EmbeddingProvider
	queryEmbedder llm.EmbeddingProvider
	cache         *store.CacheStore
	answers       *AnswerCache
	pool          *pool.Pool
	metrics       *metrics.BookRAGMetrics
	warmTimeout   time.Duration

	group singleflight.Group
	// persist 串行化同一本书的缓存写入与驱逐清理
	persist keyMutex
	// persistHook 在登记之后、写磁盘之前调用，仅测试使用
	persistHook func(bookID string)

	mu    sync.RWMutex
	books map[string]*store.BookIndex
	// epochs 每次驱逐递增，用于丢弃驱逐之前启动的构建结果
	epochs map[string]uint64

	builds     atomic.Uint64
	memoryHits atomic.Uint64
	diskHits   atomic.Uint64
	inFlight   atomic.Int64
}

// NewIndexManager 创建索引管理器。cache 为 nil 时不做磁盘持久化。
func NewIndexManager(embedder llm.EmbeddingProvider, cache *store.CacheStore, opts ...IndexOption) *IndexManager {
	m := &IndexManager{
		embedder:    embedder,
		cache:       cache,
		metrics:     metrics.Default(),
		warmTimeout: 10 * time.Minute,
		books:       make(map[string]*store.BookIndex),
		epochs:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.queryEmbedder == nil {
		m.queryEmbedder = embedder
	}
	return m
}

// Has 报告图书是否已在内存注册表中。
func (m *IndexManager) Has(bookID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.books[bookID]
	return ok
}

func (m *IndexManager) lookup(bookID string) (*store.BookIndex, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.books[bookID], m.epochs[bookID]
}

func (m *IndexManager) epoch(bookID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epochs[bookID]
}

// commit 在图书自 epoch 以来未被驱逐时执行 fn，并与 EvictBook 的清理互斥。
// 图书已被驱逐时不执行 fn，返回 false。
func (m *IndexManager) commit(bookID string, epoch uint64, fn func() error) (bool, error) {
	unlock := m.persist.lock(bookID)
	defer unlock()
	if m.epoch(bookID) != epoch {
		return false, nil
	}
	return true, fn()
}

// EnsureIndex 保证图书索引存在：依次尝试内存注册表、磁盘缓存，最后一次性批量向量化构建。
// 持久化失败只记录日志，不影响本次调用结果。
func (m *IndexManager) EnsureIndex(ctx context.Context, bookID string, chunks []store.Chunk) error {
	if strings.TrimSpace(bookID) == "" {
		return invalid("Book ID must be provided.")
	}
	if len(chunks) == 0 {
		return invalid("Chunks must be a non-empty list.")
	}

	if m.Has(bookID) {
		m.memoryHits.Add(1)
		m.metrics.RecordIndex(metrics.IndexFromMemory, 0, nil)
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "IndexManager.EnsureIndex",
		trace.WithAttributes(tracing.String("book.id", bookID), tracing.Int("book.chunks", len(chunks))))
	defer span.End()

	// 构建在独立的上下文中进行，单个调用方离开不会中断其他等待者
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(bookID, func() (any, error) {
		m.inFlight.Add(1)
		defer m.inFlight.Add(-1)
		return m.load(flightCtx, bookID, chunks)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			tracing.RecordError(ctx, res.Err)
			return res.Err
		}
		if res.Shared {
			tracing.AddSpanAttributes(ctx, tracing.Bool("index.shared", true))
		}
		return nil
	}
}

// load 在 singleflight 内执行，返回值为索引来源。
func (m *IndexManager) load(ctx context.Context, bookID string, chunks []store.Chunk) (metrics.IndexSource, error) {
	existing, epoch := m.lookup(bookID)
	if existing != nil {
		m.memoryHits.Add(1)
		m.metrics.RecordIndex(metrics.IndexFromMemory, 0, nil)
		return metrics.IndexFromMemory, nil
	}

	if m.cache != nil {
		bi, err := m.cache.Load(ctx, bookID)
		switch {
		case err == nil:
			if m.register(bi, epoch) {
				m.diskHits.Add(1)
				m.metrics.RecordIndex(metrics.IndexFromDisk, bi.Len(), nil)
				logger.Infow("从磁盘缓存加载图书索引", "book_id", bookID, "chunks", bi.Len())
			}
			return metrics.IndexFromDisk, nil
		case errors.Is(err, store.ErrCacheNotFound):
			logger.Debugw("图书索引缓存未命中", "book_id", bookID)
		default:
			logger.Warnw("图书索引缓存不可用，重新构建", "book_id", bookID, "error", err.Error())
		}
	}

	bi, err := m.build(ctx, bookID, chunks)
	if err != nil {
		m.metrics.RecordIndex(metrics.IndexBuilt, 0, err)
		logger.Errorw("构建图书索引失败", "book_id", bookID, "error", err.Error())
		return metrics.IndexBuilt, fmt.Errorf("%w %s: %w", ErrIndexBuild, bookID, err)
	}
	if !m.register(bi, epoch) {
		logger.Infow("图书在构建期间被驱逐，丢弃构建结果", "book_id", bookID)
		return metrics.IndexBuilt, nil
	}
	m.builds.Add(1)
	m.metrics.RecordIndex(metrics.IndexBuilt, bi.Len(), nil)
	logger.Infow("图书索引构建完成", "book_id", bookID, "chunks", bi.Len(), "dim", bi.Index.Dim())

	if m.cache != nil {
		if m.persistHook != nil {
			m.persistHook(bookID)
		}
		saved, err := m.commit(bookID, epoch, func() error { return m.cache.Save(ctx, bi) })
		switch {
		case err != nil:
			logger.Warnw("持久化图书索引失败", "book_id", bookID, "error", err.Error())
		case !saved:
			logger.Infow("图书在持久化之前被驱逐，跳过写入磁盘缓存", "book_id", bookID)
		}
	}
	return metrics.IndexBuilt, nil
}

func (m *IndexManager) build(ctx context.Context, bookID string, chunks []store.Chunk) (*store.BookIndex, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	start := time.Now()
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	logger.Debugw("图书分块向量化完成", "book_id", bookID, "chunks", len(chunks), "duration", time.Since(start).String())

	owned := make([]store.Chunk, len(chunks))
	copy(owned, chunks)
	return store.NewBookIndex(bookID, owned, vectors)
}

// register 仅在图书未被驱逐过的情况下登记索引。
func (m *IndexManager) register(bi *store.BookIndex, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epochs[bi.BookID] != epoch {
		return false
	}
	if _, ok := m.books[bi.BookID]; !ok {
		m.books[bi.BookID] = bi
	}
	return true
}

// Search 在图书索引中检索与问题最相似的分块，按相似度降序返回。
// 超取 min(topK*3, N) 个候选后按页码过滤，不会在候选窗口之外补足。
func (m *IndexManager) Search(ctx context.Context, bookID, query string, topK int, upToPage *int) (results []store.RetrievalResult, err error) {
	if topK <= 0 {
		return nil, invalid("top_k must be a positive integer.")
	}

	bi, _ := m.lookup(bookID)
	if bi == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, bookID)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "IndexManager.Search",
		trace.WithAttributes(tracing.String("book.id", bookID), tracing.Int("search.top_k", topK)))
	defer span.End()

	start := time.Now()
	defer func() {
		m.metrics.RecordRetrieval(time.Since(start), err)
		tracing.RecordError(ctx, err)
	}()

	n := bi.Len()
	if n == 0 {
		return []store.RetrievalResult{}, nil
	}

	q, err := m.queryEmbedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qn := make([]float32, len(q))
	copy(qn, q)
	store.NormalizeL2(qn)

	hits, err := bi.Index.Search(qn, min(topK*3, n))
	if err != nil {
		return nil, fmt.Errorf("search book %s: %w", bookID, err)
	}

	results = make([]store.RetrievalResult, 0, topK)
	for _, h := range hits {
		c := bi.Chunks[h.Row]
		if upToPage != nil && c.PageNumber != nil && *c.PageNumber > *upToPage {
			continue
		}
		results = append(results, store.RetrievalResult{Chunk: c, SimilarityScore: h.Score})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// EvictBook 删除内存中的索引、磁盘缓存以及该书的问答缓存，可重复调用。
func (m *IndexManager) EvictBook(ctx context.Context, bookID string) error {
	if strings.TrimSpace(bookID) == "" {
		return invalid("Book ID must be provided.")
	}

	m.mu.Lock()
	_, existed := m.books[bookID]
	delete(m.books, bookID)
	m.epochs[bookID]++
	m.mu.Unlock()
	m.group.Forget(bookID)

	// 等待已通过 epoch 检查的写入完成后再清理，之后的写入会发现 epoch 已变化
	unlock := m.persist.lock(bookID)
	defer unlock()

	var errs []error
	if m.cache != nil {
		if err := m.cache.Remove(ctx, bookID); err != nil {
			errs = append(errs, err)
		}
	}
	if m.answers != nil {
		if _, err := m.answers.InvalidateBook(ctx, bookID); err != nil {
			logger.Warnw("清理图书问答缓存失败", "book_id", bookID, "error", err.Error())
		}
	}

	m.metrics.RecordEviction()
	logger.Infow("图书已驱逐", "book_id", bookID, "was_loaded", existed)
	return errors.Join(errs...)
}

// Warm 将 EnsureIndex 提交到后台任务池后立即返回。
func (m *IndexManager) Warm(bookID string, chunks []store.Chunk) error {
	if strings.TrimSpace(bookID) == "" {
		return invalid("Book ID must be provided.")
	}
	if len(chunks) == 0 {
		return invalid("Chunks must be a non-empty list.")
	}
	if m.pool == nil {
		return errors.New("background pool not configured")
	}

	err := m.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.warmTimeout)
		defer cancel()
		if err := m.EnsureIndex(ctx, bookID, chunks); err != nil {
			logger.Warnw("后台预热图书索引失败", "book_id", bookID, "error", err.Error())
		}
	})
	if errors.Is(err, pool.ErrPoolOverload) {
		return fmt.Errorf("%w: %v", ErrWarmRejected, err)
	}
	return err
}

// Stats 返回注册表统计信息。
func (m *IndexManager) Stats() IndexStats {
	m.mu.RLock()
	books, chunks := len(m.books), 0
	for _, bi := range m.books {
		chunks += bi.Len()
	}
	m.mu.RUnlock()

	return IndexStats{
		Books:      books,
		Chunks:     chunks,
		Builds:     m.builds.Load(),
		MemoryHits: m.memoryHits.Load(),
		DiskHits:   m.diskHits.Load(),
		InFlight:   m.inFlight.Load(),
	}
}

// CacheStats 返回磁盘缓存统计信息，未启用磁盘缓存时返回零值。
func (m *IndexManager) CacheStats() (store.CacheStats, error) {
	if m.cache == nil {
		return store.CacheStats{}, nil
	}
	return m.cache.Stats()
}

// keyMutex 按 key 提供互斥锁，无人持有时回收。
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
