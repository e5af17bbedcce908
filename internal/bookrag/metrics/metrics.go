// Package metrics 提供图书问答服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BookRAGMetrics 图书问答服务业务指标。
// 所有计数器均为原子操作，可在多个 goroutine 中并发记录。
type BookRAGMetrics struct {
	// 查询指标
	queriesTotal       atomic.Uint64
	queriesCacheHits   atomic.Uint64
	queriesCacheMisses atomic.Uint64
	queriesErrors      atomic.Uint64

	// 检索指标
	retrievalTotal  atomic.Uint64
	retrievalErrors atomic.Uint64

	// 索引指标
	indexBuilds     atomic.Uint64
	indexMemoryHits atomic.Uint64
	indexDiskHits   atomic.Uint64
	indexErrors     atomic.Uint64
	chunksIndexed   atomic.Uint64
	indexEvictions  atomic.Uint64

	// 生成指标
	generationCalls     atomic.Uint64
	generationFallbacks atomic.Uint64
	generationFailures  atomic.Uint64

	durationMu         sync.Mutex
	retrievalDuration  float64 // 秒
	generationDuration float64 // 秒

	startTime time.Time
}

// Snapshot 指标快照，用于 /v1/stats 输出。
type Snapshot struct {
	QueriesTotal        uint64  `json:"queries_total"`
	QueriesCacheHits    uint64  `json:"queries_cache_hits"`
	QueriesCacheMisses  uint64  `json:"queries_cache_misses"`
	QueriesErrors       uint64  `json:"queries_errors"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	RetrievalTotal      uint64  `json:"retrieval_total"`
	RetrievalErrors     uint64  `json:"retrieval_errors"`
	RetrievalSeconds    float64 `json:"retrieval_seconds"`
	IndexBuilds         uint64  `json:"index_builds"`
	IndexMemoryHits     uint64  `json:"index_memory_hits"`
	IndexDiskHits       uint64  `json:"index_disk_hits"`
	IndexErrors         uint64  `json:"index_errors"`
	ChunksIndexed       uint64  `json:"chunks_indexed"`
	IndexEvictions      uint64  `json:"index_evictions"`
	GenerationCalls     uint64  `json:"generation_calls"`
	GenerationFallbacks uint64  `json:"generation_fallbacks"`
	GenerationFailures  uint64  `json:"generation_failures"`
	GenerationSeconds   float64 `json:"generation_seconds"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

// IndexSource EnsureIndex 的完成方式。
type IndexSource int

const (
	// IndexFromMemory 内存注册表命中。
	IndexFromMemory IndexSource = iota
	// IndexFromDisk 磁盘缓存命中。
	IndexFromDisk
	// IndexBuilt 重新计算向量并构建。
	IndexBuilt
)

var (
	globalMetrics *BookRAGMetrics
	metricsOnce   sync.Once
)

// New 创建独立的指标实例。
func New() *BookRAGMetrics {
	return &BookRAGMetrics{startTime: time.Now()}
}

// Default 获取进程级指标实例。
func Default() *BookRAGMetrics {
	metricsOnce.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}

// RecordQuery 记录一次问答请求。
func (m *BookRAGMetrics) RecordQuery(cacheHit bool, err error) {
	m.queriesTotal.Add(1)
	if err != nil {
		m.queriesErrors.Add(1)
		return
	}
	if cacheHit {
		m.queriesCacheHits.Add(1)
	} else {
		m.queriesCacheMisses.Add(1)
	}
}

// RecordRetrieval 记录一次相似度检索。
func (m *BookRAGMetrics) RecordRetrieval(duration time.Duration, err error) {
	m.retrievalTotal.Add(1)
	if err != nil {
		m.retrievalErrors.Add(1)
		return
	}
	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordIndex 记录一次 EnsureIndex。
func (m *BookRAGMetrics) RecordIndex(source IndexSource, chunks int, err error) {
	if err != nil {
		m.indexErrors.Add(1)
		return
	}
	switch source {
	case IndexFromMemory:
		m.indexMemoryHits.Add(1)
	case IndexFromDisk:
		m.indexDiskHits.Add(1)
	case IndexBuilt:
		m.indexBuilds.Add(1)
		if chunks > 0 {
			m.chunksIndexed.Add(uint64(chunks))
		}
	}
}

// RecordEviction 记录一次图书驱逐。
func (m *BookRAGMetrics) RecordEviction() {
	m.indexEvictions.Add(1)
}

// RecordGeneration 记录一次网关生成调用。
func (m *BookRAGMetrics) RecordGeneration(duration time.Duration, err error) {
	m.generationCalls.Add(1)
	if err != nil {
		m.generationFailures.Add(1)
		return
	}
	m.durationMu.Lock()
	m.generationDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordFallback 记录一次模型或供应商切换。
func (m *BookRAGMetrics) RecordFallback() {
	m.generationFallbacks.Add(1)
}

// Snapshot 返回当前指标快照。
func (m *BookRAGMetrics) Snapshot() Snapshot {
	m.durationMu.Lock()
	retrieval := m.retrievalDuration
	generation := m.generationDuration
	m.durationMu.Unlock()

	hits := m.queriesCacheHits.Load()
	misses := m.queriesCacheMisses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return Snapshot{
		QueriesTotal:        m.queriesTotal.Load(),
		QueriesCacheHits:    hits,
		QueriesCacheMisses:  misses,
		QueriesErrors:       m.queriesErrors.Load(),
		CacheHitRate:        rate,
		RetrievalTotal:      m.retrievalTotal.Load(),
		RetrievalErrors:     m.retrievalErrors.Load(),
		RetrievalSeconds:    retrieval,
		IndexBuilds:         m.indexBuilds.Load(),
		IndexMemoryHits:     m.indexMemoryHits.Load(),
		IndexDiskHits:       m.indexDiskHits.Load(),
		IndexErrors:         m.indexErrors.Load(),
		ChunksIndexed:       m.chunksIndexed.Load(),
		IndexEvictions:      m.indexEvictions.Load(),
		GenerationCalls:     m.generationCalls.Load(),
		GenerationFallbacks: m.generationFallbacks.Load(),
		GenerationFailures:  m.generationFailures.Load(),
		GenerationSeconds:   generation,
		UptimeSeconds:       time.Since(m.startTime).Seconds(),
	}
}

// Export 导出 Prometheus 文本格式指标。
func (m *BookRAGMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	s := m.Snapshot()
	var sb strings.Builder
	write := func(name, typ, help string, value any) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, name, typ)
		switch v := value.(type) {
		case float64:
			fmt.Fprintf(&sb, "%s_%s %.6f\n\n", prefix, name, v)
		default:
			fmt.Fprintf(&sb, "%s_%s %d\n\n", prefix, name, v)
		}
	}

	// 查询
	write("queries_total", "counter", "Total number of question answering requests.", s.QueriesTotal)
	write("queries_cache_hits_total", "counter", "Number of answer cache hits.", s.QueriesCacheHits)
	write("queries_cache_misses_total", "counter", "Number of answer cache misses.", s.QueriesCacheMisses)
	write("queries_errors_total", "counter", "Number of failed requests.", s.QueriesErrors)
	write("cache_hit_rate", "gauge", "Answer cache hit rate (0-1).", s.CacheHitRate)

	// 检索
	write("retrieval_total", "counter", "Total number of similarity searches.", s.RetrievalTotal)
	write("retrieval_errors_total", "counter", "Number of failed similarity searches.", s.RetrievalErrors)
	write("retrieval_duration_seconds_total", "counter", "Total similarity search duration.", s.RetrievalSeconds)

	// 索引
	write("index_builds_total", "counter", "Number of book indexes built from embeddings.", s.IndexBuilds)
	write("index_memory_hits_total", "counter", "Number of in-memory index hits.", s.IndexMemoryHits)
	write("index_disk_hits_total", "counter", "Number of indexes restored from the disk cache.", s.IndexDiskHits)
	write("index_errors_total", "counter", "Number of failed index builds.", s.IndexErrors)
	write("chunks_indexed_total", "counter", "Number of chunks embedded.", s.ChunksIndexed)
	write("index_evictions_total", "counter", "Number of evicted books.", s.IndexEvictions)

	// 生成
	write("generation_calls_total", "counter", "Total number of generation gateway calls.", s.GenerationCalls)
	write("generation_fallbacks_total", "counter", "Number of model or provider fallbacks.", s.GenerationFallbacks)
	write("generation_failures_total", "counter", "Number of failed generation calls.", s.GenerationFailures)
	write("generation_duration_seconds_total", "counter", "Total successful generation duration.", s.GenerationSeconds)

	write("uptime_seconds", "gauge", "Service uptime in seconds.", s.UptimeSeconds)
	return sb.String()
}
