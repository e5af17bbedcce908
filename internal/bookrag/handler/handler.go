// Package handler provides HTTP handlers for the book RAG service.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/bookrag/internal/bookrag/biz"
	"github.com/kart-io/bookrag/pkg/llm/resilience"
	"github.com/kart-io/bookrag/pkg/utils/response"
)

// Handler 图书问答 HTTP 处理器。
type Handler struct {
	svc     *biz.Service
	breaker *resilience.CircuitBreaker
}

// NewHandler creates a new Handler. breaker 为向量化供应商的熔断器，可以为 nil。
func NewHandler(svc *biz.Service, breaker *resilience.CircuitBreaker) *Handler {
	return &Handler{svc: svc, breaker: breaker}
}

// SummarizeRequest 整体摘要请求。
type SummarizeRequest struct {
	Chunks    []string `json:"chunks"`
	BookTitle string   `json:"book_title"`
}

// SummarizeChunkRequest 单节摘要请求。
type SummarizeChunkRequest struct {
	ChunkText      string `json:"chunk_text"`
	BookTitle      string `json:"book_title"`
	ChunkID        string `json:"chunk_id" binding:"required"`
	IsContinuation bool   `json:"is_continuation"`
}

// SummaryResponse 摘要结果。
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// QuestionRequest 关键词问答请求。
type QuestionRequest struct {
	Question            string         `json:"question"`
	Chunks              []string       `json:"chunks"`
	BookTitle           string         `json:"book_title"`
	ContextScope        string         `json:"context_scope"`
	ConversationHistory []biz.Exchange `json:"conversation_history"`
}

// RAGRequest 语义检索问答请求。
type RAGRequest struct {
	UserQuestion string           `json:"user_question"`
	BookID       string           `json:"book_id"`
	Chunks       []biz.ChunkInput `json:"chunks"`
	BookTitle    string           `json:"book_title"`
	UpToPage     *int             `json:"up_to_page" binding:"omitempty,gte=0"`
	TopK         int              `json:"top_k" binding:"gte=0,lte=100"`
}

// BookURI 路径中的图书标识。
type BookURI struct {
	BookID string `uri:"book_id" binding:"required,bookid"`
}

// WarmRequest 后台预热请求。
type WarmRequest struct {
	Chunks    []biz.ChunkInput `json:"chunks" binding:"notblank"`
	BookTitle string           `json:"book_title"`
}

// Health 返回服务与主供应商配置状态。
func (h *Handler) Health(c *gin.Context) {
	response.OK(c, h.svc.Health())
}

// SummarizeChunk 汇总单个章节。
func (h *Handler) SummarizeChunk(c *gin.Context) {
	var req SummarizeChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}

	summary, err := h.svc.SummarizeChunk(c.Request.Context(), &biz.ChunkSummaryRequest{
		ChunkText:      req.ChunkText,
		BookTitle:      req.BookTitle,
		ChunkID:        req.ChunkID,
		IsContinuation: req.IsContinuation,
	})
	if err != nil {
		response.Fail(c, toErrno(err))
		return
	}
	response.OK(c, SummaryResponse{Summary: summary})
}

// Summarize 汇总已读内容。
func (h *Handler) Summarize(c *gin.Context) {
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}

	summary, err := h.svc.Summarize(c.Request.Context(), req.Chunks, req.BookTitle)
	if err != nil {
		response.Fail(c, toErrno(err))
		return
	}
	response.OK(c, SummaryResponse{Summary: summary})
}

// AskQuestion 基于关键词选取片段回答问题。
func (h *Handler) AskQuestion(c *gin.Context) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}

	ans, err := h.svc.AskKeyword(c.Request.Context(), &biz.KeywordQuestion{
		Question:     req.Question,
		Chunks:       req.Chunks,
		BookTitle:    req.BookTitle,
		ContextScope: req.ContextScope,
		History:      req.ConversationHistory,
	})
	if err != nil {
		response.Fail(c, toErrno(err))
		return
	}
	response.OK(c, ans)
}

// QA 基于向量检索回答问题，首次提问时为图书建立索引。
func (h *Handler) QA(c *gin.Context) {
	var req RAGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}

	ans, err := h.svc.AskSemantic(c.Request.Context(), &biz.SemanticQuestion{
		Question:  req.UserQuestion,
		BookID:    req.BookID,
		Chunks:    req.Chunks,
		BookTitle: req.BookTitle,
		UpToPage:  req.UpToPage,
		TopK:      req.TopK,
	})
	if err != nil {
		response.Fail(c, toErrno(err))
		return
	}
	response.OK(c, ans)
}

// WarmBook 将索引构建提交到后台任务池，立即返回 202。
func (h *Handler) WarmBook(c *gin.Context) {
	var uri BookURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}
	var req WarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}

	if err := h.svc.WarmBook(uri.BookID, req.Chunks, req.BookTitle); err != nil {
		response.Fail(c, toErrno(err))
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"book_id": uri.BookID, "status": "queued"})
}

// EvictBook 删除图书的内存索引、磁盘缓存与问答缓存。
func (h *Handler) EvictBook(c *gin.Context) {
	var uri BookURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Fail(c, bindError(c, err))
		return
	}

	if err := h.svc.EvictBook(c.Request.Context(), uri.BookID); err != nil {
		response.Fail(c, evictErrno(err))
		return
	}
	response.OK(c, gin.H{"book_id": uri.BookID, "evicted": true})
}

// CacheStats 返回内存注册表与磁盘缓存的统计信息。
func (h *Handler) CacheStats(c *gin.Context) {
	disk, err := h.svc.Index().CacheStats()
	if err != nil {
		response.Fail(c, toErrno(err))
		return
	}
	response.OK(c, gin.H{
		"registry": h.svc.Index().Stats(),
		"disk":     disk,
	})
}

// Stats 返回服务指标快照。
func (h *Handler) Stats(c *gin.Context) {
	stats := gin.H{
		"metrics": h.svc.Metrics().Snapshot(),
		"index":   h.svc.Index().Stats(),
	}
	if h.breaker != nil {
		stats["embedding_breaker"] = h.breaker.Snapshot()
	}
	response.OK(c, stats)
}

// Metrics 以 Prometheus 文本格式导出指标。
func (h *Handler) Metrics(c *gin.Context) {
	c.String(http.StatusOK, h.svc.Metrics().Export("bookrag", ""))
}
