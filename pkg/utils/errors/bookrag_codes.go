package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// 通用错误
var (
	OK                  = &Errno{Code: 0, HTTP: http.StatusOK, GRPCCode: codes.OK, MessageEN: "success", MessageZH: "成功"}
	ErrInternal         = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Internal server error", "服务器内部错误"))
	ErrNotFound         = Register(New(MakeCode(ServiceCommon, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "Resource not found", "资源不存在"))
	ErrMethodNotAllowed = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusMethodNotAllowed, codes.Unimplemented, "Method not allowed", "请求方法不允许"))
	ErrRequestTooLarge  = Register(New(MakeCode(ServiceCommon, CategoryRequest, 2), http.StatusRequestEntityTooLarge, codes.InvalidArgument, "Request body too large", "请求体过大"))
	ErrTimeout          = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 1), http.StatusRequestTimeout, codes.DeadlineExceeded, "Request timeout", "请求超时"))
)

// 图书 RAG 服务错误 (服务代码 21)
var (
	ErrBookInvalidRequest    = Register(New(MakeCode(ServiceBookRAG, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid request parameters", "请求参数无效"))
	ErrBookNoRelevantContent = Register(New(MakeCode(ServiceBookRAG, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "No relevant content found for the question.", "未找到与问题相关的内容"))
	ErrBookNotIndexed        = Register(New(MakeCode(ServiceBookRAG, CategoryConflict, 1), http.StatusConflict, codes.FailedPrecondition, "Book has not been indexed", "图书尚未建立索引"))
	ErrBookIndexFailed       = Register(New(MakeCode(ServiceBookRAG, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Failed to process book chunks for RAG", "图书分块索引失败"))
	ErrBookEvictFailed       = Register(New(MakeCode(ServiceBookRAG, CategoryCache, 1), http.StatusInternalServerError, codes.Internal, "Failed to clear book cache", "清除图书缓存失败"))
	ErrBookWarmRejected      = Register(New(MakeCode(ServiceBookRAG, CategoryRateLimit, 1), http.StatusTooManyRequests, codes.ResourceExhausted, "Background indexing queue is full", "后台索引队列已满"))
)

// 上游模型供应商错误 (服务代码 90)
var (
	ErrProviderNotConfigured = Register(New(MakeCode(ServiceLLM, CategoryConfig, 1), http.StatusInternalServerError, codes.FailedPrecondition, "Provider API key not configured", "供应商 API 密钥未配置"))
	ErrUpstreamFatal         = Register(New(MakeCode(ServiceLLM, CategoryNetwork, 1), http.StatusBadGateway, codes.Unavailable, "Upstream provider error", "上游供应商错误"))
	ErrAllProvidersFailed    = Register(New(MakeCode(ServiceLLM, CategoryNetwork, 2), http.StatusBadGateway, codes.Unavailable, "All AI services failed", "所有 AI 服务均失败"))
	ErrEmbeddingFailed       = Register(New(MakeCode(ServiceLLM, CategoryNetwork, 3), http.StatusBadGateway, codes.Unavailable, "Embedding provider error", "向量化服务错误"))
)
