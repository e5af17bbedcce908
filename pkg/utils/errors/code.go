package errors

// Service codes (AA).
const (
	// ServiceCommon is for errors shared by every service.
	ServiceCommon = 0

	// ServiceBookRAG is for the book retrieval and QA service.
	ServiceBookRAG = 21

	// ServiceLLM is for upstream generation and embedding providers.
	ServiceLLM = 90
)

// Category codes (BB).
const (
	CategorySuccess   = 0
	CategoryRequest   = 1  // 400
	CategoryResource  = 4  // 404
	CategoryConflict  = 5  // 409
	CategoryRateLimit = 6  // 429
	CategoryInternal  = 7  // 500
	CategoryCache     = 9  // 500
	CategoryNetwork   = 10 // 502/503
	CategoryTimeout   = 11 // 504
	CategoryConfig    = 12 // 500
)

// MakeCode creates an error code from service, category, and sequence.
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	return code / 100000, (code % 100000) / 1000, code % 1000
}

// IsServerError reports whether the code belongs to a 5xx category.
// Upstream failures (502, 504) count as server errors.
func IsServerError(code int) bool {
	_, category, _ := ParseCode(code)
	return category >= CategoryInternal && category <= CategoryConfig
}
