// Package middleware provides the gin middleware chain of the bookrag HTTP server.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/bookrag/pkg/infra/middleware/common"
	mwopts "github.com/kart-io/bookrag/pkg/options/middleware"
)

// HeaderXRequestID is the default request ID header.
const HeaderXRequestID = common.HeaderXRequestID

// maxRequestIDLength 客户端传入的请求 ID 超过该长度时重新生成。
const maxRequestIDLength = 128

// RequestID returns a middleware that propagates or generates the request ID.
// The ID is stored in the request context and echoed in the response header.
func RequestID(opts *mwopts.RequestIDOptions) gin.HandlerFunc {
	if opts == nil {
		opts = mwopts.NewRequestIDOptions()
	}
	header := opts.Header
	if header == "" {
		header = HeaderXRequestID
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(header)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = common.GenerateRequestID()
		}

		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), requestID))
		c.Header(header, requestID)
		c.Next()
	}
}

// GetRequestID is an alias of common.GetRequestID.
var GetRequestID = common.GetRequestID
