package middleware

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	mwopts "github.com/kart-io/bookrag/pkg/options/middleware"
	"github.com/kart-io/bookrag/pkg/utils/errors"
	"github.com/kart-io/bookrag/pkg/utils/response"
)

// PanicHandler is called after a panic has been logged.
type PanicHandler func(c *gin.Context, err any, stack []byte)

// Recovery returns a middleware that turns panics into ErrInternal responses.
func Recovery(opts *mwopts.RecoveryOptions, onPanic PanicHandler) gin.HandlerFunc {
	if opts == nil {
		opts = mwopts.NewRecoveryOptions()
	}
	includeStack := opts.EnableStackTrace
	if includeStack && isProductionEnvironment() {
		logger.Warn("Stack trace is enabled but running in production environment, it will not be returned to clients")
		includeStack = false
	}

	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := debug.Stack()

			logger.Errorw("panic recovered",
				"panic", r,
				"stack_trace", string(stack),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", GetRequestID(c.Request.Context()),
			)
			if onPanic != nil {
				onPanic(c, r, stack)
			}

			msg := fmt.Sprintf("panic: %v", r)
			if includeStack {
				msg = fmt.Sprintf("panic: %v\n%s", r, stack)
			}
			response.Fail(c, errors.ErrInternal.WithMessage(msg))
		}()
		c.Next()
	}
}

// isProductionEnvironment checks APP_ENV or GO_ENV.
func isProductionEnvironment() bool {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	switch env {
	case "production", "prod", "PRODUCTION", "PROD":
		return true
	default:
		return false
	}
}
