package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	mwopts "github.com/kart-io/bookrag/pkg/options/middleware"
)

// CORS returns a CORS middleware. The options must have passed Validate.
// An AllowHeaders of ["*"] echoes the preflight's requested headers, which
// keeps credentials usable.
func CORS(opts *mwopts.CORSOptions) gin.HandlerFunc {
	if opts == nil {
		opts = mwopts.NewCORSOptions()
	}
	_ = opts.Complete()

	origins := make(map[string]struct{}, len(opts.AllowOrigins))
	wildcard := false
	for _, o := range opts.AllowOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		origins[o] = struct{}{}
	}

	allowMethods := strings.Join(opts.AllowMethods, ", ")
	allowHeaders := strings.Join(opts.AllowHeaders, ", ")
	echoHeaders := len(opts.AllowHeaders) == 1 && opts.AllowHeaders[0] == "*"
	exposeHeaders := strings.Join(opts.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(opts.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		allowed := ""
		if _, ok := origins[origin]; ok {
			allowed = origin
		} else if wildcard {
			allowed = "*"
		}
		if allowed == "" {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", allowed)
		c.Writer.Header().Add("Vary", "Origin")
		if opts.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			c.Header("Access-Control-Expose-Headers", exposeHeaders)
		}

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			if echoHeaders {
				if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
					c.Header("Access-Control-Allow-Headers", requested)
				}
			} else {
				c.Header("Access-Control-Allow-Headers", allowHeaders)
			}
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
