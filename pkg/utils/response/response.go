// Package response writes HTTP responses for gin handlers.
//
// Successful responses carry the payload as-is so that existing clients keep
// their JSON shapes. Errors are written as {code, message, request_id} with
// the HTTP status of the Errno.
package response

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/pkg/infra/middleware/common"
	"github.com/kart-io/bookrag/pkg/utils/errors"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Response is the error envelope.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`
}

// Err creates an error response from an Errno.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return &Response{Code: errors.OK.Code, Message: errors.OK.MessageEN}
	}
	return &Response{
		Code:    e.Code,
		Message: e.MessageEN,
	}
}

// ErrWithLang creates an error response with language-specific message.
func ErrWithLang(e *errors.Errno, lang string) *Response {
	r := Err(e)
	if e != nil {
		r.Message = e.Message(lang)
	}
	return r
}

// WithRequestID adds request ID to the response.
func (r *Response) WithRequestID(requestID string) *Response {
	r.RequestID = requestID
	return r
}

// Fail aborts the request with the Errno derived from err.
// Errors that are not an *errors.Errno become ErrInternal.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)
	if e == nil {
		e = errors.ErrInternal
	}
	if errors.IsServerError(e.Code) {
		logger.Errorw("request failed",
			"path", c.FullPath(),
			"code", e.Code,
			"error", fmt.Sprintf("%v", e),
		)
	}
	body := Err(e).WithRequestID(common.GetRequestID(c.Request.Context()))
	write(c, e.HTTPStatus(), body)
	c.Abort()
}

// OK writes data with status 200.
func OK(c *gin.Context, data any) {
	JSON(c, http.StatusOK, data)
}

// JSON writes data with the given status using the sonic backed codec.
func JSON(c *gin.Context, status int, data any) {
	write(c, status, data)
}

func write(c *gin.Context, status int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		_ = c.Error(err)
		payload, _ = json.Marshal(Err(errors.ErrInternal))
		status = http.StatusInternalServerError
	}
	c.Render(status, render.Data{ContentType: contentTypeJSON, Data: payload})
}
