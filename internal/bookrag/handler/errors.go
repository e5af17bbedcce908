package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/bookrag/internal/bookrag/biz"
	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/llm/gateway"
	"github.com/kart-io/bookrag/pkg/llm/resilience"
	errno "github.com/kart-io/bookrag/pkg/utils/errors"
	"github.com/kart-io/bookrag/pkg/utils/validator"
)

// bindError 将绑定或校验错误翻译为 Accept-Language 对应语言的 400 错误。
// 翻译器需与 gin 绑定使用同一个 Validator 实例，见 validator.SetGlobal。
func bindError(c *gin.Context, err error) *errno.Errno {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errno.ErrRequestTooLarge.WithMessagef("request body exceeds %d bytes", tooLarge.Limit).WithCause(err)
	}

	verrs := validator.Global().Translate(err, c.GetHeader("Accept-Language"))
	msg := err.Error()
	if verrs.HasErrors() {
		msg = verrs.First()
	}
	return errno.ErrBookInvalidRequest.WithMessage(msg).WithCause(err)
}

// toErrno 将业务与上游错误映射为 Errno。
// AllProvidersFailedError 包装了 ErrNotConfigured，必须先于后者判断。
func toErrno(err error) *errno.Errno {
	var (
		e      *errno.Errno
		verr   *biz.ValidationError
		failed *gateway.AllProvidersFailedError
		status *llm.StatusError
		trans  *llm.TransportError
	)
	switch {
	case errors.As(err, &e):
		return e
	case errors.As(err, &verr):
		return errno.ErrBookInvalidRequest.WithMessage(verr.Message).WithCause(err)
	case errors.Is(err, biz.ErrNotIndexed):
		return errno.ErrBookNotIndexed.WithCause(err)
	case errors.Is(err, biz.ErrNoRelevantContent):
		return errno.ErrBookNoRelevantContent.WithCause(err)
	case errors.Is(err, biz.ErrWarmRejected):
		return errno.ErrBookWarmRejected.WithCause(err)
	case errors.As(err, &failed):
		return errno.ErrAllProvidersFailed.WithMessage(failed.Error()).WithCause(err)
	case errors.Is(err, llm.ErrNotConfigured):
		return errno.ErrProviderNotConfigured.WithCause(err)
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.As(err, &status),
		errors.As(err, &trans):
		// 网关只返回 AllProvidersFailedError，这里只剩向量化供应商的错误
		return errno.ErrEmbeddingFailed.WithMessage(err.Error()).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return errno.ErrTimeout.WithCause(err)
	case errors.Is(err, biz.ErrIndexBuild):
		return errno.ErrBookIndexFailed.WithCause(err)
	default:
		return errno.ErrInternal.WithCause(err)
	}
}

func evictErrno(err error) *errno.Errno {
	e := toErrno(err)
	if e.Code == errno.ErrInternal.Code {
		return errno.ErrBookEvictFailed.WithCause(err)
	}
	return e
}
