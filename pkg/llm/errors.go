package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kart-io/bookrag/pkg/utils/httpclient"
)

var (
	// ErrNotConfigured 供应商缺少必需的凭据。
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrEmptyResponse 供应商返回成功状态但内容为空。
	ErrEmptyResponse = errors.New("provider returned an empty response")
)

// StatusError 上游返回的非成功 HTTP 状态，Body 原样保留。
type StatusError struct {
	Provider   string
	Model      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("API error from %s (%d): %s", e.Model, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// Transient 限流与网关类错误视为瞬时错误。
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// TransportError 连接失败或超时等网络层错误，始终视为瞬时错误。
type TransportError struct {
	Provider string
	Model    string
	Err      error
}

func (e *TransportError) Error() string {
	target := e.Model
	if target == "" {
		target = e.Provider
	}
	return fmt.Sprintf("request error with %s: %v", target, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否应当切换到下一个模型或重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}

	var te *TransportError
	if errors.As(err, &te) {
		return !errors.Is(te.Err, context.Canceled)
	}

	return errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded)
}

// WrapHTTPError 将 httpclient 返回的错误归类为 StatusError / TransportError。
// 响应解析失败属于协议错误，原样包装后返回。
func WrapHTTPError(provider, model string, err error) error {
	if err == nil {
		return nil
	}

	var hse *httpclient.StatusError
	switch {
	case errors.As(err, &hse):
		return &StatusError{Provider: provider, Model: model, StatusCode: hse.StatusCode, Body: hse.Body}
	case errors.Is(err, httpclient.ErrDecode):
		return fmt.Errorf("%s: %w", provider, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &TransportError{Provider: provider, Model: model, Err: err}
	}
}
