package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/pkg/llm"
)

// RetryPolicy 指数退避重试策略。
type RetryPolicy struct {
	// MaxAttempts 最大尝试次数（包括首次调用）。
	MaxAttempts int
	// InitialDelay 首次重试前的等待时间。
	InitialDelay time.Duration
	// MaxDelay 单次等待上限。
	MaxDelay time.Duration
	// Multiplier 每次重试后的等待倍数。
	Multiplier float64
	// Retryable 判断错误是否可重试，nil 时使用 IsRetryable。
	Retryable func(error) bool
}

// DefaultRetryPolicy 返回默认重试策略。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Retryable:    IsRetryable,
	}
}

// IsRetryable 只有瞬时错误可重试；熔断器打开与上下文结束不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return llm.IsTransient(err)
}

// Retry 按策略执行 fn，直到成功、遇到不可重试错误、次数用尽或 ctx 结束。
func Retry(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	delay := policy.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			logger.Warnw("重试次数已用尽", "attempts", attempt, "error", err.Error())
			return fmt.Errorf("max retry attempts (%d) reached: %w", policy.MaxAttempts, err)
		}

		logger.Debugw("等待后重试", "attempt", attempt, "delay", delay, "error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
