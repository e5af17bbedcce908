package resilience

import (
	"context"

	"github.com/kart-io/bookrag/pkg/llm"
)

// EmbeddingProvider 为 llm.EmbeddingProvider 增加重试与熔断。
// 只有瞬时错误计入熔断器失败次数。
type EmbeddingProvider struct {
	next    llm.EmbeddingProvider
	policy  *RetryPolicy
	breaker *CircuitBreaker
}

// NewEmbeddingProvider 包装 next。policy 或 breakerCfg 为 nil 时使用默认值。
func NewEmbeddingProvider(next llm.EmbeddingProvider, policy *RetryPolicy, breakerCfg *BreakerConfig) *EmbeddingProvider {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &EmbeddingProvider{
		next:    next,
		policy:  policy,
		breaker: NewCircuitBreaker(breakerCfg),
	}
}

// Embed 批量向量化。
func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := Retry(ctx, p.policy, func() error {
		return p.breaker.Execute(func() error {
			var err error
			out, err = p.next.Embed(ctx, texts)
			return err
		}, llm.IsTransient)
	})
	return out, err
}

// EmbedSingle 单条向量化。
func (p *EmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := Retry(ctx, p.policy, func() error {
		return p.breaker.Execute(func() error {
			var err error
			out, err = p.next.EmbedSingle(ctx, text)
			return err
		}, llm.IsTransient)
	})
	return out, err
}

// Name 返回被包装供应商的名称。
func (p *EmbeddingProvider) Name() string {
	return p.next.Name()
}

// Breaker 返回熔断器，用于监控。
func (p *EmbeddingProvider) Breaker() *CircuitBreaker {
	return p.breaker
}

var _ llm.EmbeddingProvider = (*EmbeddingProvider)(nil)
