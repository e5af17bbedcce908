// Package resilience 为 Embedding 调用提供重试与熔断。
// 生成调用的降级由 gateway 负责，不经过本包。
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// ErrCircuitOpen 熔断器打开时拒绝调用。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig 熔断器配置。
type BreakerConfig struct {
	// MaxFailures 连续失败达到该次数后打开熔断器，0 表示从不打开。
	MaxFailures int
	// OpenTimeout 打开状态持续多久后进入半开。
	OpenTimeout time.Duration
	// HalfOpenMaxCalls 半开状态允许的探测调用数。
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig 返回默认熔断器配置。
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxFailures:      5,
		OpenTimeout:      60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// State 熔断器状态。
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSnapshot 熔断器状态快照，供 /v1/stats 输出。
type BreakerSnapshot struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Rejected        int64     `json:"rejected"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// CircuitBreaker 熔断器。
type CircuitBreaker struct {
	cfg *BreakerConfig
	now func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	probes       int
	probeSuccess int
	rejected     int64
}

// NewCircuitBreaker 创建熔断器，cfg 为 nil 时使用默认配置。
func NewCircuitBreaker(cfg *BreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute 通过熔断器执行 fn。counts 判断错误是否计入失败次数，nil 表示全部计入。
func (cb *CircuitBreaker) Execute(fn func() error, counts func(error) bool) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn()
	cb.record(err != nil && (counts == nil || counts(err)), err == nil)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.OpenTimeout {
			cb.rejected++
			return ErrCircuitOpen
		}
		logger.Infow("熔断器进入半开状态")
		cb.state = StateHalfOpen
		cb.probes = 1
		cb.probeSuccess = 0
		return nil

	default:
		if cb.probes >= cb.cfg.HalfOpenMaxCalls {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.probes++
		return nil
	}
}

func (cb *CircuitBreaker) record(failed, succeeded bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case failed:
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || (cb.cfg.MaxFailures > 0 && cb.failures >= cb.cfg.MaxFailures) {
			if cb.state != StateOpen {
				logger.Warnw("熔断器打开",
					"failures", cb.failures,
					"max_failures", cb.cfg.MaxFailures,
				)
			}
			cb.state = StateOpen
		}

	case succeeded:
		if cb.state == StateHalfOpen {
			cb.probeSuccess++
			if cb.probeSuccess < cb.probes {
				return
			}
			logger.Infow("熔断器恢复关闭状态")
			cb.state = StateClosed
		}
		cb.failures = 0

	default:
		// 不计入的失败在半开状态下释放探测名额
		if cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
	}
}

// State 返回当前状态。
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot 返回状态快照。
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		State:           cb.state.String(),
		Failures:        cb.failures,
		Rejected:        cb.rejected,
		LastFailureTime: cb.lastFailure,
	}
}

// Reset 重置为关闭状态。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeSuccess = 0
}
