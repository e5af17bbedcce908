package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/pkg/llm"
)

var (
	errTransient = &llm.StatusError{Provider: "stub", StatusCode: http.StatusServiceUnavailable, Body: "busy"}
	errFatal     = &llm.StatusError{Provider: "stub", StatusCode: http.StatusBadRequest, Body: "bad"}
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1})
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(func() error { return errTransient }, nil))
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.EqualValues(t, 1, cb.Snapshot().Rejected)
}

func TestCircuitBreaker_IgnoresUncountedErrors(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errFatal }, llm.IsTransient)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().Failures)
}

func TestCircuitBreaker_ZeroMaxFailuresNeverOpens(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 0, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1})

	for i := 0; i < 10; i++ {
		_ = cb.Execute(func() error { return errTransient }, nil)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 10, cb.Snapshot().Failures)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 1, OpenTimeout: time.Second, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errTransient }, nil)
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 1, OpenTimeout: time.Second, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errTransient }, nil)
	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errTransient }, nil)
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	var calls int
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalNotRetried(t *testing.T) {
	var calls int
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return errFatal
	})
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	var calls int
	err := Retry(context.Background(), fastPolicy(2), func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "max retry attempts (2) reached")

	var se *llm.StatusError
	assert.ErrorAs(t, err, &se)
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1}

	var calls int
	err := Retry(ctx, policy, func() error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errTransient))
	assert.True(t, IsRetryable(&llm.TransportError{Err: errors.New("connection refused")}))
	assert.False(t, IsRetryable(errFatal))
	assert.False(t, IsRetryable(ErrCircuitOpen))
	assert.False(t, IsRetryable(context.Canceled))
}

type flakyEmbedder struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *flakyEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *flakyEmbedder) Name() string { return "flaky" }

func TestEmbeddingProvider_RetriesTransient(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, err: errTransient}
	p := NewEmbeddingProvider(inner, fastPolicy(3), nil)

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.EqualValues(t, 3, inner.calls.Load())
	assert.Equal(t, "flaky", p.Name())
	assert.Equal(t, "closed", p.Breaker().Snapshot().State)
}

func TestEmbeddingProvider_FatalSurfacesOnce(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: errFatal}
	p := NewEmbeddingProvider(inner, fastPolicy(3), nil)

	_, err := p.EmbedSingle(context.Background(), "a")
	assert.ErrorIs(t, err, errFatal)
	assert.EqualValues(t, 1, inner.calls.Load())
}
