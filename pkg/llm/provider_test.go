package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/pkg/utils/httpclient"
)

type stubEmbedder struct{ name string }

func (s *stubEmbedder) Name() string { return s.name }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubChat struct{ name string }

func (s *stubChat) Name() string { return s.name }

func (s *stubChat) Chat(_ context.Context, req *ChatRequest) (string, error) {
	return "model=" + req.Model, nil
}

func TestRegistry(t *testing.T) {
	RegisterEmbeddingProvider("test-embed", func(cfg map[string]any) (EmbeddingProvider, error) {
		name, _ := cfg["name"].(string)
		return &stubEmbedder{name: name}, nil
	})
	RegisterChatProvider("test-chat", func(map[string]any) (ChatProvider, error) {
		return &stubChat{name: "test-chat"}, nil
	})

	ep, err := NewEmbeddingProvider("test-embed", map[string]any{"name": "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", ep.Name())

	cp, err := NewChatProvider("test-chat", nil)
	require.NoError(t, err)
	out, err := cp.Chat(context.Background(), &ChatRequest{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "model=m1", out)

	_, err = NewEmbeddingProvider("test-chat", nil)
	assert.Error(t, err)
	_, err = NewChatProvider("missing", nil)
	assert.Error(t, err)

	assert.Subset(t, ListProviders(), []string{"test-chat", "test-embed"})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"502", &StatusError{StatusCode: http.StatusBadGateway}, true},
		{"503 wrapped", fmt.Errorf("call: %w", &StatusError{StatusCode: http.StatusServiceUnavailable}), true},
		{"504", &StatusError{StatusCode: http.StatusGatewayTimeout}, true},
		{"400", &StatusError{StatusCode: http.StatusBadRequest}, false},
		{"401", &StatusError{StatusCode: http.StatusUnauthorized}, false},
		{"500", &StatusError{StatusCode: http.StatusInternalServerError}, false},
		{"transport", &TransportError{Err: errors.New("connection refused")}, true},
		{"canceled transport", &TransportError{Err: context.Canceled}, false},
		{"empty", ErrEmptyResponse, true},
		{"deadline", context.DeadlineExceeded, true},
		{"not configured", ErrNotConfigured, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestWrapHTTPError(t *testing.T) {
	err := WrapHTTPError("openrouter", "m1", &httpclient.StatusError{StatusCode: 400, Body: "bad"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 400, se.StatusCode)
	assert.Equal(t, "bad", se.Body)
	assert.Equal(t, "API error from m1 (400): bad", se.Error())

	err = WrapHTTPError("openrouter", "m1", errors.New("dial tcp: refused"))
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, IsTransient(err))

	err = WrapHTTPError("openrouter", "m1", fmt.Errorf("%w: eof", httpclient.ErrDecode))
	assert.ErrorIs(t, err, httpclient.ErrDecode)
	assert.False(t, IsTransient(err))

	assert.Nil(t, WrapHTTPError("x", "y", nil))
}
