package cohere

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/pkg/llm"
)

func newTestProvider(t *testing.T, status int, body string) *Provider {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return NewProviderWithConfig(&Config{
		BaseURL:   server.URL,
		APIKey:    "k",
		ChatModel: "command-r-plus-08-2024",
		Timeout:   time.Second,
	})
}

func TestChat_ResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"content blocks", `{"message":{"content":[{"type":"text","text":" block "}]}}`, "block"},
		{"content string", `{"message":{"content":"plain"}}`, "plain"},
		{"legacy text", `{"text":"legacy"}`, "legacy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, http.StatusOK, tt.body)
			got, err := p.Chat(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChat_EmptyContent(t *testing.T) {
	p := newTestProvider(t, http.StatusOK, `{"message":{"content":[]}}`)
	_, err := p.Chat(context.Background(), &llm.ChatRequest{})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestChat_Error(t *testing.T) {
	p := newTestProvider(t, http.StatusUnauthorized, "invalid api token")
	_, err := p.Chat(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, "cohere API error (401): invalid api token", err.Error())
	assert.False(t, llm.IsTransient(err))
}

func TestChat_NotConfigured(t *testing.T) {
	p := NewProviderWithConfig(DefaultConfig())
	_, err := p.Chat(context.Background(), &llm.ChatRequest{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}
