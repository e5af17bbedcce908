package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

func TestNewProvider_Defaults(t *testing.T) {
	p, err := llm.NewChatProvider(ProviderName, map[string]any{"api_key": "k"})
	require.NoError(t, err)

	provider := p.(*Provider)
	assert.Equal(t, "https://openrouter.ai/api/v1", provider.config.BaseURL)
	assert.Equal(t, "deepseek/deepseek-chat-v3-0324:free", provider.config.ChatModel)
	assert.Equal(t, 0.9, provider.config.TopP)
	assert.Equal(t, 60*time.Second, provider.config.Timeout)
	assert.True(t, provider.Configured())
}

func TestChat_RequestShape(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "http://localhost:5173", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "bookrag", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"\n hello \n"}}]}`))
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{
		BaseURL: server.URL,
		APIKey:  "secret",
		TopP:    0.9,
		Timeout: time.Second,
		Referer: "http://localhost:5173",
		Title:   "bookrag",
	})

	text, err := p.Chat(context.Background(), &llm.ChatRequest{
		Model:       "moonshotai/kimi-k2:free",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens:   300,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "moonshotai/kimi-k2:free", got["model"])
	assert.EqualValues(t, 300, got["max_tokens"])
	assert.EqualValues(t, 0.9, got["top_p"])
}

func TestChat_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{BaseURL: server.URL, APIKey: "k", Timeout: time.Second})
	_, err := p.Chat(context.Background(), &llm.ChatRequest{Model: "m"})
	require.Error(t, err)

	var se *llm.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "overloaded", se.Body)
	assert.True(t, llm.IsTransient(err))
}

func TestChat_NotConfigured(t *testing.T) {
	p := NewProviderWithConfig(DefaultConfig())
	_, err := p.Chat(context.Background(), &llm.ChatRequest{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.False(t, p.Configured())
}

func TestChat_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := NewProviderWithConfig(&Config{BaseURL: server.URL, APIKey: "k", Timeout: time.Second})
	_, err := p.Chat(context.Background(), &llm.ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	assert.True(t, llm.IsTransient(err))
}
