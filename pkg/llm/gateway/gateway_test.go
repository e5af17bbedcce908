package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/llm/cohere"
	"github.com/kart-io/bookrag/pkg/llm/openrouter"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

type scriptedReply struct {
	status int
	body   string
}

// scriptedServer 按顺序返回预设响应，并记录每次请求的 model 字段。
type scriptedServer struct {
	mu      sync.Mutex
	replies []scriptedReply
	models  []string
	bodies  []map[string]any
	*httptest.Server
}

func newScriptedServer(t *testing.T, replies ...scriptedReply) *scriptedServer {
	t.Helper()
	s := &scriptedServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(data, &payload)

		s.mu.Lock()
		idx := len(s.bodies)
		s.bodies = append(s.bodies, payload)
		if m, ok := payload["model"].(string); ok {
			s.models = append(s.models, m)
		}
		s.mu.Unlock()

		reply := scriptedReply{status: http.StatusInternalServerError, body: "unexpected call"}
		if idx < len(s.replies) {
			reply = s.replies[idx]
		}
		w.WriteHeader(reply.status)
		_, _ = w.Write([]byte(reply.body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func newPrimary(url string) llm.ChatProvider {
	return openrouter.NewProviderWithConfig(&openrouter.Config{
		BaseURL: url,
		APIKey:  "test-key",
		TopP:    0.9,
		Timeout: 5 * time.Second,
	})
}

func newSecondary(url string) llm.ChatProvider {
	return cohere.NewProviderWithConfig(&cohere.Config{
		BaseURL:   url,
		APIKey:    "test-key",
		ChatModel: "command-r-plus-08-2024",
		Timeout:   5 * time.Second,
	})
}

func testMessages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "Book: Dune"},
	}
}

func TestGenerate_TransientThenSuccess(t *testing.T) {
	primary := newScriptedServer(t,
		scriptedReply{status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`},
		scriptedReply{status: http.StatusOK, body: `{"choices":[{"message":{"content":"  answer  "}}]}`},
	)
	secondary := newScriptedServer(t)

	var fallbacks []string
	g := New(newPrimary(primary.URL), newSecondary(secondary.URL), Config{
		OnFallback: func(stage string) { fallbacks = append(fallbacks, stage) },
	})

	text, err := g.Generate(context.Background(), testMessages(), 400, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, DefaultModels, primary.models)
	assert.Equal(t, 0, secondary.calls())
	assert.Equal(t, []string{"model"}, fallbacks)

	body := primary.bodies[1]
	assert.EqualValues(t, 400, body["max_tokens"])
	assert.EqualValues(t, 0.7, body["temperature"])
	assert.EqualValues(t, 0.9, body["top_p"])
}

func TestGenerate_EmptyAnswerIsTransient(t *testing.T) {
	primary := newScriptedServer(t,
		scriptedReply{status: http.StatusOK, body: `{"choices":[{"message":{"content":""}}]}`},
		scriptedReply{status: http.StatusOK, body: `{"choices":[{"text":"from text field"}]}`},
	)

	g := New(newPrimary(primary.URL), nil, Config{})
	text, err := g.Generate(context.Background(), testMessages(), 100, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "from text field", text)
	assert.Equal(t, 2, primary.calls())
}

func TestGenerate_AllTransientWithoutSecondary(t *testing.T) {
	primary := newScriptedServer(t,
		scriptedReply{status: http.StatusServiceUnavailable, body: "down"},
		scriptedReply{status: http.StatusServiceUnavailable, body: "down"},
	)

	g := New(newPrimary(primary.URL), nil, Config{})
	_, err := g.Generate(context.Background(), testMessages(), 100, 0.3)
	require.Error(t, err)

	var apf *AllProvidersFailedError
	require.ErrorAs(t, err, &apf)
	assert.Nil(t, apf.Secondary)
	assert.Contains(t, err.Error(), "OpenRouter failed and Cohere not configured: ")
	assert.Contains(t, err.Error(), "All AI models failed to generate summary")
	assert.NotContains(t, err.Error(), "All AI services failed")
	assert.Equal(t, 2, primary.calls())
}

func TestGenerate_FatalStopsModelLoop(t *testing.T) {
	primary := newScriptedServer(t,
		scriptedReply{status: http.StatusBadRequest, body: `{"error":"bad prompt"}`},
	)
	secondary := newScriptedServer(t,
		scriptedReply{status: http.StatusInternalServerError, body: "cohere down"},
	)

	g := New(newPrimary(primary.URL), newSecondary(secondary.URL), Config{})
	_, err := g.Generate(context.Background(), testMessages(), 100, 0.3)
	require.Error(t, err)

	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, 1, secondary.calls())

	var se *llm.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, `{"error":"bad prompt"}`, se.Body)

	msg := err.Error()
	assert.Contains(t, msg, "All AI services failed. OpenRouter: API error from deepseek/deepseek-chat-v3-0324:free (400): {\"error\":\"bad prompt\"}")
	assert.Contains(t, msg, ", Cohere: ")
	assert.Contains(t, msg, "cohere down")
}

func TestGenerate_FallsBackToSecondary(t *testing.T) {
	primary := newScriptedServer(t,
		scriptedReply{status: http.StatusBadGateway, body: "bad gateway"},
		scriptedReply{status: http.StatusGatewayTimeout, body: "timeout"},
	)
	secondary := newScriptedServer(t,
		scriptedReply{status: http.StatusOK, body: `{"message":{"content":[{"type":"text","text":"cohere answer"}]}}`},
	)

	var fallbacks []string
	g := New(newPrimary(primary.URL), newSecondary(secondary.URL), Config{
		OnFallback: func(stage string) { fallbacks = append(fallbacks, stage) },
	})

	text, err := g.Generate(context.Background(), testMessages(), 500, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "cohere answer", text)
	assert.Equal(t, []string{"model", "provider"}, fallbacks)

	require.Len(t, secondary.bodies, 1)
	msgs, ok := secondary.bodies[0]["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "Instructions: be brief\n\nBook: Dune", first["content"])
	assert.Equal(t, "command-r-plus-08-2024", secondary.bodies[0]["model"])
}

func TestGenerate_NoPrimaryKeyUsesSecondary(t *testing.T) {
	secondary := newScriptedServer(t,
		scriptedReply{status: http.StatusOK, body: `{"message":{"content":"plain string"}}`},
	)
	primary := openrouter.NewProviderWithConfig(openrouter.DefaultConfig())

	g := New(primary, newSecondary(secondary.URL), Config{})
	text, err := g.Generate(context.Background(), testMessages(), 100, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "plain string", text)
}

func TestGenerate_NoPrimaryKeyNoSecondary(t *testing.T) {
	primary := openrouter.NewProviderWithConfig(openrouter.DefaultConfig())

	g := New(primary, nil, Config{})
	_, err := g.Generate(context.Background(), testMessages(), 100, 0.3)
	require.Error(t, err)
	assert.Equal(t, "OpenRouter failed and Cohere not configured: OpenRouter API key not configured.", err.Error())
	assert.True(t, errors.Is(err, llm.ErrNotConfigured))
}

func TestGenerate_CanceledContext(t *testing.T) {
	primary := newScriptedServer(t)
	secondary := newScriptedServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := New(newPrimary(primary.URL), newSecondary(secondary.URL), Config{})
	_, err := g.Generate(ctx, testMessages(), 100, 0.3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, primary.calls())
	assert.Equal(t, 0, secondary.calls())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		want OutcomeKind
	}{
		{"success", "hi", nil, OutcomeSuccess},
		{"blank", "   ", nil, OutcomeTransient},
		{"rate limited", "", &llm.StatusError{StatusCode: 429}, OutcomeTransient},
		{"transport", "", &llm.TransportError{Err: errors.New("refused")}, OutcomeTransient},
		{"empty response", "", llm.ErrEmptyResponse, OutcomeTransient},
		{"bad request", "", &llm.StatusError{StatusCode: 400}, OutcomeFatal},
		{"not configured", "", llm.ErrNotConfigured, OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text, tt.err).Kind)
		})
	}
}

func TestFlattenMessages(t *testing.T) {
	got := FlattenMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "u1"},
		{Role: llm.RoleAssistant, Content: "dropped"},
		{Role: llm.RoleUser, Content: "u2"},
	})
	assert.Equal(t, "Instructions: sys\n\nu1\n\nu2", got)
}
