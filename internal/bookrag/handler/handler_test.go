package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/internal/bookrag/biz"
	"github.com/kart-io/bookrag/internal/bookrag/metrics"
	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/infra/pool"
	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/llm/gateway"
	errno "github.com/kart-io/bookrag/pkg/utils/errors"
	"github.com/kart-io/bookrag/pkg/utils/json"
	"github.com/kart-io/bookrag/pkg/utils/validator"
)

var setupBinding sync.Once

func useBindingValidator() {
	setupBinding.Do(func() {
		gin.SetMode(gin.TestMode)
		v := validator.New(validator.WithTagName("binding"))
		validator.SetGlobal(v)
		binding.Validator = v.Binding()
	})
}

var testVocab = []string{"alice", "bob", "garden", "kitchen", "dinner", "walked", "talked"}

// wordEmbedder 按固定词表计数生成向量。gate 非 nil 时 Embed 阻塞到 gate 关闭。
type wordEmbedder struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(testVocab))
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		for i, term := range testVocab {
			if w == term {
				v[i]++
			}
		}
	}
	return v
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.gate != nil {
		<-e.gate
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *wordEmbedder) Name() string { return "word" }

type stubGenerator struct {
	answer string
	err    error
}

func (g *stubGenerator) Generate(context.Context, []llm.Message, int, float64) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type testEnv struct {
	engine   *gin.Engine
	svc      *biz.Service
	embedder *wordEmbedder
}

func newTestEnv(t *testing.T, gen *stubGenerator, emb *wordEmbedder, poolCfg *pool.Config) *testEnv {
	t.Helper()
	useBindingValidator()

	if emb == nil {
		emb = &wordEmbedder{}
	}
	if poolCfg == nil {
		poolCfg = pool.DefaultConfig()
	}
	p, err := pool.NewPool("test-warm", poolCfg)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	cache, err := store.NewCacheStore(t.TempDir())
	require.NoError(t, err)

	mt := metrics.New()
	index := biz.NewIndexManager(emb, cache, biz.WithWarmPool(p), biz.WithMetrics(mt), biz.WithWarmTimeout(5*time.Second))
	cfg := biz.DefaultServiceConfig()
	cfg.Model = "test-model"
	cfg.APIKeyConfigured = true
	svc := biz.NewService(index, gen, nil, mt, cfg)

	h := NewHandler(svc, nil)
	engine := gin.New()
	engine.GET("/health", h.Health)
	engine.GET("/metrics", h.Metrics)
	engine.POST("/summarize-chunk", h.SummarizeChunk)
	engine.POST("/summarize", h.Summarize)
	engine.POST("/ask-question", h.AskQuestion)
	engine.POST("/qa", h.QA)
	engine.GET("/v1/books/cache", h.CacheStats)
	engine.POST("/v1/books/:book_id/warm", h.WarmBook)
	engine.DELETE("/v1/books/:book_id", h.EvictBook)
	engine.GET("/v1/stats", h.Stats)

	return &testEnv{engine: engine, svc: svc, embedder: emb}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func aliceBobChunks() []any {
	return []any{
		map[string]any{"text": "Alice walked in the garden.", "page_number": 1},
		map[string]any{"text": "Bob cooked dinner in the kitchen.", "page_number": 2},
		map[string]any{"text": "Alice and Bob talked.", "page_number": 3},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{}, nil, nil)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["api_key_configured"])
	assert.Equal(t, "test-model", body["model"])
}

func TestQA(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "Alice was in the garden."}, nil, nil)

	w := env.do(t, http.MethodPost, "/qa", map[string]any{
		"user_question": "Who walked in the garden?",
		"book_id":       "book-1",
		"chunks":        aliceBobChunks(),
		"book_title":    "Test Book",
		"up_to_page":    1,
		"top_k":         2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "Alice was in the garden.", body["answer"])
	assert.Equal(t, "book-1", body["book_id"])
	assert.EqualValues(t, 1, body["up_to_page"])
	assert.EqualValues(t, 1, body["chunks_used"])
	assert.Len(t, body["similarity_scores"], 1)
	assert.True(t, env.svc.Index().Has("book-1"))
}

func TestQA_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "unused"}, nil, nil)

	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{
			name:    "missing question",
			body:    map[string]any{"book_id": "b", "chunks": []string{"text"}},
			message: "Question must be provided.",
		},
		{
			name:    "missing book id",
			body:    map[string]any{"user_question": "why?", "chunks": []string{"text"}},
			message: "Book ID must be provided.",
		},
		{
			name:    "empty chunks",
			body:    map[string]any{"user_question": "why?", "book_id": "b", "chunks": []string{}},
			message: "Chunks must be a non-empty list.",
		},
		{
			name: "top_k out of range",
			body: map[string]any{"user_question": "why?", "book_id": "b", "chunks": []string{"text"}, "top_k": 500},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/qa", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			body := decode(t, w)
			assert.EqualValues(t, errno.ErrBookInvalidRequest.Code, body["code"])
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			}
		})
	}
	assert.Zero(t, env.embedder.calls.Load())
}

func TestQA_AllProvidersFailed(t *testing.T) {
	failed := &gateway.AllProvidersFailedError{
		PrimaryLabel:   "OpenRouter",
		SecondaryLabel: "Cohere",
		Primary:        &llm.StatusError{Provider: "openrouter", StatusCode: http.StatusServiceUnavailable, Body: "busy"},
	}
	env := newTestEnv(t, &stubGenerator{err: failed}, nil, nil)

	w := env.do(t, http.MethodPost, "/qa", map[string]any{
		"user_question": "Who cooked dinner?",
		"book_id":       "book-1",
		"chunks":        aliceBobChunks(),
	})
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, errno.ErrAllProvidersFailed.Code, body["code"])
	assert.Contains(t, body["message"], "OpenRouter failed and Cohere not configured")
}

func TestAskQuestion(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "Bob cooked."}, nil, nil)

	w := env.do(t, http.MethodPost, "/ask-question", map[string]any{
		"question": "What did Bob cook in the kitchen?",
		"chunks":   []string{"Alice walked in the garden.", "Bob cooked dinner in the kitchen."},
		"conversation_history": []map[string]string{
			{"question": "Who is Alice?", "answer": "A girl."},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Bob cooked.", body["answer"])
	assert.EqualValues(t, 2, body["relevant_chunks_used"])
	assert.Equal(t, "pages_so_far", body["context_scope"])
}

func TestAskQuestion_NoRelevantContent(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "unused"}, nil, nil)

	w := env.do(t, http.MethodPost, "/ask-question", map[string]any{
		"question": "zebra quantum",
		"chunks":   []string{"   ", "\n"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No relevant content found for the question.", decode(t, w)["message"])
}

func TestSummarize(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "A short summary."}, nil, nil)

	w := env.do(t, http.MethodPost, "/summarize", map[string]any{
		"chunks":     []string{"Alice walked in the garden.", "Bob cooked dinner."},
		"book_title": "Test Book",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "A short summary.", decode(t, w)["summary"])

	w = env.do(t, http.MethodPost, "/summarize", map[string]any{"chunks": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummarizeChunk(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "Chapter summary."}, nil, nil)

	w := env.do(t, http.MethodPost, "/summarize-chunk", map[string]any{
		"chunk_text":      "Alice walked in the garden and met Bob.",
		"chunk_id":        "chapter-1",
		"is_continuation": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Chapter summary.", decode(t, w)["summary"])

	w = env.do(t, http.MethodPost, "/summarize-chunk", map[string]any{"chunk_text": "text"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["message"], "chunk_id")
}

func TestWarmAndEvictBook(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{}, nil, nil)

	w := env.do(t, http.MethodPost, "/v1/books/book-1/warm", map[string]any{"chunks": aliceBobChunks()})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "book-1", body["book_id"])
	assert.Equal(t, "queued", body["status"])

	require.Eventually(t, func() bool {
		stats, err := env.svc.Index().CacheStats()
		return err == nil && stats.Records == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, env.svc.Index().Has("book-1"))

	w = env.do(t, http.MethodGet, "/v1/books/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.EqualValues(t, 1, body["registry"].(map[string]any)["books"])
	assert.EqualValues(t, 1, body["disk"].(map[string]any)["records"])

	for i := 0; i < 2; i++ {
		w = env.do(t, http.MethodDelete, "/v1/books/book-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decode(t, w)["evicted"])
	}
	assert.False(t, env.svc.Index().Has("book-1"))
}

func TestWarmBook_Rejected(t *testing.T) {
	emb := &wordEmbedder{gate: make(chan struct{})}
	env := newTestEnv(t, &stubGenerator{}, emb, &pool.Config{Capacity: 1, ExpiryDuration: time.Minute, Nonblocking: true})
	defer close(emb.gate)

	w := env.do(t, http.MethodPost, "/v1/books/book-1/warm", map[string]any{"chunks": []string{"Alice"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return emb.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodPost, "/v1/books/book-2/warm", map[string]any{"chunks": []string{"Bob"}})
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())
	assert.EqualValues(t, errno.ErrBookWarmRejected.Code, decode(t, w)["code"])
}

func TestWarmBook_EmptyChunks(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{}, nil, nil)

	for _, body := range []map[string]any{{"chunks": []string{}}, {"book_title": "Saga"}} {
		w := env.do(t, http.MethodPost, "/v1/books/book-1/warm", body)
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		resp := decode(t, w)
		assert.EqualValues(t, errno.ErrBookInvalidRequest.Code, resp["code"])
		assert.Contains(t, resp["message"], "chunks")
	}
	assert.Zero(t, env.embedder.calls.Load())
	assert.False(t, env.svc.Index().Has("book-1"))
}

func TestEvictBook_InvalidID(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{}, nil, nil)

	w := env.do(t, http.MethodDelete, "/v1/books/%20", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, errno.ErrBookInvalidRequest.Code, decode(t, w)["code"])
}

func TestStatsAndMetrics(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "ok"}, nil, nil)
	w := env.do(t, http.MethodPost, "/qa", map[string]any{
		"user_question": "Where did Alice walk?",
		"book_id":       "book-1",
		"chunks":        aliceBobChunks(),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	m := body["metrics"].(map[string]any)
	assert.EqualValues(t, 1, m["queries_total"])
	assert.EqualValues(t, 1, m["index_builds"])
	assert.NotContains(t, body, "embedding_breaker")

	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bookrag_queries_total 1")
}

func TestToErrno(t *testing.T) {
	deadline, cancel := context.WithDeadline(context.Background(), time.Now())
	defer cancel()
	<-deadline.Done()

	tests := []struct {
		name string
		err  error
		code int
		http int
	}{
		{"validation", &biz.ValidationError{Message: "bad"}, errno.ErrBookInvalidRequest.Code, http.StatusBadRequest},
		{"not indexed", fmt.Errorf("%w: book-1", biz.ErrNotIndexed), errno.ErrBookNotIndexed.Code, http.StatusConflict},
		{"no content", biz.ErrNoRelevantContent, errno.ErrBookNoRelevantContent.Code, http.StatusNotFound},
		{"warm rejected", fmt.Errorf("%w: full", biz.ErrWarmRejected), errno.ErrBookWarmRejected.Code, http.StatusTooManyRequests},
		{
			"all providers failed wraps not configured",
			&gateway.AllProvidersFailedError{PrimaryLabel: "OpenRouter", SecondaryLabel: "Cohere", Primary: fmt.Errorf("OpenRouter: %w", llm.ErrNotConfigured)},
			errno.ErrAllProvidersFailed.Code, http.StatusBadGateway,
		},
		{"not configured", fmt.Errorf("Cohere: %w", llm.ErrNotConfigured), errno.ErrProviderNotConfigured.Code, http.StatusInternalServerError},
		{"embedding status", fmt.Errorf("embed 3 chunks: %w", &llm.StatusError{Provider: "ollama", StatusCode: 500, Body: "boom"}), errno.ErrEmbeddingFailed.Code, http.StatusBadGateway},
		{"deadline", deadline.Err(), errno.ErrTimeout.Code, http.StatusRequestTimeout},
		{
			"index build",
			fmt.Errorf("%w book-1: embedding provider returned 2 vectors for 3 chunks", biz.ErrIndexBuild),
			errno.ErrBookIndexFailed.Code, http.StatusInternalServerError,
		},
		{
			"index build upstream",
			fmt.Errorf("%w book-1: %w", biz.ErrIndexBuild, &llm.StatusError{Provider: "ollama", StatusCode: 503, Body: "busy"}),
			errno.ErrEmbeddingFailed.Code, http.StatusBadGateway,
		},
		{"errno passthrough", errno.ErrNotFound, errno.ErrNotFound.Code, http.StatusNotFound},
		{"unknown", errors.New("boom"), errno.ErrInternal.Code, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := toErrno(tt.err)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.http, e.HTTPStatus())
		})
	}

	assert.Equal(t, errno.ErrBookEvictFailed.Code, evictErrno(errors.New("disk")).Code)
	assert.Equal(t, "bad", toErrno(&biz.ValidationError{Message: "bad"}).MessageEN)
}

func TestSummarize_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{answer: "unused"}, nil, nil)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 16)
		c.Next()
	})
	engine.POST("/summarize", NewHandler(env.svc, nil).Summarize)

	body := `{"chunks":["Alice walked in the garden for a very long time."]}`
	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Equal(t, "request body exceeds 16 bytes", decode(t, w)["message"])
}
