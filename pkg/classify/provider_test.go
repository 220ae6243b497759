package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postvault/pkg/config"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
)

// mockLLM fakes an OpenAI-compatible chat completions endpoint. It
// can fail the first failTimes calls (-1 fails every call) before
// answering with content.
type mockLLM struct {
	server *httptest.Server

	mu         sync.Mutex
	calls      int
	content    string
	failTimes  int
	failStatus int
	failBody   string
	retryAfter string
	lastPath   string
	lastAuth   string
	lastReq    ChatRequest
}

func newMockLLM(t *testing.T, content string) *mockLLM {
	t.Helper()
	m := &mockLLM{content: content}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockLLM) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastPath = r.URL.Path
	m.lastAuth = r.Header.Get("Authorization")
	_ = json.NewDecoder(r.Body).Decode(&m.lastReq)

	if m.failTimes < 0 || m.calls <= m.failTimes {
		if m.retryAfter != "" {
			w.Header().Set("Retry-After", m.retryAfter)
		}
		w.WriteHeader(m.failStatus)
		w.Write([]byte(m.failBody))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    "chatcmpl-1",
		"model": m.lastReq.Model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": m.content},
				"finish_reason": "stop",
			},
		},
	})
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testProviderConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		Model:   "llama3.2",
		APIBase: "http://localhost:11434/v1",
		Timeout: 5 * time.Second,
	}
}

// newTestProvider points a provider at the mock. The test server
// listens on 127.0.0.1 so no API key is needed.
func newTestProvider(m *mockLLM) *Provider {
	return NewProvider(config.ClassifierConfig{
		Model:       "llama3.2",
		APIBase:     m.server.URL + "/v1",
		Temperature: 0.1,
		MaxTokens:   500,
		Timeout:     5 * time.Second,
	}, logger.NewNopLogger())
}

func TestProviderChatSendsPayload(t *testing.T) {
	mock := newMockLLM(t, `{"ok":true}`)
	p := newTestProvider(mock)

	content, err := p.Chat(context.Background(), []ChatMessage{
		{Role: "user", Content: "classify this"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)

	assert.Equal(t, "/v1/chat/completions", mock.lastPath)
	assert.Empty(t, mock.lastAuth, "local endpoint needs no key")
	assert.Equal(t, "llama3.2", mock.lastReq.Model)
	assert.InDelta(t, 0.1, mock.lastReq.Temperature, 1e-9)
	assert.Equal(t, 500, mock.lastReq.MaxTokens)
	require.NotNil(t, mock.lastReq.ResponseFormat)
	assert.Equal(t, "json_object", mock.lastReq.ResponseFormat.Type)
	require.Len(t, mock.lastReq.Messages, 1)
	assert.Equal(t, "classify this", mock.lastReq.Messages[0].Content)
}

func TestProviderChatBearerKey(t *testing.T) {
	mock := newMockLLM(t, `{}`)
	p := NewProvider(config.ClassifierConfig{
		Model:   "gpt-4o-mini",
		APIBase: mock.server.URL + "/v1",
		APIKey:  "sk-test",
		Timeout: 5 * time.Second,
	}, logger.NewNopLogger())

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", mock.lastAuth)
}

func TestProviderRequiresKeyForRemote(t *testing.T) {
	p := NewProvider(config.ClassifierConfig{
		Model:   "gpt-4o-mini",
		APIBase: "https://api.example.com/v1",
	}, logger.NewNopLogger())

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeAuth, apiErr.Type)
}

func TestProviderRetriesRateLimit(t *testing.T) {
	mock := newMockLLM(t, `{"ok":true}`)
	mock.failTimes = 1
	mock.failStatus = http.StatusTooManyRequests
	mock.failBody = `{"error": {"message": "slow down"}}`
	mock.retryAfter = "1"

	p := newTestProvider(mock)

	content, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
	assert.Equal(t, 2, mock.callCount())
}

func TestProviderRateLimitExhausted(t *testing.T) {
	mock := newMockLLM(t, `{}`)
	mock.failTimes = -1
	mock.failStatus = http.StatusTooManyRequests
	mock.failBody = `{"error": {"message": "slow down"}}`
	mock.retryAfter = "1"

	p := newTestProvider(mock).WithMaxAttempts(2)

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeRateLimit, apiErr.Type)
	assert.Equal(t, 2, mock.callCount())
}

func TestProviderDoesNotRetryAuth(t *testing.T) {
	mock := newMockLLM(t, `{}`)
	mock.failTimes = -1
	mock.failStatus = http.StatusUnauthorized
	mock.failBody = `{"error": {"message": "invalid api key"}}`

	p := newTestProvider(mock)

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeAuth, apiErr.Type)
	assert.Contains(t, apiErr.Message, "invalid api key")
	assert.Equal(t, 1, mock.callCount(), "auth failures are not retried")
}

func TestProviderDoesNotRetryServerError(t *testing.T) {
	mock := newMockLLM(t, `{}`)
	mock.failTimes = -1
	mock.failStatus = http.StatusInternalServerError
	mock.failBody = `{"error": {"message": "backend exploded"}}`

	p := newTestProvider(mock)

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeServerError, apiErr.Type)
	assert.Equal(t, 1, mock.callCount(), "server errors are not retried")
}

func TestProviderOllamaErrorBody(t *testing.T) {
	mock := newMockLLM(t, `{}`)
	mock.failTimes = -1
	mock.failStatus = http.StatusNotFound
	mock.failBody = `{"error": "model 'nope' not found"}`

	p := newTestProvider(mock)

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeNotFound, apiErr.Type)
	assert.Contains(t, apiErr.Message, "model 'nope' not found")
}

func TestProviderNetworkError(t *testing.T) {
	p := NewProvider(config.ClassifierConfig{
		Model:   "llama3.2",
		APIBase: "http://127.0.0.1:1/v1",
		Timeout: time.Second,
	}, logger.NewNopLogger()).WithMaxAttempts(1)

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeNetwork, apiErr.Type)
}

func TestProviderEndpointErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": {"message": "content filtered", "type": "invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(config.ClassifierConfig{
		Model:   "llama3.2",
		APIBase: srv.URL + "/v1",
		Timeout: 5 * time.Second,
	}, logger.NewNopLogger())

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeClassification, apiErr.Type)
	assert.Contains(t, apiErr.Message, "content filtered")
}

func TestProviderEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "chatcmpl-1", "choices": []}`))
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(config.ClassifierConfig{
		Model:   "llama3.2",
		APIBase: srv.URL + "/v1",
		Timeout: 5 * time.Second,
	}, logger.NewNopLogger())

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeClassification, apiErr.Type)
}

func TestProviderEmptyContent(t *testing.T) {
	mock := newMockLLM(t, "   ")
	p := newTestProvider(mock)

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeClassification, apiErr.Type)
}

func TestProviderMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>definitely not json</html>"))
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(config.ClassifierConfig{
		Model:   "llama3.2",
		APIBase: srv.URL + "/v1",
		Timeout: 5 * time.Second,
	}, logger.NewNopLogger())

	_, err := p.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
}

func TestProviderDefaults(t *testing.T) {
	p := NewProvider(config.ClassifierConfig{}, logger.NewNopLogger())

	assert.Equal(t, defaultAPIBase, p.apiBase)
	assert.Equal(t, "ollama", p.ProviderName())
}

func TestProviderMetadata(t *testing.T) {
	local := NewProvider(config.ClassifierConfig{
		Model:       "llama3.2",
		APIBase:     "http://localhost:11434/v1/",
		Temperature: 0.2,
		MaxTokens:   800,
	}, logger.NewNopLogger())

	md := local.Metadata()
	assert.Equal(t, "ollama", md["provider"])
	assert.Equal(t, "llama3.2", md["model"])
	assert.Equal(t, 0.2, md["temperature"])
	assert.Equal(t, 800, md["max_tokens"])
	assert.Equal(t, "http://localhost:11434/v1", md["api_base"], "trailing slash trimmed")

	remote := NewProvider(config.ClassifierConfig{
		Model:   "gpt-4o-mini",
		APIBase: "https://api.openai.com/v1",
		APIKey:  "sk-test",
	}, logger.NewNopLogger())

	md = remote.Metadata()
	assert.Equal(t, "openai", md["provider"])
	_, hasMaxTokens := md["max_tokens"]
	assert.False(t, hasMaxTokens, "zero max_tokens omitted")
}

func TestIsLocalBase(t *testing.T) {
	tests := []struct {
		apiBase string
		local   bool
	}{
		{"http://localhost:11434/v1", true},
		{"http://127.0.0.1:11434/v1", true},
		{"http://[::1]:11434/v1", true},
		{"https://api.openai.com/v1", false},
		{"https://localhost.evil.com/v1", false},
	}
	for _, tt := range tests {
		if got := isLocalBase(tt.apiBase); got != tt.local {
			t.Errorf("isLocalBase(%q) = %v, want %v", tt.apiBase, got, tt.local)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{" 5 ", 5 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"bare array", `[1, 2]`, `[1, 2]`},
		{"fenced json", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced plain", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around object", `Sure! Here it is: {"a": 1} hope that helps`, `{"a": 1}`},
		{"whitespace", "  {\"a\": 1}\n", `{"a": 1}`},
		{"no json at all", "cannot help with that", "cannot help with that"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errs.New(errs.ErrorTypeNetwork, "boom")))
	assert.True(t, isTransient(errs.New(errs.ErrorTypeRateLimit, "slow down")))
	assert.False(t, isTransient(errs.New(errs.ErrorTypeAuth, "no")))
	assert.False(t, isTransient(errs.New(errs.ErrorTypeServerError, "broken")))
	assert.False(t, isTransient(errors.New("plain error")))
}
