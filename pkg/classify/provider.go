package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"postvault/pkg/config"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
	"postvault/pkg/retry"
)

const (
	chatCompletionsPath = "/chat/completions"
	defaultAPIBase      = "http://localhost:11434/v1"
	defaultChatTimeout  = 30 * time.Second
	defaultMaxAttempts  = 3
)

// ChatMessage is one turn in a chat completion conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the endpoint for a specific output shape
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the OpenAI-compatible chat completions payload
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse is the subset of the chat completions response the
// classifiers read
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Provider calls an OpenAI-compatible chat completions endpoint and
// returns the model's text output
type Provider struct {
	httpClient  *http.Client
	apiBase     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxAttempts int
	logger      logger.Logger
}

// NewProvider creates a provider from the classifier configuration.
// Hosted endpoints authenticate with a Bearer key, a local Ollama
// server needs none.
func NewProvider(cfg config.ClassifierConfig, log logger.Logger) *Provider {
	if log == nil {
		log = logger.GetLogger()
	}

	apiBase := strings.TrimSuffix(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}

	return &Provider{
		httpClient:  &http.Client{Timeout: timeout},
		apiBase:     apiBase,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxAttempts: defaultMaxAttempts,
		logger:      log,
	}
}

// WithMaxAttempts sets how many times transient failures are retried
func (p *Provider) WithMaxAttempts(n int) *Provider {
	if n > 0 {
		p.maxAttempts = n
	}
	return p
}

// Model returns the model name requests ask for
func (p *Provider) Model() string {
	return p.model
}

// ProviderName reports which endpoint family the base URL points at
func (p *Provider) ProviderName() string {
	if isLocalBase(p.apiBase) {
		return "ollama"
	}
	return "openai"
}

// Metadata describes the provider settings for stored verdicts
func (p *Provider) Metadata() map[string]interface{} {
	md := map[string]interface{}{
		"provider":    p.ProviderName(),
		"model":       p.model,
		"temperature": p.temperature,
		"api_base":    p.apiBase,
	}
	if p.maxTokens > 0 {
		md["max_tokens"] = p.maxTokens
	}
	return md
}

// Chat sends one conversation and returns the assistant's reply.
// Network and rate limit failures are retried with backoff, every
// other failure returns immediately.
func (p *Provider) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	if p.apiKey == "" && !isLocalBase(p.apiBase) {
		return "", errs.New(errs.ErrorTypeAuth,
			fmt.Sprintf("api key required for %s", p.apiBase))
	}

	cfg := &retry.Config{
		MaxAttempts: p.maxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		BackoffForError: retryAfterBackoff,
		RetryIf:         isTransient,
		Context:         ctx,
		Logger:          p.logger,
	}

	return retry.DoWithResult(func() (string, error) {
		return p.chatOnce(ctx, messages)
	}, cfg)
}

// chatOnce performs a single chat completion round trip
func (p *Provider) chatOnce(ctx context.Context, messages []ChatMessage) (string, error) {
	payload := ChatRequest{
		Model:          p.model,
		Messages:       messages,
		Temperature:    p.temperature,
		MaxTokens:      p.maxTokens,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.New(errs.ErrorTypeUnknown,
			fmt.Sprintf("failed to encode chat request: %v", err))
	}

	endpoint := p.apiBase + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errs.New(errs.ErrorTypeUnknown,
			fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		p.logger.ErrorWithFields("chat completion request failed", map[string]interface{}{
			"url":      endpoint,
			"model":    p.model,
			"error":    err.Error(),
			"duration": duration,
		})
		return "", errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	p.logger.DebugWithFields("chat completion request completed", map[string]interface{}{
		"url":      endpoint,
		"model":    p.model,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.NewWithCode(errs.ErrorTypeNetwork,
			fmt.Sprintf("failed to read response body: %v", err), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return "", p.statusError(resp, raw)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		preview := string(raw)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		p.logger.ErrorWithFields("failed to parse chat completion response", map[string]interface{}{
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return "", errs.NewWithCode(errs.ErrorTypeParsing,
			fmt.Sprintf("failed to parse chat response: %v", err), resp.StatusCode)
	}

	if chatResp.Error != nil {
		return "", errs.New(errs.ErrorTypeClassification,
			fmt.Sprintf("chat endpoint error: %s", chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return "", errs.New(errs.ErrorTypeClassification, "chat response carried no choices")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", errs.New(errs.ErrorTypeClassification, "chat response content is empty")
	}
	return content, nil
}

// statusError maps a non-200 completion response to a typed error,
// pulling the endpoint's own message out of the body when it has one
func (p *Provider) statusError(resp *http.Response, raw []byte) error {
	message := apiErrorMessage(raw)
	if message == "" {
		message = fmt.Sprintf("chat endpoint returned status %d", resp.StatusCode)
	}

	errType := errs.TypeFromStatusCode(resp.StatusCode)
	fields := map[string]interface{}{
		"status":  resp.StatusCode,
		"model":   p.model,
		"message": message,
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter > 0 {
			fields["retry_after"] = retryAfter
		}
		p.logger.WarnWithFields("chat endpoint rate limited", fields)

		base := errs.NewWithCode(errType, message, resp.StatusCode)
		if retryAfter > 0 {
			return &rateLimitedError{cause: base, retryAfter: retryAfter}
		}
		return base
	}

	p.logger.ErrorWithFields("chat endpoint rejected request", fields)
	return errs.NewWithCode(errType, message, resp.StatusCode)
}

// rateLimitedError carries the endpoint's Retry-After hint so the
// backoff can honor it
type rateLimitedError struct {
	cause      *errs.Error
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return e.cause.Error()
}

func (e *rateLimitedError) Unwrap() error {
	return e.cause
}

// isTransient limits retries to failures that can resolve on their
// own. Auth and request errors never do.
func isTransient(err error) bool {
	var apiErr *errs.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Type == errs.ErrorTypeNetwork || apiErr.Type == errs.ErrorTypeRateLimit
}

// retryAfterBackoff honors the Retry-After hint on rate limit
// responses. A nil return falls back to the exponential schedule.
func retryAfterBackoff(err error) retry.BackoffStrategy {
	var rl *rateLimitedError
	if errors.As(err, &rl) && rl.retryAfter > 0 {
		return &retry.ConstantBackoff{Delay: rl.retryAfter}
	}
	return nil
}

// apiErrorMessage extracts the message from an error body, either the
// OpenAI shape {"error": {"message": ...}} or Ollama's {"error": ...}
func apiErrorMessage(raw []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}

	var plain struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &plain); err == nil && plain.Error != "" {
		return plain.Error
	}
	return ""
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// isLocalBase reports whether the API base points at this machine,
// which is how a local Ollama server is addressed
func isLocalBase(apiBase string) bool {
	u, err := url.Parse(apiBase)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON pulls a JSON document out of a model reply. Strict JSON
// mode usually returns it bare, but some models still wrap it in a
// markdown fence or surround it with prose.
func extractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		return trimmed
	}

	if m := fencedJSON.FindStringSubmatch(trimmed); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
