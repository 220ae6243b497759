package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"postvault/pkg/config"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Client talks to the Telegram gateway
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	logger     logger.Logger
}

// NewClient creates a Telegram gateway client
func NewClient(cfg config.TelegramConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		headers: map[string]string{
			"User-Agent": "postvault/1.0",
			"Accept":     "application/json",
		},
		baseURL: baseURL,
		logger:  log,
	}
}

// BaseURL returns the gateway base the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetSessionToken attaches a session to every request as a bearer
// token. An empty token clears it.
func (c *Client) SetSessionToken(token string) {
	if token == "" {
		delete(c.headers, "Authorization")
		return
	}
	c.headers["Authorization"] = "Bearer " + token
}

// doRequest performs an HTTP request with the configured headers.
// Headers already present on the request win over client defaults.
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("network error: %v", err))
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// GetResult performs a GET request and decodes the envelope payload
// into target.
func (c *Client) GetResult(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.decodeEnvelope(resp, target)
}

// PostResult performs a JSON POST request and decodes the envelope
// payload into target.
func (c *Client) PostResult(ctx context.Context, url string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.decodeEnvelope(resp, target)
}

// decodeEnvelope reads the body, unwraps the ok/result envelope and
// unmarshals the result into target. Gateway failures become typed
// errors keyed on the envelope's error code.
func (c *Client) decodeEnvelope(resp *http.Response, target interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewWithCode(errs.ErrorTypeNetwork,
			fmt.Sprintf("failed to read response body: %v", err), resp.StatusCode)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return c.statusError(resp)
		}

		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse gateway response", map[string]interface{}{
			"url":          resp.Request.URL.String(),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.NewWithCode(errs.ErrorTypeParsing,
			fmt.Sprintf("failed to parse JSON: %v", err), resp.StatusCode)
	}

	if !env.OK {
		return c.envelopeError(resp, &env)
	}

	if target == nil {
		return nil
	}
	if len(env.Result) == 0 {
		return errs.NewWithCode(errs.ErrorTypeParsing, "gateway response missing result", resp.StatusCode)
	}
	if err := json.Unmarshal(env.Result, target); err != nil {
		return errs.NewWithCode(errs.ErrorTypeParsing,
			fmt.Sprintf("failed to parse result: %v", err), resp.StatusCode)
	}

	return nil
}

// envelopeError maps a failed envelope to a typed error
func (c *Client) envelopeError(resp *http.Response, env *Envelope) error {
	code := env.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}

	message := env.Description
	if message == "" {
		message = fmt.Sprintf("gateway error %d", code)
	}

	fields := map[string]interface{}{
		"url":         resp.Request.URL.String(),
		"error_code":  code,
		"description": env.Description,
	}
	if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
		fields["retry_after"] = env.Parameters.RetryAfter
	}
	c.logger.WarnWithFields("gateway call failed", fields)

	return errs.NewWithCode(errs.TypeFromStatusCode(code), message, code)
}

// statusError maps a non-envelope HTTP failure to a typed error
func (c *Client) statusError(resp *http.Response) error {
	c.logger.ErrorWithFields("unexpected gateway response", map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
	})

	errType := errs.TypeFromStatusCode(resp.StatusCode)
	return errs.NewWithCode(errType,
		fmt.Sprintf("unexpected status code: %d", resp.StatusCode), resp.StatusCode)
}

// FetchSavedMessages fetches one page of the Saved Messages chat.
// Offset zero requests the newest page, later pages pass the lowest
// message id already seen.
func (c *Client) FetchSavedMessages(ctx context.Context, offsetID int64, limit int) (*SavedMessagesResult, error) {
	url := GetSavedMessagesURL(c.baseURL, offsetID, limit)

	c.logger.DebugWithFields("fetching saved messages", map[string]interface{}{
		"offset_id": offsetID,
		"limit":     limit,
	})

	var result SavedMessagesResult
	if err := c.GetResult(ctx, url, &result); err != nil {
		c.logger.ErrorWithFields("failed to fetch saved messages", map[string]interface{}{
			"offset_id": offsetID,
			"error":     err.Error(),
		})
		return nil, err
	}

	c.logger.DebugWithFields("fetched saved messages page", map[string]interface{}{
		"offset_id": offsetID,
		"messages":  len(result.Messages),
		"total":     result.TotalCount,
	})

	return &result, nil
}
