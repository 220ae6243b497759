package instagram

import (
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

// Client talks to the Instagram web API
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	logger     logger.Logger
}

// NewClient creates an Instagram client with browser-like headers
func NewClient(cfg config.InstagramConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		headers: map[string]string{
			"User-Agent":       userAgent,
			"Accept":           "*/*",
			"Accept-Language":  "en-US,en;q=0.9",
			"Cache-Control":    "no-cache",
			"Pragma":           "no-cache",
			"X-Requested-With": "XMLHttpRequest",
		},
		baseURL: baseURL,
		logger:  log,
	}
}

// BaseURL returns the API base the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetHeaders sets multiple headers at once
func (c *Client) SetHeaders(headers map[string]string) {
	for key, value := range headers {
		c.headers[key] = value
	}
}

// SetSessionToken attaches a session cookie to every request
func (c *Client) SetSessionToken(token string) {
	if token == "" {
		delete(c.headers, "Cookie")
		return
	}
	c.headers["Cookie"] = token
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

// Get performs a GET request to the specified URL
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}

	return c.doRequest(req)
}

// GetJSON performs a GET request and decodes the JSON response
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	return c.decodeJSON(resp, target)
}

// decodeJSON reads the body and unmarshals it, logging a preview of
// the payload when it does not parse
func (c *Client) decodeJSON(resp *http.Response, target interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewWithCode(errs.ErrorTypeNetwork,
			fmt.Sprintf("failed to read response body: %v", err), resp.StatusCode)
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          resp.Request.URL.String(),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return errs.NewWithCode(errs.ErrorTypeParsing,
			fmt.Sprintf("failed to parse JSON: %v", err), resp.StatusCode)
	}

	return nil
}

// checkResponseStatus maps HTTP status codes to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeAuth, "authentication required", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		c.logger.WarnWithFields("resource not found", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeNotFound, "resource not found", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status":      resp.StatusCode,
			"url":         resp.Request.URL.String(),
			"retry_after": resp.Header.Get("Retry-After"),
		})
		return errs.NewWithCode(errs.ErrorTypeRateLimit, "rate limit exceeded", resp.StatusCode)
	case resp.StatusCode >= 500:
		c.logger.ErrorWithFields("server error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeServerError, "server error", resp.StatusCode)
	case resp.StatusCode >= 400:
		c.logger.ErrorWithFields("unexpected API error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeUnknown,
			fmt.Sprintf("unexpected status code: %d", resp.StatusCode), resp.StatusCode)
	default:
		return nil
	}
}

// FetchSavedPosts fetches one page of the account's saved posts. An
// empty cursor requests the first page.
func (c *Client) FetchSavedPosts(ctx context.Context, cursor string, pageSize int) (*SavedPostsResponse, error) {
	url := GetSavedPostsURL(c.baseURL, cursor, pageSize)

	c.logger.DebugWithFields("fetching saved posts", map[string]interface{}{
		"cursor":    cursor,
		"page_size": pageSize,
	})

	var response SavedPostsResponse
	if err := c.GetJSON(ctx, url, &response); err != nil {
		c.logger.ErrorWithFields("failed to fetch saved posts", map[string]interface{}{
			"cursor": cursor,
			"error":  err.Error(),
		})
		return nil, err
	}

	if response.RequiresToLogin {
		c.logger.WarnWithFields("saved posts require authentication", map[string]interface{}{
			"cursor": cursor,
		})
		return nil, errs.NewWithCode(errs.ErrorTypeAuth,
			"Instagram requires authentication to list saved posts", http.StatusUnauthorized)
	}

	c.logger.DebugWithFields("fetched saved posts page", map[string]interface{}{
		"cursor":   cursor,
		"posts":    len(response.Data.User.EdgeSavedMedia.Edges),
		"has_next": response.Data.User.EdgeSavedMedia.PageInfo.HasNextPage,
	})

	return &response, nil
}
