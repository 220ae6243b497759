package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"postvault/pkg/auth"
	"postvault/pkg/logger"
	"postvault/pkg/retry"
)

// Errors
var (
	// ErrRequestBudgetExhausted signals that the session has spent its
	// request allowance and the caller should stop gracefully.
	ErrRequestBudgetExhausted = errors.New("session request budget exhausted")

	// ErrNotOpen is returned when the session is used before Open or
	// after Close.
	ErrNotOpen = errors.New("session not open")
)

const (
	defaultLoginAttempts = 3
	defaultLoginBackoff  = 2 * time.Second
)

// Authenticator is the platform side of a session: validating a cached
// token and performing a full login when the cache misses. Platform
// clients implement it.
type Authenticator interface {
	// ValidateSession checks whether the token still grants access.
	// An auth-typed error means the token is dead; other errors are
	// transient.
	ValidateSession(ctx context.Context, token string) error

	// Login runs the platform's login flow, asking for codes or
	// passwords through the prompter, and returns a fresh token.
	Login(ctx context.Context, creds *auth.Credentials, prompter LoginPrompter) (string, error)
}

// Manager owns one platform session. It resumes from the token cache
// when possible, logs in once when not, counts requests against the
// configured budget and persists the token on Close.
type Manager struct {
	creds    *auth.Credentials
	client   Authenticator
	cache    *TokenCache
	prompter LoginPrompter
	log      logger.Logger

	maxRequests   int
	loginAttempts int
	loginBackoff  time.Duration

	mu       sync.Mutex
	token    *Token
	requests int
	open     bool
}

// NewManager creates a session manager for one account. The token
// cache lives in the default data directory unless WithCacheDir
// overrides it.
func NewManager(creds *auth.Credentials, client Authenticator, log logger.Logger) (*Manager, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	cache, err := NewTokenCache("", log)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	return &Manager{
		creds:         creds,
		client:        client,
		cache:         cache,
		prompter:      NewTerminalPrompter(),
		log:           log,
		loginAttempts: defaultLoginAttempts,
		loginBackoff:  defaultLoginBackoff,
	}, nil
}

// WithMaxRequests sets the per-session request budget. Zero means
// unbounded.
func (m *Manager) WithMaxRequests(n int) *Manager {
	m.maxRequests = n
	return m
}

// WithPrompter replaces the login prompter. Tests inject canned
// answers here.
func (m *Manager) WithPrompter(p LoginPrompter) *Manager {
	m.prompter = p
	return m
}

// WithCacheDir points the token cache at a different directory.
func (m *Manager) WithCacheDir(dir string) *Manager {
	cache, err := NewTokenCache(dir, m.log)
	if err == nil {
		m.cache = cache
	}
	return m
}

// WithLoginRetry bounds the login retry loop.
func (m *Manager) WithLoginRetry(attempts int, backoff time.Duration) *Manager {
	if attempts > 0 {
		m.loginAttempts = attempts
	}
	if backoff > 0 {
		m.loginBackoff = backoff
	}
	return m
}

// Open establishes the session: cached token first, full login on
// miss or expiry, then the fresh token is persisted. Calling Open on
// an already open session is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}

	if cached, err := m.cache.Load(m.creds.Platform, m.creds.Username); err == nil && cached != nil {
		if err := m.client.ValidateSession(ctx, cached.Value); err == nil {
			m.token = cached
			m.open = true
			m.requests = 0
			m.log.InfoWithFields("Session resumed from cache", map[string]interface{}{
				"platform": m.creds.Platform,
				"username": m.creds.Username,
			})
			return nil
		}
		m.log.InfoWithFields("Cached session rejected, logging in", map[string]interface{}{
			"platform": m.creds.Platform,
			"username": m.creds.Username,
		})
	}

	token, err := m.login(ctx)
	if err != nil {
		return err
	}

	m.token = token
	m.open = true
	m.requests = 0

	if err := m.cache.Save(token); err != nil {
		m.log.WarnWithFields("Failed to cache session token", map[string]interface{}{
			"platform": m.creds.Platform,
			"error":    err.Error(),
		})
	}

	m.log.InfoWithFields("Session opened", map[string]interface{}{
		"platform":     m.creds.Platform,
		"username":     m.creds.Username,
		"max_requests": m.maxRequests,
	})
	return nil
}

// login runs the platform login flow with bounded retries. Transient
// failures back off and retry; invalid credentials abort immediately
// through DefaultRetryIf.
func (m *Manager) login(ctx context.Context) (*Token, error) {
	var value string

	err := retry.Do(func() error {
		var lerr error
		value, lerr = m.client.Login(ctx, m.creds, m.prompter)
		return lerr
	}, &retry.Config{
		MaxAttempts: m.loginAttempts,
		Backoff:     &retry.ConstantBackoff{Delay: m.loginBackoff},
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      m.log,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed for %s/%s: %w", m.creds.Platform, m.creds.Username, err)
	}

	return &Token{
		Platform: m.creds.Platform,
		Username: m.creds.Username,
		Value:    value,
		IssuedAt: time.Now().UTC(),
	}, nil
}

// Token returns the current session token value, empty when closed.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ""
	}
	return m.token.Value
}

// Track counts one outgoing request against the budget. It returns
// ErrRequestBudgetExhausted once the budget is spent; the counter
// never moves past the budget.
func (m *Manager) Track() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	if m.maxRequests > 0 && m.requests >= m.maxRequests {
		return ErrRequestBudgetExhausted
	}

	m.requests++
	return nil
}

// Requests returns how many requests the session has issued.
func (m *Manager) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Remaining returns the unspent request budget. Unbounded sessions
// report bounded=false.
func (m *Manager) Remaining() (n int, bounded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxRequests <= 0 {
		return 0, false
	}
	left := m.maxRequests - m.requests
	if left < 0 {
		left = 0
	}
	return left, true
}

// Invalidate drops the current token and removes it from the cache.
// Called when the platform rejects the session mid-run.
func (m *Manager) Invalidate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil
	m.open = false
	return m.cache.Delete(m.creds.Platform, m.creds.Username)
}

// Close persists the token and tears the session down. Safe to call
// multiple times and on never-opened managers, so it can sit in a
// defer on every exit path.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}

	m.open = false

	var err error
	if m.token != nil {
		err = m.cache.Save(m.token)
	}

	m.log.InfoWithFields("Session closed", map[string]interface{}{
		"platform": m.creds.Platform,
		"requests": m.requests,
	})
	return err
}
