package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"postvault/pkg/logger"
)

// Token is a cached platform session credential.
type Token struct {
	Platform  string    `json:"platform"`
	Username  string    `json:"username"`
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token carries an expiry in the past.
// Tokens without an expiry never expire locally; the platform decides.
func (t *Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// TokenCache stores session tokens as JSON files, one per account,
// written atomically with 0600 permissions.
type TokenCache struct {
	dir string
	log logger.Logger
}

// NewTokenCache creates a cache rooted at dir. An empty dir selects
// the platform data directory (XDG on Linux).
func NewTokenCache(dir string, log logger.Logger) (*TokenCache, error) {
	if dir == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &TokenCache{dir: dir, log: log}, nil
}

// Dir returns the cache directory.
func (c *TokenCache) Dir() string {
	return c.dir
}

func (c *TokenCache) path(platform, username string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.session.json", platform, sanitizeFileName(username)))
}

// sanitizeFileName keeps alphanumerics and a few safe characters so
// phone numbers and usernames become stable file names
func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Load reads a cached token. Missing or expired tokens return nil
// with no error.
func (c *TokenCache) Load(platform, username string) (*Token, error) {
	file, err := os.Open(c.path(platform, username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var token Token
	if err := json.NewDecoder(file).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}

	if token.Expired() {
		c.log.DebugWithFields("Cached session expired", map[string]interface{}{
			"platform":   platform,
			"expires_at": token.ExpiresAt,
		})
		return nil, nil
	}

	return &token, nil
}

// Save writes the token atomically via a temp file rename.
func (c *TokenCache) Save(token *Token) error {
	if token == nil || token.Platform == "" || token.Username == "" {
		return fmt.Errorf("token needs platform and username")
	}

	content, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	finalPath := c.path(token.Platform, token.Username)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	c.log.DebugWithFields("Session token saved", map[string]interface{}{
		"platform": token.Platform,
		"username": token.Username,
	})
	return nil
}

// Delete removes a cached token. Missing files are not an error.
func (c *TokenCache) Delete(platform, username string) error {
	if err := os.Remove(c.path(platform, username)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Exists checks whether a cached token file is present.
func (c *TokenCache) Exists(platform, username string) bool {
	_, err := os.Stat(c.path(platform, username))
	return err == nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "postvault")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "postvault")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "postvault")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "postvault")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
