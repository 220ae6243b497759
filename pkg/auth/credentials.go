package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Supported platforms.
const (
	PlatformInstagram = "instagram"
	PlatformTelegram  = "telegram"
)

// Credentials holds the long-lived secrets needed to open a session on
// one platform. For Instagram the identifier is the account username;
// for Telegram it is the phone number in international form, plus the
// api_id/api_hash pair issued by my.telegram.org.
type Credentials struct {
	Platform     string    `json:"platform"`
	Username     string    `json:"username"`
	Password     string    `json:"password,omitempty"`
	APIID        int       `json:"api_id,omitempty"`
	APIHash      string    `json:"api_hash,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Key returns the storage key identifying this account across stores.
func (c *Credentials) Key() string {
	return c.Platform + "/" + c.Username
}

// Validate checks that the credentials are complete for their platform.
func (c *Credentials) Validate() error {
	switch c.Platform {
	case PlatformInstagram:
	case PlatformTelegram:
		if c.APIID == 0 || c.APIHash == "" {
			return fmt.Errorf("telegram credentials need api_id and api_hash: %w", ErrInvalidCredentials)
		}
	case "":
		return fmt.Errorf("platform is required: %w", ErrInvalidCredentials)
	default:
		return fmt.Errorf("unknown platform %q: %w", c.Platform, ErrInvalidCredentials)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required: %w", ErrInvalidCredentials)
	}
	return nil
}

// CredentialStore is the interface for storing and retrieving platform
// credentials
type CredentialStore interface {
	// Store saves credentials for one account
	Store(creds *Credentials) error

	// Retrieve gets credentials for a platform/username pair
	Retrieve(platform, username string) (*Credentials, error)

	// List returns all stored accounts
	List() ([]*Credentials, error)

	// Delete removes credentials for a platform/username pair
	Delete(platform, username string) error

	// Exists checks whether credentials exist for the pair
	Exists(platform, username string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager backed by the system keyring
// when available, an encrypted file always, and environment variables
// as the read-only last resort.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(creds *Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	creds.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(creds); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(platform, username string) (*Credentials, error) {
	for _, store := range m.stores {
		if creds, err := store.Retrieve(platform, username); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, fmt.Errorf("no credentials for %s/%s: %w", platform, username, ErrCredentialsNotFound)
}

// RetrieveDefault gets the default credentials for a platform: the
// environment first, then the first stored account for that platform.
func (m *Manager) RetrieveDefault(platform string) (*Credentials, error) {
	if envStore, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
		if creds, err := envStore.Retrieve(platform, ""); err == nil && creds != nil {
			return creds, nil
		}
	}

	accounts, err := m.List()
	if err == nil {
		for _, creds := range accounts {
			if creds.Platform == platform {
				return creds, nil
			}
		}
	}

	return nil, fmt.Errorf("no credentials for platform %s: %w", platform, ErrCredentialsNotFound)
}

// List returns all stored accounts across stores, deduplicated by
// platform/username with the most recently modified copy winning
func (m *Manager) List() ([]*Credentials, error) {
	byKey := make(map[string]*Credentials)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, creds := range accounts {
			if existing, ok := byKey[creds.Key()]; !ok || creds.LastModified.After(existing.LastModified) {
				byKey[creds.Key()] = creds
			}
		}
	}

	var result []*Credentials
	for _, creds := range byKey {
		result = append(result, creds)
	}

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(platform, username string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(platform, username); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("no credentials for %s/%s", platform, username)
	}

	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, creds := range accounts {
		_ = m.Delete(creds.Platform, creds.Username)
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "postvault")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "postvault")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "postvault")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "postvault")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize returns a copy with secrets masked, safe for logs and
// status output
func Sanitize(creds *Credentials) *Credentials {
	if creds == nil {
		return nil
	}

	out := *creds
	if out.Password != "" {
		out.Password = "********"
	}
	out.APIHash = maskString(out.APIHash)
	return &out
}

// maskString keeps the first and last 4 characters of longer secrets
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
