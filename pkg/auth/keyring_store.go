package auth

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "postvault"

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring-backed store. It probes the
// keychain once so headless systems fall through to the encrypted
// file store instead of failing on every call.
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

func keyringKey(platform, username string) string {
	return platform + "_" + username
}

// Store saves credentials to the system keychain
func (k *KeyringStore) Store(creds *Credentials) error {
	if creds == nil || creds.Platform == "" || creds.Username == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := keyring.Set(keyringService, keyringKey(creds.Platform, creds.Username), string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return nil
}

// Retrieve gets credentials from the system keychain
func (k *KeyringStore) Retrieve(platform, username string) (*Credentials, error) {
	if platform == "" || username == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringKey(platform, username))
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	return &creds, nil
}

// List returns no accounts. go-keyring cannot enumerate keys, so
// listing is served by the encrypted file store in the fallback chain.
func (k *KeyringStore) List() ([]*Credentials, error) {
	return []*Credentials{}, nil
}

// Delete removes credentials from the system keychain
func (k *KeyringStore) Delete(platform, username string) error {
	if platform == "" || username == "" {
		return ErrInvalidCredentials
	}

	err := keyring.Delete(keyringService, keyringKey(platform, username))
	if err != nil {
		if err == keyring.ErrNotFound {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	return nil
}

// Exists checks if credentials exist in the keychain
func (k *KeyringStore) Exists(platform, username string) bool {
	if platform == "" || username == "" {
		return false
	}

	_, err := keyring.Get(keyringService, keyringKey(platform, username))
	return err == nil
}
