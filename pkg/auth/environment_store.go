package auth

import (
	"os"
	"strconv"
	"time"
)

// EnvironmentStore implements CredentialStore over environment
// variables. Read-only; useful for CI and container deployments.
//
// Instagram: POSTVAULT_IG_USERNAME, POSTVAULT_IG_PASSWORD.
// Telegram:  POSTVAULT_TG_PHONE, POSTVAULT_TG_API_ID,
// POSTVAULT_TG_API_HASH.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(creds *Credentials) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials for a platform from environment variables.
// An empty username matches whatever account the environment holds.
func (e *EnvironmentStore) Retrieve(platform, username string) (*Credentials, error) {
	switch platform {
	case PlatformInstagram:
		envUser := os.Getenv("POSTVAULT_IG_USERNAME")
		if envUser == "" {
			return nil, ErrCredentialsNotFound
		}
		if username != "" && username != envUser {
			return nil, ErrCredentialsNotFound
		}
		return &Credentials{
			Platform:     PlatformInstagram,
			Username:     envUser,
			Password:     os.Getenv("POSTVAULT_IG_PASSWORD"),
			LastModified: time.Now(),
		}, nil

	case PlatformTelegram:
		phone := os.Getenv("POSTVAULT_TG_PHONE")
		apiHash := os.Getenv("POSTVAULT_TG_API_HASH")
		apiID, _ := strconv.Atoi(os.Getenv("POSTVAULT_TG_API_ID"))
		if phone == "" || apiHash == "" || apiID == 0 {
			return nil, ErrCredentialsNotFound
		}
		if username != "" && username != phone {
			return nil, ErrCredentialsNotFound
		}
		return &Credentials{
			Platform:     PlatformTelegram,
			Username:     phone,
			APIID:        apiID,
			APIHash:      apiHash,
			LastModified: time.Now(),
		}, nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns the accounts present in the environment
func (e *EnvironmentStore) List() ([]*Credentials, error) {
	var accounts []*Credentials
	for _, platform := range []string{PlatformInstagram, PlatformTelegram} {
		if creds, err := e.Retrieve(platform, ""); err == nil {
			accounts = append(accounts, creds)
		}
	}
	if accounts == nil {
		return []*Credentials{}, nil
	}
	return accounts, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(platform, username string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist for the pair
func (e *EnvironmentStore) Exists(platform, username string) bool {
	creds, err := e.Retrieve(platform, username)
	return err == nil && creds != nil
}
