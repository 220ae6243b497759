package auth

import (
	"fmt"
	"sync"
)

// MockStore implements CredentialStore for testing purposes
type MockStore struct {
	accounts map[string]*Credentials
	mu       sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates a new mock credential store
func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[string]*Credentials),
	}
}

// Store saves credentials to the mock store
func (m *MockStore) Store(creds *Credentials) error {
	if m.StoreError != nil {
		return m.StoreError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if creds == nil || creds.Platform == "" || creds.Username == "" {
		return ErrInvalidCredentials
	}

	credsCopy := *creds
	m.accounts[creds.Key()] = &credsCopy

	return nil
}

// Retrieve gets credentials from the mock store
func (m *MockStore) Retrieve(platform, username string) (*Credentials, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if platform == "" || username == "" {
		return nil, ErrInvalidCredentials
	}

	creds, exists := m.accounts[platform+"/"+username]
	if !exists {
		return nil, ErrCredentialsNotFound
	}

	credsCopy := *creds
	return &credsCopy, nil
}

// List returns all stored accounts from the mock store
func (m *MockStore) List() ([]*Credentials, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var accounts []*Credentials
	for _, creds := range m.accounts {
		credsCopy := *creds
		accounts = append(accounts, &credsCopy)
	}

	return accounts, nil
}

// Delete removes credentials from the mock store
func (m *MockStore) Delete(platform, username string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if platform == "" || username == "" {
		return ErrInvalidCredentials
	}

	key := platform + "/" + username
	if _, exists := m.accounts[key]; !exists {
		return ErrCredentialsNotFound
	}

	delete(m.accounts, key)
	return nil
}

// Exists checks if credentials exist in the mock store
func (m *MockStore) Exists(platform, username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.accounts[platform+"/"+username]
	return exists
}

// Clear removes all accounts from the mock store
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts = make(map[string]*Credentials)
}

// Count returns the number of accounts in the mock store
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.accounts)
}

// GetCredentials returns a copy of one account for inspection
func (m *MockStore) GetCredentials(platform, username string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds, exists := m.accounts[platform+"/"+username]
	if !exists {
		return nil, fmt.Errorf("account not found: %s/%s", platform, username)
	}

	credsCopy := *creds
	return &credsCopy, nil
}

// NewMockManager creates a Manager with a mock store for testing
func NewMockManager() (*Manager, *MockStore) {
	mockStore := NewMockStore()
	manager := &Manager{
		stores: []CredentialStore{mockStore},
	}
	return manager, mockStore
}

// NewMockManagerWithStores creates a Manager with the given stores
func NewMockManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{
		stores: stores,
	}
}
