package instagram

import (
	"fmt"
	"net/url"
	"strings"
)

// Instagram web API endpoints
const (
	// BaseURL is the Instagram website base URL
	BaseURL = "https://www.instagram.com"

	// GraphQLEndpoint serves paginated GraphQL queries
	GraphQLEndpoint = "/graphql/query/"

	// SavedMediaQueryHash identifies the saved-media GraphQL query
	SavedMediaQueryHash = "f883d95537fbcd400f466f63d42bd8a1"

	// LoginPageEndpoint serves the login page and the CSRF cookie
	LoginPageEndpoint = "/accounts/login/"

	// LoginEndpoint authenticates a username and password
	LoginEndpoint = "/accounts/login/ajax/"

	// TwoFactorEndpoint completes a login that requires a 2FA code
	TwoFactorEndpoint = "/accounts/login/ajax/two_factor/"

	// SessionCheckEndpoint answers whether a session cookie is
	// still accepted
	SessionCheckEndpoint = "/api/v1/accounts/current_user/"
)

// Pagination limits
const (
	// DefaultPageSize is the standard number of posts per page
	DefaultPageSize = 12

	// MaxPageSize is the maximum allowed posts per page
	MaxPageSize = 50
)

// GetSavedPostsURL returns the GraphQL URL for one page of saved
// posts. An empty cursor requests the first page.
func GetSavedPostsURL(baseURL, cursor string, pageSize int) string {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	variables := fmt.Sprintf(`{"first":%d}`, pageSize)
	if cursor != "" {
		variables = fmt.Sprintf(`{"first":%d,"after":"%s"}`, pageSize, cursor)
	}

	return fmt.Sprintf("%s%s?query_hash=%s&variables=%s",
		baseURL, GraphQLEndpoint, SavedMediaQueryHash, url.QueryEscape(variables))
}

// GetLoginPageURL returns the login page URL
func GetLoginPageURL(baseURL string) string {
	return baseURL + LoginPageEndpoint
}

// GetLoginURL returns the credential login URL
func GetLoginURL(baseURL string) string {
	return baseURL + LoginEndpoint
}

// GetTwoFactorURL returns the 2FA completion URL
func GetTwoFactorURL(baseURL string) string {
	return baseURL + TwoFactorEndpoint
}

// GetSessionCheckURL returns the session validation URL
func GetSessionCheckURL(baseURL string) string {
	return baseURL + SessionCheckEndpoint
}

// GetPostURL returns the public URL for a post
func GetPostURL(shortcode string) string {
	return fmt.Sprintf("%s/p/%s/", BaseURL, shortcode)
}

// IsValidUsername checks if a username is valid for Instagram
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	for _, char := range username {
		if !isValidUsernameChar(char) {
			return false
		}
	}

	return true
}

// isValidUsernameChar checks if a character is valid in an Instagram username
func isValidUsernameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '.' ||
		char == '_'
}

// SanitizeUsername removes common URL prefixes and whitespace from a
// username
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")

	if idx := strings.Index(username, "instagram.com/"); idx != -1 {
		username = username[idx+len("instagram.com/"):]
	}

	username = strings.TrimSuffix(username, "/")
	if idx := strings.IndexAny(username, "?#"); idx != -1 {
		username = username[:idx]
	}

	return strings.TrimSpace(username)
}
