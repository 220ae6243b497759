package telegram

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// BaseURL is the default gateway address.
	BaseURL = "https://api.telegram.org"

	// SendCodeEndpoint requests a login code for a phone number.
	SendCodeEndpoint = "/auth/sendCode"

	// SignInEndpoint exchanges a login code for a session.
	SignInEndpoint = "/auth/signIn"

	// CheckPasswordEndpoint completes two-step verification.
	CheckPasswordEndpoint = "/auth/checkPassword"

	// SessionCheckEndpoint returns the account behind a session.
	SessionCheckEndpoint = "/auth/me"

	// SavedMessagesEndpoint pages through the Saved Messages chat.
	SavedMessagesEndpoint = "/messages/saved"

	// DefaultPageSize is the number of messages fetched per page.
	DefaultPageSize = 50

	// MaxPageSize is the largest page the gateway accepts.
	MaxPageSize = 100
)

// GetSavedMessagesURL builds the saved messages URL for one page.
// Messages are returned newest first; offsetID zero starts at the top
// and later pages pass the last message id seen.
func GetSavedMessagesURL(baseURL string, offsetID int64, limit int) string {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	if offsetID > 0 {
		query.Set("offset_id", fmt.Sprintf("%d", offsetID))
	}
	return baseURL + SavedMessagesEndpoint + "?" + query.Encode()
}

// GetSendCodeURL builds the URL that requests a login code.
func GetSendCodeURL(baseURL string) string {
	return baseURL + SendCodeEndpoint
}

// GetSignInURL builds the URL that exchanges a code for a session.
func GetSignInURL(baseURL string) string {
	return baseURL + SignInEndpoint
}

// GetCheckPasswordURL builds the two-step verification URL.
func GetCheckPasswordURL(baseURL string) string {
	return baseURL + CheckPasswordEndpoint
}

// GetSessionCheckURL builds the URL used to validate a session.
func GetSessionCheckURL(baseURL string) string {
	return baseURL + SessionCheckEndpoint
}

// IsValidPhone reports whether phone looks like an international
// phone number: a leading plus followed by 7 to 15 digits.
func IsValidPhone(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}
	digits := phone[1:]
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SanitizePhone strips the separators people type into phone numbers
// so "+1 (555) 010-9999" and "+15550109999" compare equal.
func SanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
