package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"postvault/pkg/auth"
	errs "postvault/pkg/errors"
	"postvault/pkg/session"
)

type sendCodeRequest struct {
	Phone   string `json:"phone"`
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
}

type signInRequest struct {
	Phone         string `json:"phone"`
	PhoneCodeHash string `json:"phone_code_hash"`
	Code          string `json:"code"`
}

type checkPasswordRequest struct {
	Phone         string `json:"phone"`
	PhoneCodeHash string `json:"phone_code_hash"`
	Password      string `json:"password"`
}

// ValidateSession checks whether a cached session is still accepted
// by the gateway
func (c *Client) ValidateSession(ctx context.Context, token string) error {
	if token == "" {
		return errs.New(errs.ErrorTypeAuth, "empty session token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GetSessionCheckURL(c.baseURL), nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var user AccountUser
	if err := c.decodeEnvelope(resp, &user); err != nil {
		return err
	}

	if user.ID == 0 {
		return errs.New(errs.ErrorTypeAuth, "session no longer belongs to a user")
	}

	c.logger.DebugWithFields("session validated", map[string]interface{}{
		"user_id": user.ID,
		"phone":   user.Phone,
	})
	return nil
}

// Login runs the phone login sequence and returns the session token.
// A code is sent to the phone and read through the prompter; accounts
// with two-step verification also need the account password.
func (c *Client) Login(ctx context.Context, creds *auth.Credentials, prompter session.LoginPrompter) (string, error) {
	phone := SanitizePhone(creds.Username)
	if !IsValidPhone(phone) {
		return "", errs.New(errs.ErrorTypeAuth, fmt.Sprintf("invalid phone number %q", creds.Username))
	}
	if creds.APIID == 0 || creds.APIHash == "" {
		return "", errs.New(errs.ErrorTypeAuth, "telegram login needs api_id and api_hash")
	}

	c.logger.InfoWithFields("requesting login code", map[string]interface{}{
		"phone": phone,
	})

	var sent SentCode
	err := c.PostResult(ctx, GetSendCodeURL(c.baseURL), sendCodeRequest{
		Phone:   phone,
		APIID:   creds.APIID,
		APIHash: creds.APIHash,
	}, &sent)
	if err != nil {
		return "", err
	}
	if sent.PhoneCodeHash == "" {
		return "", errs.New(errs.ErrorTypeParsing, "send code response carried no phone_code_hash")
	}

	code, err := prompter.Prompt("Telegram login code")
	if err != nil {
		return "", fmt.Errorf("failed to read login code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errs.New(errs.ErrorTypeAuth, "no login code provided")
	}

	var authz Authorization
	err = c.PostResult(ctx, GetSignInURL(c.baseURL), signInRequest{
		Phone:         phone,
		PhoneCodeHash: sent.PhoneCodeHash,
		Code:          code,
	}, &authz)
	if err != nil {
		return "", err
	}

	if authz.PasswordNeeded {
		return c.completeTwoStep(ctx, creds, phone, sent.PhoneCodeHash, prompter)
	}

	if !authz.Authorized {
		c.logger.WarnWithFields("login rejected", map[string]interface{}{
			"phone": phone,
		})
		return "", errs.NewWithCode(errs.ErrorTypeAuth, "login code rejected", http.StatusUnauthorized)
	}
	if authz.Session == "" {
		return "", errs.New(errs.ErrorTypeParsing, "sign in response carried no session")
	}

	c.logger.InfoWithFields("login succeeded", map[string]interface{}{
		"phone": phone,
	})
	return authz.Session, nil
}

// completeTwoStep finishes a login on an account protected by a
// two-step verification password
func (c *Client) completeTwoStep(ctx context.Context, creds *auth.Credentials, phone, phoneCodeHash string, prompter session.LoginPrompter) (string, error) {
	c.logger.InfoWithFields("two-step verification required", map[string]interface{}{
		"phone": phone,
	})

	password := creds.Password
	if password == "" {
		var err error
		password, err = prompter.PromptSecret("Two-step verification password")
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	if password == "" {
		return "", errs.New(errs.ErrorTypeAuth, "no two-step verification password provided")
	}

	var authz Authorization
	err := c.PostResult(ctx, GetCheckPasswordURL(c.baseURL), checkPasswordRequest{
		Phone:         phone,
		PhoneCodeHash: phoneCodeHash,
		Password:      password,
	}, &authz)
	if err != nil {
		return "", err
	}

	if !authz.Authorized {
		return "", errs.NewWithCode(errs.ErrorTypeAuth, "two-step verification password rejected", http.StatusUnauthorized)
	}
	if authz.Session == "" {
		return "", errs.New(errs.ErrorTypeParsing, "password check response carried no session")
	}

	c.logger.InfoWithFields("two-step login succeeded", map[string]interface{}{
		"phone": phone,
	})
	return authz.Session, nil
}
