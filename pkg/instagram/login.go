package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postvault/pkg/auth"
	errs "postvault/pkg/errors"
	"postvault/pkg/session"
)

// ValidateSession checks whether a cached session cookie is still
// accepted by Instagram
func (c *Client) ValidateSession(ctx context.Context, token string) error {
	if token == "" {
		return errs.New(errs.ErrorTypeAuth, "empty session token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GetSessionCheckURL(c.baseURL), nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Cookie", token)

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	var current CurrentUserResponse
	if err := c.decodeJSON(resp, &current); err != nil {
		return err
	}

	if current.User.Username == "" {
		return errs.New(errs.ErrorTypeAuth, "session no longer belongs to a user")
	}

	c.logger.DebugWithFields("session validated", map[string]interface{}{
		"username": current.User.Username,
	})
	return nil
}

// Login authenticates with username and password and returns the
// session cookie. When the account has two-factor auth enabled the
// prompter supplies the verification code.
func (c *Client) Login(ctx context.Context, creds *auth.Credentials, prompter session.LoginPrompter) (string, error) {
	password := creds.Password
	if password == "" {
		var err error
		password, err = prompter.PromptSecret("Instagram password")
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	if password == "" {
		return "", errs.New(errs.ErrorTypeAuth, "no password provided")
	}

	csrfToken, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return "", err
	}

	c.logger.InfoWithFields("logging in", map[string]interface{}{
		"username": creds.Username,
	})

	form := url.Values{
		"username":     {creds.Username},
		"enc_password": {fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password)},
	}

	resp, err := c.postLoginForm(ctx, GetLoginURL(c.baseURL), form, csrfToken)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	login, err := c.readLoginResponse(resp)
	if err != nil {
		return "", err
	}

	if login.TwoFactorRequired {
		resp.Body.Close()
		return c.completeTwoFactor(ctx, creds.Username, login.TwoFactorInfo.TwoFactorIdentifier, csrfToken, prompter)
	}

	if !login.Authenticated {
		c.logger.WarnWithFields("login rejected", map[string]interface{}{
			"username": creds.Username,
			"message":  login.Message,
		})
		return "", errs.NewWithCode(errs.ErrorTypeAuth, "invalid username or password", http.StatusUnauthorized)
	}

	token := sessionCookie(resp.Cookies())
	if token == "" {
		return "", errs.New(errs.ErrorTypeParsing, "login response carried no session cookie")
	}

	c.logger.InfoWithFields("login succeeded", map[string]interface{}{
		"username": creds.Username,
	})
	return token, nil
}

// completeTwoFactor finishes a login challenge with the code the user
// provides
func (c *Client) completeTwoFactor(ctx context.Context, username, identifier, csrfToken string, prompter session.LoginPrompter) (string, error) {
	c.logger.InfoWithFields("two-factor code required", map[string]interface{}{
		"username": username,
	})

	code, err := prompter.Prompt("Two-factor code")
	if err != nil {
		return "", fmt.Errorf("failed to read two-factor code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errs.New(errs.ErrorTypeAuth, "no two-factor code provided")
	}

	form := url.Values{
		"username":            {username},
		"identifier":          {identifier},
		"verification_code":   {code},
		"verification_method": {"1"},
	}

	resp, err := c.postLoginForm(ctx, GetTwoFactorURL(c.baseURL), form, csrfToken)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	login, err := c.readLoginResponse(resp)
	if err != nil {
		return "", err
	}

	if !login.Authenticated {
		return "", errs.NewWithCode(errs.ErrorTypeAuth, "two-factor code rejected", http.StatusUnauthorized)
	}

	token := sessionCookie(resp.Cookies())
	if token == "" {
		return "", errs.New(errs.ErrorTypeParsing, "two-factor response carried no session cookie")
	}

	c.logger.InfoWithFields("two-factor login succeeded", map[string]interface{}{
		"username": username,
	})
	return token, nil
}

// fetchCSRFToken loads the login page to obtain the CSRF cookie the
// login endpoints require
func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, GetLoginPageURL(c.baseURL))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return "", err
	}

	token := cookieValue(resp.Cookies(), "csrftoken")
	if token == "" {
		return "", errs.New(errs.ErrorTypeParsing, "login page set no CSRF cookie")
	}
	return token, nil
}

// postLoginForm submits a login-flow form with the CSRF handshake
// headers set
func (c *Client) postLoginForm(ctx context.Context, requestURL string, form url.Values, csrfToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRFToken", csrfToken)
	req.Header.Set("Cookie", "csrftoken="+csrfToken)
	req.Header.Set("Referer", GetLoginPageURL(c.baseURL))

	return c.doRequest(req)
}

// readLoginResponse decodes a login-flow reply. Instagram answers
// rejected credentials with 200 or 400 plus a JSON body, so both
// statuses are parsed rather than mapped to errors.
func (c *Client) readLoginResponse(resp *http.Response) (*LoginResponse, error) {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, c.checkResponseStatus(resp)
	}

	var login LoginResponse
	if err := c.decodeJSON(resp, &login); err != nil {
		return nil, err
	}
	return &login, nil
}

// sessionCookie builds the reusable cookie header from a login
// response, empty when no session was granted
func sessionCookie(cookies []*http.Cookie) string {
	sessionID := cookieValue(cookies, "sessionid")
	if sessionID == "" {
		return ""
	}

	token := "sessionid=" + sessionID
	if csrf := cookieValue(cookies, "csrftoken"); csrf != "" {
		token += "; csrftoken=" + csrf
	}
	return token
}

// cookieValue returns the named cookie's value, empty when absent
func cookieValue(cookies []*http.Cookie, name string) string {
	for _, cookie := range cookies {
		if cookie.Name == name && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}
