package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"postvault/pkg/config"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockInstagramServer mimics the Instagram web API surface the client
// talks to
type mockInstagramServer struct {
	server *httptest.Server

	savedCalls    int32
	loginCalls    int32
	validateCalls int32

	mu             sync.Mutex
	savedStatus    int
	requiresLogin  bool
	malformedSaved bool
	pages          []SavedPostsResponse
	validToken     string
	password       string
	twoFactorCode  string
	lastUserAgent  string
	lastCookie     string
	lastCSRF       string
}

func savedPage(count int, hasNext bool, cursor string, nodes ...Node) SavedPostsResponse {
	edges := make([]Edge, 0, len(nodes))
	for _, node := range nodes {
		edges = append(edges, Edge{Node: node})
	}
	return SavedPostsResponse{
		Status: "ok",
		Data: SavedData{
			User: SavedUser{
				EdgeSavedMedia: EdgeSavedMedia{
					Count:    count,
					PageInfo: PageInfo{HasNextPage: hasNext, EndCursor: cursor},
					Edges:    edges,
				},
			},
		},
	}
}

func newMockInstagramServer() *mockInstagramServer {
	m := &mockInstagramServer{
		savedStatus: http.StatusOK,
		validToken:  "sessionid=valid-session",
		password:    "correct-horse",
	}

	mux := http.NewServeMux()

	mux.HandleFunc(GraphQLEndpoint, func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&m.savedCalls, 1)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.lastUserAgent = r.Header.Get("User-Agent")
		m.lastCookie = r.Header.Get("Cookie")

		if m.savedStatus != http.StatusOK {
			w.WriteHeader(m.savedStatus)
			return
		}
		if m.malformedSaved {
			w.Write([]byte("<html>for more posts, log in</html>"))
			return
		}

		response := SavedPostsResponse{RequiresToLogin: true}
		if !m.requiresLogin {
			page := int(call) - 1
			if page >= len(m.pages) {
				response = savedPage(0, false, "")
			} else {
				response = m.pages[page]
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc(LoginPageEndpoint, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-abc"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc(LoginEndpoint, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&m.loginCalls, 1)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.lastCSRF = r.Header.Get("X-CSRFToken")

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if m.twoFactorCode != "" {
			json.NewEncoder(w).Encode(LoginResponse{
				TwoFactorRequired: true,
				TwoFactorInfo:     TwoFactorInfo{TwoFactorIdentifier: "tf-id-1"},
				Status:            "fail",
			})
			return
		}

		encPassword := r.PostFormValue("enc_password")
		if encPassword == "" || !containsPassword(encPassword, m.password) {
			json.NewEncoder(w).Encode(LoginResponse{Authenticated: false, Status: "ok"})
			return
		}

		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "fresh-session"})
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-def"})
		json.NewEncoder(w).Encode(LoginResponse{Authenticated: true, UserID: "42", Status: "ok"})
	})

	mux.HandleFunc(TwoFactorEndpoint, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.PostFormValue("verification_code") != m.twoFactorCode ||
			r.PostFormValue("identifier") != "tf-id-1" {
			json.NewEncoder(w).Encode(LoginResponse{Authenticated: false, Status: "ok"})
			return
		}

		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "tf-session"})
		json.NewEncoder(w).Encode(LoginResponse{Authenticated: true, Status: "ok"})
	})

	mux.HandleFunc(SessionCheckEndpoint, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&m.validateCalls, 1)

		m.mu.Lock()
		defer m.mu.Unlock()

		if r.Header.Get("Cookie") != m.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CurrentUserResponse{
			User:   CurrentUser{PK: 42, Username: "tester"},
			Status: "ok",
		})
	})

	m.server = httptest.NewServer(mux)
	return m
}

func containsPassword(encPassword, password string) bool {
	// enc_password has the shape #PWD_INSTAGRAM_BROWSER:0:<ts>:<password>
	return len(encPassword) > len(password) &&
		encPassword[len(encPassword)-len(password):] == password
}

func (m *mockInstagramServer) Close() {
	m.server.Close()
}

func (m *mockInstagramServer) client(t *testing.T) *Client {
	t.Helper()
	return NewClient(config.InstagramConfig{BaseURL: m.server.URL}, logger.NewTestLogger())
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(config.InstagramConfig{}, logger.NewTestLogger())

	assert.Equal(t, BaseURL, client.BaseURL())
	assert.Contains(t, client.headers["User-Agent"], "Mozilla")
	assert.NotNil(t, client.httpClient)
}

func TestNewClientConfigOverrides(t *testing.T) {
	client := NewClient(config.InstagramConfig{
		BaseURL:   "http://127.0.0.1:9999",
		UserAgent: "custom-agent/1.0",
	}, logger.NewTestLogger())

	assert.Equal(t, "http://127.0.0.1:9999", client.BaseURL())
	assert.Equal(t, "custom-agent/1.0", client.headers["User-Agent"])
}

func TestSetHeaders(t *testing.T) {
	client := NewClient(config.InstagramConfig{}, logger.NewTestLogger())

	t.Run("SetHeader", func(t *testing.T) {
		client.SetHeader("X-Custom-Header", "test-value")
		assert.Equal(t, "test-value", client.headers["X-Custom-Header"])
	})

	t.Run("SetHeaders", func(t *testing.T) {
		client.SetHeaders(map[string]string{
			"X-Header-1": "value1",
			"X-Header-2": "value2",
		})
		assert.Equal(t, "value1", client.headers["X-Header-1"])
		assert.Equal(t, "value2", client.headers["X-Header-2"])
	})

	t.Run("SetSessionToken", func(t *testing.T) {
		client.SetSessionToken("sessionid=abc")
		assert.Equal(t, "sessionid=abc", client.headers["Cookie"])

		client.SetSessionToken("")
		_, ok := client.headers["Cookie"]
		assert.False(t, ok)
	})
}

func TestFetchSavedPostsFirstPage(t *testing.T) {
	mock := newMockInstagramServer()
	defer mock.Close()

	mock.pages = []SavedPostsResponse{
		savedPage(2, false, "",
			Node{ID: "1", Shortcode: "ABC123", DisplayURL: "https://cdn.test/1.jpg"},
			Node{ID: "2", Shortcode: "DEF456", DisplayURL: "https://cdn.test/2.jpg", IsVideo: true},
		),
	}

	client := mock.client(t)
	client.SetSessionToken("sessionid=valid-session")

	response, err := client.FetchSavedPosts(context.Background(), "", DefaultPageSize)
	require.NoError(t, err)

	savedMedia := response.Data.User.EdgeSavedMedia
	assert.Equal(t, 2, savedMedia.Count)
	require.Len(t, savedMedia.Edges, 2)
	assert.Equal(t, "ABC123", savedMedia.Edges[0].Node.Shortcode)
	assert.False(t, savedMedia.PageInfo.HasNextPage)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Contains(t, mock.lastUserAgent, "Mozilla")
	assert.Equal(t, "sessionid=valid-session", mock.lastCookie)
}

func TestFetchSavedPostsRequiresLogin(t *testing.T) {
	mock := newMockInstagramServer()
	defer mock.Close()
	mock.requiresLogin = true

	_, err := mock.client(t).FetchSavedPosts(context.Background(), "", 12)
	require.Error(t, err)

	apiErr, ok := err.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeAuth, apiErr.Type)
}

func TestFetchSavedPostsStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected errs.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, errs.ErrorTypeAuth},
		{"forbidden", http.StatusForbidden, errs.ErrorTypeAuth},
		{"not found", http.StatusNotFound, errs.ErrorTypeNotFound},
		{"rate limited", http.StatusTooManyRequests, errs.ErrorTypeRateLimit},
		{"server error", http.StatusInternalServerError, errs.ErrorTypeServerError},
		{"bad gateway", http.StatusBadGateway, errs.ErrorTypeServerError},
		{"teapot", http.StatusTeapot, errs.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockInstagramServer()
			defer mock.Close()
			mock.savedStatus = tt.status

			_, err := mock.client(t).FetchSavedPosts(context.Background(), "", 12)
			require.Error(t, err)

			apiErr, ok := err.(*errs.Error)
			require.True(t, ok)
			assert.Equal(t, tt.expected, apiErr.Type)
			assert.Equal(t, tt.status, apiErr.Code)
		})
	}
}

func TestFetchSavedPostsMalformedBody(t *testing.T) {
	mock := newMockInstagramServer()
	defer mock.Close()
	mock.malformedSaved = true

	_, err := mock.client(t).FetchSavedPosts(context.Background(), "", 12)
	require.Error(t, err)

	apiErr, ok := err.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeParsing, apiErr.Type)
}

func TestFetchSavedPostsNetworkError(t *testing.T) {
	client := NewClient(config.InstagramConfig{
		BaseURL: "http://127.0.0.1:1",
	}, logger.NewTestLogger())

	_, err := client.FetchSavedPosts(context.Background(), "", 12)
	require.Error(t, err)

	apiErr, ok := err.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeNetwork, apiErr.Type)
}

func TestRequestHeadersDoNotClobberPerRequestValues(t *testing.T) {
	var gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, "{}")
	}))
	defer server.Close()

	client := NewClient(config.InstagramConfig{BaseURL: server.URL}, logger.NewTestLogger())

	req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	resp, err := client.doRequest(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "application/json", gotAccept)
}
