package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"postvault/pkg/auth"
	"postvault/pkg/config"
	"postvault/pkg/instagram"
	"postvault/pkg/logger"
	"postvault/pkg/session"
	"postvault/pkg/telegram"
)

const (
	instagramToken = "sessionid=integration-session"
	telegramToken  = "tg-integration-session"
)

// instaServer fakes the Instagram web surface: session validation plus
// a paginated saved-media feed served from a fixed node list.
type instaServer struct {
	server *httptest.Server

	mu       sync.Mutex
	nodes    []instagram.Node
	pageSize int
	requests int
}

func newInstaServer(t *testing.T, nodes []instagram.Node, pageSize int) *instaServer {
	t.Helper()

	s := &instaServer{nodes: nodes, pageSize: pageSize}

	mux := http.NewServeMux()
	mux.HandleFunc(instagram.SessionCheckEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != instagramToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user": {"pk": 1, "username": "tester"}, "status": "ok"}`)
	})
	mux.HandleFunc(instagram.GraphQLEndpoint, s.handleSaved)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *instaServer) URL() string { return s.server.URL }

func (s *instaServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// SetLikes changes one post's like count, simulating upstream
// engagement movement between runs.
func (s *instaServer) SetLikes(shortcode string, likes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nodes {
		if s.nodes[i].Shortcode == shortcode {
			s.nodes[i].EdgeMediaPreviewLike.Count = likes
		}
	}
}

// handleSaved pages through the node list. The cursor is the index of
// the next node encoded as text, mirroring how the real endpoint's
// opaque cursors behave.
func (s *instaServer) handleSaved(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if r.Header.Get("Cookie") != instagramToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var vars struct {
		First int    `json:"first"`
		After string `json:"after"`
	}
	_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)

	start := 0
	if vars.After != "" {
		start, _ = strconv.Atoi(vars.After)
	}
	end := start + s.pageSize
	if end > len(s.nodes) {
		end = len(s.nodes)
	}

	edges := make([]instagram.Edge, 0, end-start)
	for _, node := range s.nodes[start:end] {
		edges = append(edges, instagram.Edge{Node: node})
	}

	response := instagram.SavedPostsResponse{
		Status: "ok",
		Data: instagram.SavedData{
			User: instagram.SavedUser{
				EdgeSavedMedia: instagram.EdgeSavedMedia{
					Count: len(s.nodes),
					PageInfo: instagram.PageInfo{
						HasNextPage: end < len(s.nodes),
						EndCursor:   strconv.Itoa(end),
					},
					Edges: edges,
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// tgServer fakes the Telegram gateway: session validation plus the
// saved-messages chat paged by offset_id.
type tgServer struct {
	server *httptest.Server

	mu       sync.Mutex
	messages []telegram.SavedMessage
	requests int
}

func newTgServer(t *testing.T, messages []telegram.SavedMessage) *tgServer {
	t.Helper()

	s := &tgServer{messages: messages}

	mux := http.NewServeMux()
	mux.HandleFunc(telegram.SessionCheckEndpoint, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer "+telegramToken {
			fmt.Fprint(w, `{"ok": false, "error_code": 401, "description": "Unauthorized"}`)
			return
		}
		fmt.Fprint(w, `{"ok": true, "result": {"id": 7, "phone": "+15550109999"}}`)
	})
	mux.HandleFunc(telegram.SavedMessagesEndpoint, s.handleSaved)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *tgServer) URL() string { return s.server.URL }

func (s *tgServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// handleSaved serves messages newest first; offset_id pages past the
// last id the client has seen.
func (s *tgServer) handleSaved(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Authorization") != "Bearer "+telegramToken {
		fmt.Fprint(w, `{"ok": false, "error_code": 401, "description": "Unauthorized"}`)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = telegram.DefaultPageSize
	}
	offsetID, _ := strconv.ParseInt(r.URL.Query().Get("offset_id"), 10, 64)

	page := make([]telegram.SavedMessage, 0, limit)
	for _, msg := range s.messages {
		if offsetID > 0 && msg.MessageID >= offsetID {
			continue
		}
		page = append(page, msg)
		if len(page) == limit {
			break
		}
	}

	result := telegram.SavedMessagesResult{
		TotalCount: len(s.messages),
		Messages:   page,
	}
	raw, _ := json.Marshal(result)

	envelope := telegram.Envelope{OK: true, Result: raw}
	_ = json.NewEncoder(w).Encode(envelope)
}

// testConfig builds a configuration pointed at the mock servers with
// pacing collapsed to near zero so runs finish instantly.
func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.Media.Enabled = false
	for _, d := range []*config.DelayConfig{&cfg.RateLimit.Instagram, &cfg.RateLimit.Telegram} {
		d.MinDelay = time.Millisecond
		d.MaxDelay = 2 * time.Millisecond
	}
	return cfg
}

// primeSession caches a session token so the pipeline resumes without
// a login flow.
func primeSession(t *testing.T, dir, platform, username, token string) {
	t.Helper()

	cache, err := session.NewTokenCache(dir, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to create token cache: %v", err)
	}
	if err := cache.Save(&session.Token{
		Platform: platform,
		Username: username,
		Value:    token,
		IssuedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to prime session cache: %v", err)
	}
}

func instaCreds() *auth.Credentials {
	return &auth.Credentials{Platform: auth.PlatformInstagram, Username: "tester"}
}

func tgCreds() *auth.Credentials {
	return &auth.Credentials{
		Platform: auth.PlatformTelegram,
		Username: "+15550109999",
		APIID:    12345,
		APIHash:  "0123456789abcdef",
	}
}

// savedNode builds one Instagram post node for the mock feed.
func savedNode(shortcode, caption string, likes int64) instagram.Node {
	node := instagram.Node{
		ID:                   "id-" + shortcode,
		Typename:             "GraphImage",
		Shortcode:            shortcode,
		DisplayURL:           "https://cdn.example/" + shortcode + ".jpg",
		TakenAtTimestamp:     time.Now().Add(-24 * time.Hour).Unix(),
		Owner:                instagram.Owner{ID: "99", Username: "someone"},
		EdgeMediaPreviewLike: instagram.EdgeCount{Count: likes},
		EdgeMediaToComment:   instagram.EdgeCount{Count: 1},
	}
	if caption != "" {
		node.EdgeMediaToCaption = instagram.CaptionEdges{
			Edges: []instagram.CaptionEdge{{Node: instagram.CaptionNode{Text: caption}}},
		}
	}
	return node
}

// savedMessage builds one Telegram message for the mock gateway.
func savedMessage(id int64, text string) telegram.SavedMessage {
	return telegram.SavedMessage{
		MessageID: id,
		ChatID:    777,
		Date:      time.Now().Add(-time.Hour).Unix(),
		Text:      text,
		Views:     3,
	}
}

// chatContent wraps a model reply in the chat completions envelope.
func chatContent(content string) string {
	response := map[string]interface{}{
		"id":    "chatcmpl-integration",
		"model": "llama3.2",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
	raw, _ := json.Marshal(response)
	return string(raw)
}

// newLLMServer serves a fixed model reply for every completion call.
func newLLMServer(t *testing.T, content string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatContent(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}
