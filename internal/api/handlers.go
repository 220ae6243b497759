package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"postvault/internal/pipeline"
	"postvault/pkg/auth"
	"postvault/pkg/classify"
	"postvault/pkg/config"
	"postvault/pkg/extractor"
	"postvault/pkg/logger"
	"postvault/pkg/session"
	"postvault/pkg/store"
)

type extractFunc func(ctx context.Context, cfg *config.Config, st *store.Store, opts pipeline.ExtractOptions, log logger.Logger) (extractor.Summary, error)

type classifyFunc func(ctx context.Context, cfg *config.Config, st *store.Store, opts classify.RunOptions, log logger.Logger) (classify.Summary, error)

// runExtraction drives the real pipeline. Serve mode is
// non-interactive, so login flows that would prompt fail fast and the
// job reports the error; runs rely on cached sessions.
func runExtraction(ctx context.Context, cfg *config.Config, st *store.Store, opts pipeline.ExtractOptions, log logger.Logger) (extractor.Summary, error) {
	opts.Prompter = &session.StaticPrompter{}
	return pipeline.Extract(ctx, cfg, st, opts, log)
}

func runClassification(ctx context.Context, cfg *config.Config, st *store.Store, opts classify.RunOptions, log logger.Logger) (classify.Summary, error) {
	return pipeline.Classify(ctx, cfg, st, opts, log)
}

type extractRequest struct {
	Limit       int    `json:"limit"`
	ForceUpdate bool   `json:"force_update"`
	Account     string `json:"account"`
}

type classifyRequest struct {
	Source     string `json:"source"`
	Classifier string `json:"classifier"`
	Limit      int    `json:"limit"`
	Force      bool   `json:"force"`
	Replace    bool   `json:"replace"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}

	version, err := s.store.SchemaVersion()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"schema_version": version,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if platform != auth.PlatformInstagram && platform != auth.PlatformTelegram {
		writeError(w, http.StatusBadRequest, "unknown platform "+platform)
		return
	}

	var req extractRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	job, err := s.jobs.Start("extract", platform)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	cfg := s.Config()
	go func() {
		summary, runErr := s.extract(context.Background(), cfg, s.store, pipeline.ExtractOptions{
			Platform: platform,
			Limit:    req.Limit,
			Force:    req.ForceUpdate,
			Account:  req.Account,
		}, s.log)
		s.jobs.Finish(job.ID, summary, runErr)
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Source == "" {
		req.Source = classify.SourceAll
	}

	job, err := s.jobs.Start("classify", "classify")
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	// Snapshot the config so a reload mid-run cannot mix settings
	cfg := *s.Config()
	if req.Classifier != "" {
		cfg.Classifier.Name = req.Classifier
	}

	go func() {
		summary, runErr := s.classify(context.Background(), &cfg, s.store, classify.RunOptions{
			Source:  req.Source,
			Limit:   req.Limit,
			Force:   req.Force,
			Replace: req.Replace,
		}, s.log)
		s.jobs.Finish(job.ID, summary, runErr)
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// postItem is the wire shape for a stored Instagram post.
type postItem struct {
	Shortcode     string    `json:"shortcode"`
	OwnerUsername string    `json:"owner_username,omitempty"`
	Caption       string    `json:"caption,omitempty"`
	IsVideo       bool      `json:"is_video"`
	Likes         int64     `json:"likes"`
	Comments      int64     `json:"comments"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	FetchedAt     time.Time `json:"fetched_at,omitempty"`
}

// messageItem is the wire shape for a stored Telegram message.
type messageItem struct {
	MessageID   int64     `json:"message_id"`
	ChatID      int64     `json:"chat_id,omitempty"`
	Content     string    `json:"content,omitempty"`
	ContentType string    `json:"content_type"`
	Views       int64     `json:"views"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	SavedAt     time.Time `json:"saved_at,omitempty"`
}

func (s *Server) handleRecentItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	source := r.URL.Query().Get("source")

	response := make(map[string]interface{})

	if source == "" || source == store.SourceInstagram {
		posts, err := s.store.RecentPosts(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read posts")
			return
		}
		items := make([]postItem, 0, len(posts))
		for _, p := range posts {
			items = append(items, postItem{
				Shortcode:     p.Shortcode,
				OwnerUsername: p.OwnerUsername,
				Caption:       p.Caption,
				IsVideo:       p.IsVideo,
				Likes:         p.Likes,
				Comments:      p.Comments,
				CreatedAt:     p.CreatedAt,
				FetchedAt:     p.FetchedAt,
			})
		}
		response["posts"] = items
	}

	if source == "" || source == store.SourceTelegram {
		messages, err := s.store.RecentMessages(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read messages")
			return
		}
		items := make([]messageItem, 0, len(messages))
		for _, m := range messages {
			items = append(items, messageItem{
				MessageID:   m.MessageID,
				ChatID:      m.ChatID,
				Content:     m.Content,
				ContentType: m.ContentType,
				Views:       m.Views,
				CreatedAt:   m.CreatedAt,
				SavedAt:     m.SavedAt,
			})
		}
		response["messages"] = items
	}

	if len(response) == 0 {
		writeError(w, http.StatusBadRequest, "unknown source "+source)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.CountPosts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count posts")
		return
	}
	messages, err := s.store.CountMessages()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}
	classifications, err := s.store.CountClassifications()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count classifications")
		return
	}
	version, err := s.store.SchemaVersion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read schema version")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"posts":           posts,
		"messages":        messages,
		"classifications": classifications,
		"schema_version":  version,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
