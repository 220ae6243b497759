package store

import "time"

// Sources identify which platform a stored item came from
const (
	SourceInstagram = "instagram"
	SourceTelegram  = "telegram"
)

// Post is a stored Instagram post
type Post struct {
	ID            int64
	Shortcode     string
	PostURL       string
	OwnerUsername string
	OwnerID       int64
	Caption       string
	IsVideo       bool
	MediaURL      string
	Typename      string
	Likes         int64
	Comments      int64
	IsSaved       bool
	Source        string
	CreatedAt     time.Time
	FetchedAt     time.Time
	Hashtags      []string
	Mentions      []string
}

// Message is a stored Telegram message
type Message struct {
	ID           int64
	MessageID    int64
	ChatID       int64
	Content      string
	ContentType  string
	MediaURLs    []string
	Views        int64
	Forwards     int64
	ReplyToMsgID int64
	CreatedAt    time.Time
	SavedAt      time.Time
	Hashtags     []string
}

// Classification is one classifier verdict for one stored item.
// Multi-label runs share a RunID across their rows.
type Classification struct {
	ID                 int64
	ContentID          int64
	ContentSource      string
	ClassifierName     string
	ClassificationType string
	RunID              string
	Label              string
	Confidence         float64
	Reasoning          string
	LLMProvider        string
	LLMModel           string
	LLMMetadata        map[string]interface{}
	AnalyzedAt         time.Time
	Details            map[string]interface{}
}

// PendingItem is a stored item with text that a given classifier has
// not yet labeled
type PendingItem struct {
	ContentID int64
	Source    string
	Text      string
}
