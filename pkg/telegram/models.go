package telegram

import "encoding/json"

// Envelope is the gateway's response wrapper. Successful calls carry
// the payload in Result; failures set OK false with an error code and
// a human readable description.
type Envelope struct {
	OK          bool                `json:"ok"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
	Result      json.RawMessage     `json:"result,omitempty"`
}

// ResponseParameters carries extra error details, most importantly
// the flood-wait interval on rate limited calls.
type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// SentCode is returned after a login code has been dispatched. The
// hash must be echoed back when signing in with the code.
type SentCode struct {
	PhoneCodeHash string `json:"phone_code_hash"`
	Timeout       int    `json:"timeout,omitempty"`
}

// Authorization is the outcome of a sign-in step. When the account
// has two-step verification enabled the first step answers with
// PasswordNeeded and an empty session.
type Authorization struct {
	Authorized     bool         `json:"authorized"`
	PasswordNeeded bool         `json:"password_needed,omitempty"`
	Session        string       `json:"session,omitempty"`
	User           *AccountUser `json:"user,omitempty"`
}

// AccountUser identifies the signed-in account.
type AccountUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// SavedMessagesResult is one page of the Saved Messages chat.
type SavedMessagesResult struct {
	TotalCount int            `json:"total_count"`
	Messages   []SavedMessage `json:"messages"`
}

// SavedMessage is a single message as the gateway reports it. Date is
// a unix timestamp. At most one of Photo and Document is set.
type SavedMessage struct {
	MessageID        int64           `json:"message_id"`
	ChatID           int64           `json:"chat_id"`
	Date             int64           `json:"date"`
	Text             string          `json:"text,omitempty"`
	Photo            *FileRef        `json:"photo,omitempty"`
	Document         *FileRef        `json:"document,omitempty"`
	Views            int64           `json:"views,omitempty"`
	Forwards         int64           `json:"forwards,omitempty"`
	ReplyToMessageID int64           `json:"reply_to_message_id,omitempty"`
	Entities         []MessageEntity `json:"entities,omitempty"`
}

// FileRef points at an attached file. FileURL is directly fetchable;
// FileName is only set for documents that carry one.
type FileRef struct {
	FileID   string `json:"file_id"`
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Entity types the gateway annotates message text with.
const (
	EntityHashtag  = "hashtag"
	EntityURL      = "url"
	EntityTextLink = "text_link"
)

// MessageEntity marks a span of the message text. Offset and Length
// count UTF-16 code units, matching the wire convention.
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// HasEntity reports whether the message carries an entity of the
// given type.
func (m *SavedMessage) HasEntity(entityType string) bool {
	for _, e := range m.Entities {
		if e.Type == entityType {
			return true
		}
	}
	return false
}
