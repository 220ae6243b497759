package telegram

import (
	"context"
	"strconv"
	"time"

	errs "postvault/pkg/errors"
	"postvault/pkg/extractor"
	"postvault/pkg/media"
	"postvault/pkg/store"
)

// MessageItem adapts one saved message to the extraction loop's item
// shape
type MessageItem struct {
	msg        SavedMessage
	mediaPaths []string
}

// NewMessageItem wraps a gateway message
func NewMessageItem(msg SavedMessage) *MessageItem {
	return &MessageItem{msg: msg}
}

// Key returns the message id in decimal form
func (m *MessageItem) Key() string {
	return strconv.FormatInt(m.msg.MessageID, 10)
}

// TakenAt returns when the message was sent
func (m *MessageItem) TakenAt() time.Time {
	if m.msg.Date == 0 {
		return time.Time{}
	}
	return time.Unix(m.msg.Date, 0).UTC()
}

// MediaRefs returns the message's downloadable file. Documents get
// the longer download timeout and keep their suggested filename.
func (m *MessageItem) MediaRefs() []media.Ref {
	if m.msg.Photo != nil && m.msg.Photo.FileURL != "" {
		return []media.Ref{{URL: m.msg.Photo.FileURL, Kind: media.KindImage, Filename: m.msg.Photo.FileName}}
	}
	if m.msg.Document != nil && m.msg.Document.FileURL != "" {
		return []media.Ref{{URL: m.msg.Document.FileURL, Kind: media.KindDocument, Filename: m.msg.Document.FileName}}
	}
	return nil
}

// SetMediaPaths records resolved local paths for Record to pick up
func (m *MessageItem) SetMediaPaths(paths []string) {
	m.mediaPaths = paths
}

// Record builds the archive row for the message. Only local media
// paths are recorded; gateway file URLs expire and would archive dead
// links.
func (m *MessageItem) Record() *store.Message {
	return &store.Message{
		MessageID:    m.msg.MessageID,
		ChatID:       m.msg.ChatID,
		Content:      m.msg.Text,
		ContentType:  DeriveContentType(&m.msg),
		MediaURLs:    m.mediaPaths,
		Views:        m.msg.Views,
		Forwards:     m.msg.Forwards,
		ReplyToMsgID: m.msg.ReplyToMessageID,
		CreatedAt:    m.TakenAt(),
		Hashtags:     ExtractHashtags(m.msg.Text, m.msg.Entities),
	}
}

// SavedFeed pages the account's Saved Messages chat for the
// extraction loop
type SavedFeed struct {
	client   *Client
	limit    int
	offsetID int64
	total    int
	done     bool
}

// NewSavedFeed creates a feed starting at the newest saved message
func NewSavedFeed(client *Client, limit int) *SavedFeed {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return &SavedFeed{
		client: client,
		limit:  limit,
	}
}

// Total returns the message count the gateway reported, 0 before the
// first page arrives
func (f *SavedFeed) Total() int {
	return f.total
}

// NextPage fetches the next page of saved messages. Pages walk
// message ids downward from the newest message.
func (f *SavedFeed) NextPage(ctx context.Context) ([]extractor.Item, error) {
	if f.done {
		return nil, extractor.ErrFeedExhausted
	}

	result, err := f.client.FetchSavedMessages(ctx, f.offsetID, f.limit)
	if err != nil {
		return nil, err
	}

	f.total = result.TotalCount
	if len(result.Messages) == 0 {
		f.done = true
		return nil, extractor.ErrFeedExhausted
	}

	items := make([]extractor.Item, 0, len(result.Messages))
	for _, msg := range result.Messages {
		items = append(items, NewMessageItem(msg))
	}

	f.offsetID = result.Messages[len(result.Messages)-1].MessageID
	if len(result.Messages) < f.limit {
		f.done = true
	}

	return items, nil
}

// StoreSink bridges the extraction loop's persistence calls to the
// message archive. Item keys are decimal message ids.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink wraps the archive for telegram runs
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// FilterNew returns the message ids not yet archived
func (s *StoreSink) FilterNew(keys []string) ([]string, error) {
	ids, err := parseMessageIDs(keys)
	if err != nil {
		return nil, err
	}

	fresh, err := s.store.FilterNewMessageIDs(ids)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(fresh))
	for _, id := range fresh {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out, nil
}

// Exists reports whether a message id is already archived
func (s *StoreSink) Exists(key string) (bool, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return false, errs.New(errs.ErrorTypeParsing, "message key is not numeric: "+key)
	}

	existing, err := s.store.ExistingMessageIDs([]int64{id})
	if err != nil {
		return false, err
	}
	_, ok := existing[id]
	return ok, nil
}

// Persist upserts one saved message
func (s *StoreSink) Persist(ctx context.Context, item extractor.Item, force bool) (bool, error) {
	msg, ok := item.(*MessageItem)
	if !ok {
		return false, errs.New(errs.ErrorTypeParsing, "item is not a telegram message")
	}

	_, created, err := s.store.UpsertMessage(msg.Record(), force)
	return created, err
}

// parseMessageIDs converts decimal keys back to message ids
func parseMessageIDs(keys []string) ([]int64, error) {
	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeParsing, "message key is not numeric: "+key)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
