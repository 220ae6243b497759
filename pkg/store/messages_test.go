package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertMessageInsert(t *testing.T) {
	s := newTestStore(t)

	created := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	id, isNew, err := s.UpsertMessage(&Message{
		MessageID:    5001,
		ChatID:       777,
		Content:      "Soba noodles recipe #japanese",
		ContentType:  "text",
		MediaURLs:    []string{"https://t.me/file/1.jpg", "https://t.me/file/2.jpg"},
		Views:        340,
		Forwards:     12,
		ReplyToMsgID: 4999,
		CreatedAt:    created,
		Hashtags:     []string{"japanese"},
	}, false)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Positive(t, id)

	m, err := s.MessageByExternalID(5001)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(777), m.ChatID)
	assert.Equal(t, "text", m.ContentType)
	assert.Equal(t, []string{"https://t.me/file/1.jpg", "https://t.me/file/2.jpg"}, m.MediaURLs)
	assert.Equal(t, int64(340), m.Views)
	assert.Equal(t, int64(4999), m.ReplyToMsgID)
	assert.True(t, created.Equal(m.CreatedAt))
	assert.Equal(t, []string{"japanese"}, m.Hashtags)
}

func TestUpsertMessageRollsBackWhenTagInsertFails(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(`DROP TABLE telegram_hashtags`)
	require.NoError(t, err)

	_, _, err = s.UpsertMessage(&Message{
		MessageID: 6001,
		Content:   "Miso glaze #japanese",
		Hashtags:  []string{"japanese"},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hashtag")

	existing, err := s.ExistingMessageIDs([]int64{6001})
	require.NoError(t, err)
	assert.Empty(t, existing, "message row must not survive the failed child insert")
}

func TestUpsertMessageDefaultsContentType(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.UpsertMessage(&Message{MessageID: 1, Content: "plain"}, false)
	require.NoError(t, err)

	m, err := s.MessageByExternalID(1)
	require.NoError(t, err)
	assert.Equal(t, "text", m.ContentType)
}

func TestUpsertMessageNoOpWithoutForce(t *testing.T) {
	s := newTestStore(t)

	id1, isNew, err := s.UpsertMessage(&Message{MessageID: 42, Content: "first", Views: 10}, false)
	require.NoError(t, err)
	require.True(t, isNew)

	id2, isNew, err := s.UpsertMessage(&Message{MessageID: 42, Content: "second", Views: 500}, false)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, id1, id2)

	m, err := s.MessageByExternalID(42)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Content)
	assert.Equal(t, int64(10), m.Views)

	n, err := s.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpsertMessageForceUpdates(t *testing.T) {
	s := newTestStore(t)

	id1, _, err := s.UpsertMessage(&Message{
		MessageID:   42,
		Content:     "draft",
		ContentType: "text",
		Views:       10,
	}, false)
	require.NoError(t, err)

	id2, isNew, err := s.UpsertMessage(&Message{
		MessageID:   42,
		Content:     "edited",
		ContentType: "photo",
		MediaURLs:   []string{"https://t.me/file/9.jpg"},
		Views:       500,
		Forwards:    3,
	}, true)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, id1, id2)

	m, err := s.MessageByExternalID(42)
	require.NoError(t, err)
	assert.Equal(t, "edited", m.Content)
	assert.Equal(t, "photo", m.ContentType)
	assert.Equal(t, []string{"https://t.me/file/9.jpg"}, m.MediaURLs)
	assert.Equal(t, int64(500), m.Views)
	assert.Equal(t, int64(3), m.Forwards)
}

func TestUpsertMessageRequiresMessageID(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.UpsertMessage(&Message{Content: "anonymous"}, false)
	assert.Error(t, err)
}

func TestExistingMessageIDs(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []int64{100, 200, 300} {
		_, _, err := s.UpsertMessage(&Message{MessageID: id}, false)
		require.NoError(t, err)
	}

	existing, err := s.ExistingMessageIDs([]int64{100, 300, 999})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.Contains(t, existing, int64(100))
	assert.Contains(t, existing, int64(300))

	existing, err = s.ExistingMessageIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestFilterNewMessageIDs(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.UpsertMessage(&Message{MessageID: 7}, false)
	require.NoError(t, err)

	fresh, err := s.FilterNewMessageIDs([]int64{5, 7, 6, 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, fresh)

	fresh, err = s.FilterNewMessageIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestRecentMessagesOrder(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		_, _, err := s.UpsertMessage(&Message{
			MessageID: i,
			Content:   "msg",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}, false)
		require.NoError(t, err)
	}

	msgs, err := s.RecentMessages(2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(3), msgs[0].MessageID)
	assert.Equal(t, int64(2), msgs[1].MessageID)
}

func TestMessageByExternalIDNotFound(t *testing.T) {
	s := newTestStore(t)

	m, err := s.MessageByExternalID(12345)
	require.NoError(t, err)
	assert.Nil(t, m)
}
