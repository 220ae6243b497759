package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message and its hashtag rows in
// one transaction, with the same no-op-unless-forced semantics as
// UpsertPost
func (s *Store) UpsertMessage(m *Message, forceUpdate bool) (int64, bool, error) {
	if m.MessageID == 0 {
		return 0, false, fmt.Errorf("message id is required")
	}
	if m.ContentType == "" {
		m.ContentType = "text"
	}

	var mediaURLs interface{}
	if len(m.MediaURLs) > 0 {
		encoded, err := json.Marshal(m.MediaURLs)
		if err != nil {
			return 0, false, fmt.Errorf("failed to encode media urls: %w", err)
		}
		mediaURLs = string(encoded)
	}

	var id int64
	var created bool

	err := s.withTx(func(tx *sql.Tx) error {
		existing, err := messageIDByExternalID(tx, m.MessageID)
		if err != nil {
			return err
		}

		if existing == 0 {
			res, err := tx.Exec(`INSERT INTO telegram_messages (
				message_id, chat_id, content, content_type, media_urls,
				views, forwards, reply_to_msg_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.MessageID, nullIfZero(m.ChatID), nullIfEmpty(m.Content),
				m.ContentType, mediaURLs, m.Views, m.Forwards,
				nullIfZero(m.ReplyToMsgID), formatTime(m.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to insert message %d: %w", m.MessageID, err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			created = true
		} else {
			id = existing
			if !forceUpdate {
				return nil
			}
			if _, err := tx.Exec(`UPDATE telegram_messages SET
				content = ?, content_type = ?, media_urls = ?,
				views = ?, forwards = ?, saved_at = CURRENT_TIMESTAMP
				WHERE id = ?`,
				nullIfEmpty(m.Content), m.ContentType, mediaURLs,
				m.Views, m.Forwards, id); err != nil {
				return fmt.Errorf("failed to update message %d: %w", m.MessageID, err)
			}
		}

		for _, tag := range m.Hashtags {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO telegram_hashtags (message_id, hashtag)
				VALUES (?, ?)`, id, tag); err != nil {
				return fmt.Errorf("failed to insert hashtag: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return id, created, nil
}

func messageIDByExternalID(tx *sql.Tx, messageID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM telegram_messages WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up message: %w", err)
	}
	return id, nil
}

// ExistingMessageIDs returns which of the candidate external message
// ids are already stored, one IN (...) query per chunk
func (s *Store) ExistingMessageIDs(ids []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	for start := 0; start < len(ids); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.Query(
			`SELECT message_id FROM telegram_messages WHERE message_id IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing messages: %w", err)
		}

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return existing, nil
}

// FilterNewMessageIDs returns the candidates not yet stored,
// preserving input order. Safe on empty input.
func (s *Store) FilterNewMessageIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	existing, err := s.ExistingMessageIDs(ids)
	if err != nil {
		return nil, err
	}

	fresh := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// MessageByExternalID loads a stored message with its hashtags
func (s *Store) MessageByExternalID(messageID int64) (*Message, error) {
	m := &Message{}
	var content, mediaURLs, createdAt, savedAt sql.NullString
	var chatID, views, forwards, replyTo sql.NullInt64

	err := s.db.QueryRow(`SELECT id, message_id, chat_id, content, content_type,
		media_urls, views, forwards, reply_to_msg_id, created_at, saved_at
		FROM telegram_messages WHERE message_id = ?`, messageID).Scan(
		&m.ID, &m.MessageID, &chatID, &content, &m.ContentType,
		&mediaURLs, &views, &forwards, &replyTo, &createdAt, &savedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}

	m.ChatID = chatID.Int64
	m.Content = content.String
	m.Views = views.Int64
	m.Forwards = forwards.Int64
	m.ReplyToMsgID = replyTo.Int64
	m.CreatedAt = parseStoredTime(createdAt.String)
	m.SavedAt = parseStoredTime(savedAt.String)

	if mediaURLs.Valid && mediaURLs.String != "" {
		if err := json.Unmarshal([]byte(mediaURLs.String), &m.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to decode media urls: %w", err)
		}
	}

	if m.Hashtags, err = s.stringColumn(
		`SELECT hashtag FROM telegram_hashtags WHERE message_id = ? ORDER BY id`, m.ID); err != nil {
		return nil, err
	}

	return m, nil
}

// RecentMessages returns stored messages, newest first
func (s *Store) RecentMessages(limit int) ([]*Message, error) {
	query := `SELECT id, message_id, content, content_type, views, forwards, created_at
		FROM telegram_messages ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanMessageSummaries(query, args...)
}

// MessagesByDateRange returns messages created inside [start, end],
// newest first
func (s *Store) MessagesByDateRange(start, end time.Time, limit int) ([]*Message, error) {
	query := `SELECT id, message_id, content, content_type, views, forwards, created_at
		FROM telegram_messages
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC`
	args := []interface{}{formatTime(start), formatTime(end)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanMessageSummaries(query, args...)
}

func (s *Store) scanMessageSummaries(query string, args ...interface{}) ([]*Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var content, createdAt sql.NullString
		var views, forwards sql.NullInt64
		if err := rows.Scan(&m.ID, &m.MessageID, &content, &m.ContentType,
			&views, &forwards, &createdAt); err != nil {
			return nil, err
		}
		m.Content = content.String
		m.Views = views.Int64
		m.Forwards = forwards.Int64
		m.CreatedAt = parseStoredTime(createdAt.String)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of stored messages
func (s *Store) CountMessages() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM telegram_messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
