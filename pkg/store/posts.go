package store

import (
	"database/sql"
	"fmt"
	"time"
)

const instagramPostBaseURL = "https://instagram.com/p/"

// UpsertPost inserts or updates a post and its hashtag/mention rows in
// one transaction. When the shortcode already exists and forceUpdate
// is false the call is a no-op returning the existing row id, so a
// concurrent run that raced past the pre-filter still cannot create a
// duplicate. With forceUpdate the mutable fields (caption, counts,
// media) are refreshed.
func (s *Store) UpsertPost(p *Post, forceUpdate bool) (int64, bool, error) {
	if p.Shortcode == "" {
		return 0, false, fmt.Errorf("post shortcode is required")
	}
	if p.PostURL == "" {
		p.PostURL = instagramPostBaseURL + p.Shortcode
	}
	if p.Source == "" {
		p.Source = "saved"
	}

	var id int64
	var created bool

	err := s.withTx(func(tx *sql.Tx) error {
		existing, err := postIDByShortcode(tx, p.Shortcode)
		if err != nil {
			return err
		}

		if existing == 0 {
			res, err := tx.Exec(`INSERT INTO instagram_posts (
				shortcode, post_url, owner_username, owner_id, caption,
				is_video, media_url, typename, likes, comments,
				is_saved, source, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Shortcode, p.PostURL, nullIfEmpty(p.OwnerUsername), nullIfZero(p.OwnerID),
				nullIfEmpty(p.Caption), p.IsVideo, nullIfEmpty(p.MediaURL),
				nullIfEmpty(p.Typename), p.Likes, p.Comments,
				p.IsSaved, p.Source, formatTime(p.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to insert post %s: %w", p.Shortcode, err)
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
			if _, err := tx.Exec(`UPDATE instagram_posts SET
				caption = ?, is_video = ?, media_url = ?, typename = ?,
				likes = ?, comments = ?, is_saved = ?,
				fetched_at = CURRENT_TIMESTAMP
				WHERE id = ?`,
				nullIfEmpty(p.Caption), p.IsVideo, nullIfEmpty(p.MediaURL),
				nullIfEmpty(p.Typename), p.Likes, p.Comments, p.IsSaved, id); err != nil {
				return fmt.Errorf("failed to update post %s: %w", p.Shortcode, err)
			}
		}

		for _, tag := range p.Hashtags {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO instagram_hashtags (post_id, hashtag)
				VALUES (?, ?)`, id, tag); err != nil {
				return fmt.Errorf("failed to insert hashtag: %w", err)
			}
		}
		for _, mention := range p.Mentions {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO instagram_mentions (post_id, username)
				VALUES (?, ?)`, id, mention); err != nil {
				return fmt.Errorf("failed to insert mention: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return id, created, nil
}

func postIDByShortcode(tx *sql.Tx, shortcode string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM instagram_posts WHERE shortcode = ?`, shortcode).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up post: %w", err)
	}
	return id, nil
}

// ExistingPostCodes returns which of the candidate shortcodes are
// already stored, using one IN (...) query per chunk of candidates
// instead of a query per code
func (s *Store) ExistingPostCodes(codes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(codes) == 0 {
		return existing, nil
	}

	for start := 0; start < len(codes); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(codes) {
			end = len(codes)
		}
		chunk := codes[start:end]

		args := make([]interface{}, len(chunk))
		for i, c := range chunk {
			args[i] = c
		}

		rows, err := s.db.Query(
			`SELECT shortcode FROM instagram_posts WHERE shortcode IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing posts: %w", err)
		}

		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, err
			}
			existing[code] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return existing, nil
}

// FilterNewPostCodes returns the candidates not yet stored, preserving
// input order. Safe on empty input.
func (s *Store) FilterNewPostCodes(codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	existing, err := s.ExistingPostCodes(codes)
	if err != nil {
		return nil, err
	}

	fresh := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if _, ok := existing[code]; !ok {
			fresh = append(fresh, code)
		}
	}
	return fresh, nil
}

// PostByShortcode loads a stored post with its hashtags and mentions
func (s *Store) PostByShortcode(shortcode string) (*Post, error) {
	p := &Post{}
	var ownerUsername, caption, mediaURL, typename sql.NullString
	var ownerID, likes, comments sql.NullInt64
	var createdAt, fetchedAt sql.NullString

	err := s.db.QueryRow(`SELECT id, shortcode, post_url, owner_username, owner_id,
		caption, is_video, media_url, typename, likes, comments, is_saved, source,
		created_at, fetched_at
		FROM instagram_posts WHERE shortcode = ?`, shortcode).Scan(
		&p.ID, &p.Shortcode, &p.PostURL, &ownerUsername, &ownerID,
		&caption, &p.IsVideo, &mediaURL, &typename, &likes, &comments,
		&p.IsSaved, &p.Source, &createdAt, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	p.OwnerUsername = ownerUsername.String
	p.OwnerID = ownerID.Int64
	p.Caption = caption.String
	p.MediaURL = mediaURL.String
	p.Typename = typename.String
	p.Likes = likes.Int64
	p.Comments = comments.Int64
	p.CreatedAt = parseStoredTime(createdAt.String)
	p.FetchedAt = parseStoredTime(fetchedAt.String)

	if p.Hashtags, err = s.stringColumn(
		`SELECT hashtag FROM instagram_hashtags WHERE post_id = ? ORDER BY id`, p.ID); err != nil {
		return nil, err
	}
	if p.Mentions, err = s.stringColumn(
		`SELECT username FROM instagram_mentions WHERE post_id = ? ORDER BY id`, p.ID); err != nil {
		return nil, err
	}

	return p, nil
}

// PostsByHashtag returns posts carrying the given hashtag, newest
// first
func (s *Store) PostsByHashtag(hashtag string, limit int) ([]*Post, error) {
	query := `SELECT p.id, p.shortcode, p.post_url, p.owner_username, p.caption,
		p.is_video, p.likes, p.comments, p.created_at
		FROM instagram_posts p
		JOIN instagram_hashtags h ON p.id = h.post_id
		WHERE h.hashtag = ?
		ORDER BY p.created_at DESC`
	args := []interface{}{hashtag}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanPostSummaries(query, args...)
}

// RecentPosts returns stored posts, newest first
func (s *Store) RecentPosts(limit int) ([]*Post, error) {
	query := `SELECT id, shortcode, post_url, owner_username, caption,
		is_video, likes, comments, created_at
		FROM instagram_posts ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanPostSummaries(query, args...)
}

// PostsByDateRange returns posts created inside [start, end], newest
// first
func (s *Store) PostsByDateRange(start, end time.Time, limit int) ([]*Post, error) {
	query := `SELECT id, shortcode, post_url, owner_username, caption,
		is_video, likes, comments, created_at
		FROM instagram_posts
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC`
	args := []interface{}{formatTime(start), formatTime(end)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.scanPostSummaries(query, args...)
}

func (s *Store) scanPostSummaries(query string, args ...interface{}) ([]*Post, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p := &Post{}
		var ownerUsername, caption, createdAt sql.NullString
		var likes, comments sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Shortcode, &p.PostURL, &ownerUsername,
			&caption, &p.IsVideo, &likes, &comments, &createdAt); err != nil {
			return nil, err
		}
		p.OwnerUsername = ownerUsername.String
		p.Caption = caption.String
		p.Likes = likes.Int64
		p.Comments = comments.Int64
		p.CreatedAt = parseStoredTime(createdAt.String)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CountPosts returns the number of stored posts
func (s *Store) CountPosts() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM instagram_posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

func (s *Store) stringColumn(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
