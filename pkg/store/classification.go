package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// SaveClassification writes one verdict row plus its flattened detail
// rows in a single transaction and returns the analysis id. Provider
// and model columns are filled from LLMMetadata when not set
// explicitly.
func (s *Store) SaveClassification(c *Classification) (int64, error) {
	if c.ContentSource == "" || c.ClassifierName == "" || c.Label == "" {
		return 0, fmt.Errorf("classification needs source, classifier and label")
	}
	if c.ClassificationType == "" {
		c.ClassificationType = "single"
	}

	provider, model := c.LLMProvider, c.LLMModel
	var metadataJSON interface{}
	if len(c.LLMMetadata) > 0 {
		if provider == "" {
			if v, ok := c.LLMMetadata["provider"].(string); ok {
				provider = v
			}
		}
		if model == "" {
			if v, ok := c.LLMMetadata["model"].(string); ok {
				model = v
			}
		}
		encoded, err := json.Marshal(c.LLMMetadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode llm metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO content_analysis (
			content_id, content_source, classifier_name, classification_type,
			run_id, label, confidence, reasoning, llm_provider, llm_model, llm_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ContentID, c.ContentSource, c.ClassifierName, c.ClassificationType,
			nullIfEmpty(c.RunID), c.Label, c.Confidence, nullIfEmpty(c.Reasoning),
			nullIfEmpty(provider), nullIfEmpty(model), metadataJSON)
		if err != nil {
			return fmt.Errorf("failed to insert classification: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		return insertDetails(tx, id, c.Details)
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

func insertDetails(tx *sql.Tx, analysisID int64, details map[string]interface{}) error {
	flat := FlattenDetails(details)
	if len(flat) == 0 {
		return nil
	}

	// Deterministic insert order keeps failures reproducible
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := tx.Exec(`INSERT INTO analysis_details (analysis_id, key, value)
			VALUES (?, ?, ?)`, analysisID, key, flat[key]); err != nil {
			return fmt.Errorf("failed to insert detail %q: %w", key, err)
		}
	}
	return nil
}

// FlattenDetails flattens nested maps into dot-separated keys with
// JSON-encoded leaf values
func FlattenDetails(details map[string]interface{}) map[string]string {
	out := make(map[string]string, len(details))

	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := v.(map[string]interface{}); ok {
				walk(key, nested)
				continue
			}
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(encoded)
		}
	}
	walk("", details)

	return out
}

// HasClassification reports whether the item already has a verdict by
// this classifier. An empty model matches any model; a non-empty model
// matches that model only. Backed by the lookup index so the pending
// scan stays cheap.
func (s *Store) HasClassification(contentID int64, source, classifier, model string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM content_analysis
		WHERE content_id = ? AND content_source = ? AND classifier_name = ?`
	args := []interface{}{contentID, source, classifier}
	if model != "" {
		query += ` AND llm_model = ?`
		args = append(args, model)
	}
	query += `)`

	var exists bool
	if err := s.db.QueryRow(query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check classification: %w", err)
	}
	return exists, nil
}

// LatestClassificationID returns the most recent analysis id for the
// item/classifier pair, or 0 when none exists
func (s *Store) LatestClassificationID(contentID int64, source, classifier, model string) (int64, error) {
	query := `SELECT id FROM content_analysis
		WHERE content_id = ? AND content_source = ? AND classifier_name = ?`
	args := []interface{}{contentID, source, classifier}
	if model != "" {
		query += ` AND llm_model = ?`
		args = append(args, model)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var id int64
	err := s.db.QueryRow(query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find classification: %w", err)
	}
	return id, nil
}

// UpdateClassification rewrites an existing verdict in place,
// replacing its detail rows
func (s *Store) UpdateClassification(analysisID int64, c *Classification) error {
	provider, model := c.LLMProvider, c.LLMModel
	var metadataJSON interface{}
	if len(c.LLMMetadata) > 0 {
		if provider == "" {
			if v, ok := c.LLMMetadata["provider"].(string); ok {
				provider = v
			}
		}
		if model == "" {
			if v, ok := c.LLMMetadata["model"].(string); ok {
				model = v
			}
		}
		encoded, err := json.Marshal(c.LLMMetadata)
		if err != nil {
			return fmt.Errorf("failed to encode llm metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE content_analysis SET
			label = ?, confidence = ?, reasoning = ?,
			llm_provider = COALESCE(?, llm_provider),
			llm_model = COALESCE(?, llm_model),
			llm_metadata = COALESCE(?, llm_metadata),
			analyzed_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			c.Label, c.Confidence, nullIfEmpty(c.Reasoning),
			nullIfEmpty(provider), nullIfEmpty(model), metadataJSON, analysisID)
		if err != nil {
			return fmt.Errorf("failed to update classification: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("classification %d not found", analysisID)
		}

		if _, err := tx.Exec(`DELETE FROM analysis_details WHERE analysis_id = ?`, analysisID); err != nil {
			return fmt.Errorf("failed to clear details: %w", err)
		}
		return insertDetails(tx, analysisID, c.Details)
	})
}

// ClassificationsFor returns all verdicts for an item, optionally
// filtered by classifier and run id, each with its details re-grouped
func (s *Store) ClassificationsFor(contentID int64, source, classifier, runID string) ([]*Classification, error) {
	query := `SELECT ca.id, ca.content_id, ca.content_source, ca.classifier_name,
		ca.classification_type, ca.run_id, ca.label, ca.confidence, ca.reasoning,
		ca.llm_provider, ca.llm_model, ca.llm_metadata, ca.analyzed_at,
		ad.key, ad.value
		FROM content_analysis ca
		LEFT JOIN analysis_details ad ON ca.id = ad.analysis_id
		WHERE ca.content_id = ? AND ca.content_source = ?`
	args := []interface{}{contentID, source}
	if classifier != "" {
		query += ` AND ca.classifier_name = ?`
		args = append(args, classifier)
	}
	if runID != "" {
		query += ` AND ca.run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY ca.id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications: %w", err)
	}
	defer rows.Close()

	var results []*Classification
	byID := make(map[int64]*Classification)

	for rows.Next() {
		var id, cid int64
		var csource, cname, ctype, label string
		var confidence float64
		var run, reasoning, provider, model, meta sql.NullString
		var analyzedAt, detailKey, detailValue sql.NullString

		if err := rows.Scan(&id, &cid, &csource, &cname, &ctype, &run, &label,
			&confidence, &reasoning, &provider, &model, &meta, &analyzedAt,
			&detailKey, &detailValue); err != nil {
			return nil, err
		}

		c, ok := byID[id]
		if !ok {
			c = &Classification{
				ID:                 id,
				ContentID:          cid,
				ContentSource:      csource,
				ClassifierName:     cname,
				ClassificationType: ctype,
				RunID:              run.String,
				Label:              label,
				Confidence:         confidence,
				Reasoning:          reasoning.String,
				LLMProvider:        provider.String,
				LLMModel:           model.String,
				AnalyzedAt:         parseStoredTime(analyzedAt.String),
				Details:            make(map[string]interface{}),
			}
			if meta.Valid && meta.String != "" {
				if err := json.Unmarshal([]byte(meta.String), &c.LLMMetadata); err != nil {
					return nil, fmt.Errorf("failed to decode llm metadata: %w", err)
				}
			}
			byID[id] = c
			results = append(results, c)
		}

		if detailKey.Valid && detailValue.Valid {
			var value interface{}
			if err := json.Unmarshal([]byte(detailValue.String), &value); err != nil {
				value = detailValue.String
			}
			c.Details[detailKey.String] = value
		}
	}

	return results, rows.Err()
}

// PendingClassification returns items with non-empty text that the
// given classifier has not labeled yet. Source must be one of the
// Source* constants.
func (s *Store) PendingClassification(source, classifier string, limit int) ([]PendingItem, error) {
	var query string
	switch source {
	case SourceInstagram:
		query = `SELECT p.id, p.caption FROM instagram_posts p
			WHERE p.caption IS NOT NULL AND p.caption != ''
			AND NOT EXISTS (
				SELECT 1 FROM content_analysis ca
				WHERE ca.content_id = p.id
				AND ca.content_source = 'instagram'
				AND ca.classifier_name = ?
			)
			ORDER BY p.id`
	case SourceTelegram:
		query = `SELECT m.id, m.content FROM telegram_messages m
			WHERE m.content IS NOT NULL AND m.content != ''
			AND NOT EXISTS (
				SELECT 1 FROM content_analysis ca
				WHERE ca.content_id = m.id
				AND ca.content_source = 'telegram'
				AND ca.classifier_name = ?
			)
			ORDER BY m.id`
	default:
		return nil, fmt.Errorf("unknown content source %q", source)
	}

	args := []interface{}{classifier}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	var pending []PendingItem
	for rows.Next() {
		item := PendingItem{Source: source}
		if err := rows.Scan(&item.ContentID, &item.Text); err != nil {
			return nil, err
		}
		pending = append(pending, item)
	}
	return pending, rows.Err()
}

// TextItems returns every item with non-empty text for a source,
// labeled or not. Force re-classification runs walk this list instead
// of the pending one.
func (s *Store) TextItems(source string, limit int) ([]PendingItem, error) {
	var query string
	switch source {
	case SourceInstagram:
		query = `SELECT id, caption FROM instagram_posts
			WHERE caption IS NOT NULL AND caption != ''
			ORDER BY id`
	case SourceTelegram:
		query = `SELECT id, content FROM telegram_messages
			WHERE content IS NOT NULL AND content != ''
			ORDER BY id`
	default:
		return nil, fmt.Errorf("unknown content source %q", source)
	}

	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query text items: %w", err)
	}
	defer rows.Close()

	var items []PendingItem
	for rows.Next() {
		item := PendingItem{Source: source}
		if err := rows.Scan(&item.ContentID, &item.Text); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountClassifications returns the number of stored verdicts
func (s *Store) CountClassifications() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM content_analysis`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count classifications: %w", err)
	}
	return n, nil
}
