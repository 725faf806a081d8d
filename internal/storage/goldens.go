package storage

import (
	"database/sql"
	"fmt"
)

// SaveGolden inserts a curated example. Duplicates by content hash update
// the verified triage and curation time and drop any stale embedding.
func (s *Store) SaveGolden(g GoldenExample) error {
	_, err := s.db.Exec(`
		INSERT INTO golden_examples (id, redacted_text, content_hash, triage_json,
			embedding, embed_model, source_job_id, curated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			triage_json = excluded.triage_json,
			source_job_id = excluded.source_job_id,
			curated_at = excluded.curated_at,
			embedding = NULL,
			embed_model = ''`,
		g.ID, g.RedactedText, g.ContentHash, g.TriageJSON,
		g.Embedding, g.EmbedModel, g.SourceJobID, formatTime(g.CuratedAt),
	)
	if err != nil {
		return fmt.Errorf("saving golden example: %w", err)
	}
	return nil
}

// ListGoldens returns every curated example, most recently curated first.
func (s *Store) ListGoldens() ([]GoldenExample, error) {
	rows, err := s.db.Query(`
		SELECT id, redacted_text, content_hash, triage_json, embedding,
			embed_model, source_job_id, curated_at
		FROM golden_examples ORDER BY curated_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []GoldenExample
	for rows.Next() {
		var g GoldenExample
		var embedding []byte
		var curatedAt string
		if err := rows.Scan(&g.ID, &g.RedactedText, &g.ContentHash, &g.TriageJSON,
			&embedding, &g.EmbedModel, &g.SourceJobID, &curatedAt); err != nil {
			return nil, err
		}
		g.Embedding = embedding
		if g.CuratedAt, err = parseTime(curatedAt); err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

// SetGoldenEmbedding stores the vector and the model that produced it.
func (s *Store) SetGoldenEmbedding(id string, embedding []byte, model string) error {
	res, err := s.db.Exec(`
		UPDATE golden_examples SET embedding = ?, embed_model = ? WHERE id = ?`,
		embedding, model, id,
	)
	if err != nil {
		return fmt.Errorf("storing golden embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetGoldenByHash looks up a curated example by its content hash.
func (s *Store) GetGoldenByHash(contentHash string) (GoldenExample, error) {
	var g GoldenExample
	var embedding []byte
	var curatedAt string
	err := s.db.QueryRow(`
		SELECT id, redacted_text, content_hash, triage_json, embedding,
			embed_model, source_job_id, curated_at
		FROM golden_examples WHERE content_hash = ?`, contentHash,
	).Scan(&g.ID, &g.RedactedText, &g.ContentHash, &g.TriageJSON,
		&embedding, &g.EmbedModel, &g.SourceJobID, &curatedAt)
	if err == sql.ErrNoRows {
		return GoldenExample{}, ErrNotFound
	}
	if err != nil {
		return GoldenExample{}, err
	}
	g.Embedding = embedding
	if g.CuratedAt, err = parseTime(curatedAt); err != nil {
		return GoldenExample{}, err
	}
	return g, nil
}
