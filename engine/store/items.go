package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// ActiveSources lists the sources discovery should poll, ordered by ID.
func (s *Store) ActiveSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active
		FROM sources
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Active); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// SaveItems inserts items in one transaction. Items whose ID already exists
// are left as they are, except that a stored NULL embedding is filled in when
// the new copy carries a vector. An item without an embedding is stored with
// a NULL vector and never appears in similarity search. Returns how many rows
// were inserted or back-filled.
func (s *Store) SaveItems(ctx context.Context, items []domain.DiscoveredItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	for _, it := range items {
		if err := domain.ValidateItem(it); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovered_items (
			id,
			source_id,
			author,
			title,
			body,
			score,
			num_comments,
			permalink,
			category,
			summary,
			created_at,
			embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
		WHERE discovered_items.embedding IS NULL AND EXCLUDED.embedding IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			it.ID,
			it.SourceID,
			it.Author,
			it.Title,
			it.Body,
			it.Score,
			it.NumComments,
			it.Permalink,
			it.Category,
			it.Summary,
			it.CreatedAt.UTC(),
			vectorOrNull(it.Embedding),
		)
		if err != nil {
			return 0, fmt.Errorf("insert item %s: %w", it.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// SimilarItems returns the items nearest to vec by cosine distance, skipping
// items stored without an embedding.
func (s *Store) SimilarItems(ctx context.Context, vec []float32, f domain.ItemFilter) ([]domain.ItemMatch, error) {
	if len(vec) == 0 {
		return nil, domain.NewValidationError("embedding", "", domain.ErrInvalid)
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}
	var since sql.NullTime
	if !f.Since.IsZero() {
		since = sql.NullTime{Time: f.Since.UTC(), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			source_id,
			author,
			title,
			body,
			score,
			num_comments,
			permalink,
			created_at,
			1 - (embedding <=> $1) AS similarity
		FROM discovered_items
		WHERE embedding IS NOT NULL
			AND (cardinality($2::text[]) = 0 OR source_id = ANY($2))
			AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(vec), pq.Array(nonNil(f.SourceIDs)), since, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	var out []domain.ItemMatch
	for rows.Next() {
		var m domain.ItemMatch
		if err := rows.Scan(
			&m.Item.ID,
			&m.Item.SourceID,
			&m.Item.Author,
			&m.Item.Title,
			&m.Item.Body,
			&m.Item.Score,
			&m.Item.NumComments,
			&m.Item.Permalink,
			&m.Item.CreatedAt,
			&m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

// vectorOrNull returns a nil pointer for a missing embedding so the driver
// writes NULL.
func vectorOrNull(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
