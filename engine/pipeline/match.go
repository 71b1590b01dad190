package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// TextEmbedder embeds a single query text.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// SearchFunc returns the items nearest to vec. Both the Postgres store's
// SimilarItems and the vector index's Search have this shape.
type SearchFunc func(ctx context.Context, vec []float32, f domain.ItemFilter) ([]domain.ItemMatch, error)

// MatchQuery is a relevance query over discovered items.
type MatchQuery struct {
	Text      string    `json:"text"`
	SourceIDs []string  `json:"source_ids,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Matcher finds the discovered items most similar to a text.
type Matcher struct {
	emb    TextEmbedder
	search SearchFunc
}

// NewMatcher creates a Matcher.
func NewMatcher(emb TextEmbedder, search SearchFunc) *Matcher {
	return &Matcher{emb: emb, search: search}
}

// MaxMatchLimit caps MatchQuery.Limit.
const MaxMatchLimit = 100

// Match embeds q.Text and returns the nearest items that have a vector,
// closest first. Items whose embedding failed are never returned.
func (m *Matcher) Match(ctx context.Context, q MatchQuery) ([]domain.ItemMatch, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, domain.NewValidationError("text", "", domain.ErrInvalid)
	}
	if q.Limit < 0 || q.Limit > MaxMatchLimit {
		return nil, domain.NewValidationError("limit", fmt.Sprint(q.Limit), domain.ErrInvalid)
	}
	vec, err := m.emb.EmbedText(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := m.search(ctx, vec, domain.ItemFilter{SourceIDs: q.SourceIDs, Since: q.Since, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	return matches, nil
}
