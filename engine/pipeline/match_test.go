package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

func TestMatch_ScopesBySourceAndRecency(t *testing.T) {
	items := newMemItems()
	old := item("old", "golang", "rota software?")
	old.CreatedAt = t0.AddDate(0, 0, -30)
	old.Embedding = []float32{1, 0, 0}
	fresh := item("fresh", "golang", "need a shift planner")
	fresh.Embedding = []float32{0.9, 0.1, 0}
	other := item("other", "rust", "rota software?")
	other.Embedding = []float32{1, 0, 0}
	if _, err := items.SaveItems(context.Background(), []domain.DiscoveredItem{old, fresh, other}); err != nil {
		t.Fatal(err)
	}
	m := NewMatcher(fakeEmbedder{vectors: vectors}, items.SimilarItems)

	all, err := m.Match(context.Background(), MatchQuery{Text: "shift scheduling"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[2].Item.ID != "fresh" {
		t.Fatalf("unscoped = %+v", all)
	}

	got, err := m.Match(context.Background(), MatchQuery{Text: "shift scheduling", SourceIDs: []string{"golang"}, Since: t0.AddDate(0, 0, -1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Item.ID != "fresh" {
		t.Fatalf("scoped = %+v", got)
	}

	got, _ = m.Match(context.Background(), MatchQuery{Text: "shift scheduling", Limit: 1})
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d results", len(got))
	}
}

func TestMatch_Validation(t *testing.T) {
	m := NewMatcher(fakeEmbedder{vectors: vectors}, newMemItems().SimilarItems)
	for name, q := range map[string]MatchQuery{
		"empty":    {Text: "  "},
		"negative": {Text: "rota", Limit: -1},
		"too many": {Text: "rota", Limit: MaxMatchLimit + 1},
	} {
		if _, err := m.Match(context.Background(), q); !errors.Is(err, domain.ErrInvalid) {
			t.Errorf("%s: expected invalid, got %v", name, err)
		}
	}
}

func TestMatch_EmbedFailure(t *testing.T) {
	m := NewMatcher(fakeEmbedder{fail: map[string]error{"rota": domain.ErrTransient}}, newMemItems().SimilarItems)
	if _, err := m.Match(context.Background(), MatchQuery{Text: "rota"}); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}
