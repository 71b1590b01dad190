package classifier

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/grouper"
)

const systemPrompt = `You qualify sales leads for one business. You receive the business's product
context and, for each external user ("actor"), the interactions the business's
account has had with them.

For EVERY actor in the input return exactly one entry. Never add actors that are
not in the input. Respond with JSON only, no prose, in this exact shape:

{"leads":[{"actor":"<handle exactly as given>","score":<integer 0-100>,
"summary":"<2-3 sentence summary of the conversation>",
"buying_signals":["<short phrase>", ...],"pain_points":["<short phrase>", ...]}]}

Score 0 means no fit, 100 means ready to buy. Use empty arrays when there are no
signals or pain points.`

// TenantContext is the business context a tenant's batch is classified against.
type TenantContext struct {
	TenantID       string   `json:"-"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Keywords       []string `json:"keywords"`
	TargetAudience string   `json:"target_audience"`
}

// ContextFor builds the classification context from an active tenant's website.
func ContextFor(t domain.ActiveTenant) TenantContext {
	return TenantContext{
		TenantID:       t.TenantID,
		Name:           t.Website.Name,
		Description:    t.Website.Description,
		Keywords:       t.Website.Keywords,
		TargetAudience: t.Website.TargetAudience,
	}
}

type promptInteraction struct {
	Kind    domain.InteractionKind `json:"kind"`
	At      time.Time              `json:"at"`
	Content string                 `json:"content"`
}

type promptActor struct {
	Actor        string              `json:"actor"`
	Interactions []promptInteraction `json:"interactions"`
}

type promptInput struct {
	Product TenantContext `json:"product"`
	Actors  []promptActor `json:"actors"`
}

// buildPrompt renders the user message for one tenant's batch. Interaction
// content is truncated to maxChars runes.
func buildPrompt(tc TenantContext, groups []grouper.ActorGroup, maxChars int) (string, error) {
	in := promptInput{Product: tc, Actors: make([]promptActor, 0, len(groups))}
	for _, g := range groups {
		pa := promptActor{Actor: g.Key.Actor}
		for _, e := range g.Events {
			pa.Interactions = append(pa.Interactions, promptInteraction{
				Kind:    e.Kind,
				At:      e.At.UTC(),
				Content: truncate(e.Content, maxChars),
			})
		}
		in.Actors = append(in.Actors, pa)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// cleanResponse strips markdown code fences some models wrap JSON in.
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
