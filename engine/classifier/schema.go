package classifier

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// wireLead mirrors one entry of the service response. Pointers distinguish
// missing fields from zero values.
type wireLead struct {
	Actor         *string   `json:"actor"`
	Score         *float64  `json:"score"`
	Summary       *string   `json:"summary"`
	BuyingSignals *[]string `json:"buying_signals"`
	PainPoints    *[]string `json:"pain_points"`
}

type wireResponse struct {
	Leads *[]wireLead `json:"leads"`
}

// parseResponse validates raw service output against the response schema and
// converts it to typed classifications. Any violation is domain.ErrMalformed.
func parseResponse(raw string) ([]domain.Classification, error) {
	body := cleanResponse(raw)
	if body == "" {
		return nil, domain.Malformed("classification", "empty response")
	}

	var entries []wireLead
	if strings.HasPrefix(body, "[") {
		if err := strictDecode(body, &entries); err != nil {
			return nil, domain.Malformed("classification", "decode: %v", err)
		}
	} else {
		var resp wireResponse
		if err := strictDecode(body, &resp); err != nil {
			return nil, domain.Malformed("classification", "decode: %v", err)
		}
		if resp.Leads == nil {
			return nil, domain.Malformed("classification", "missing leads array")
		}
		entries = *resp.Leads
	}

	out := make([]domain.Classification, 0, len(entries))
	for i, e := range entries {
		c, err := validateEntry(i, e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func strictDecode(body string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func validateEntry(i int, e wireLead) (domain.Classification, error) {
	switch {
	case e.Actor == nil || strings.TrimSpace(*e.Actor) == "":
		return domain.Classification{}, domain.Malformed("classification", "entry %d: missing actor", i)
	case e.Score == nil:
		return domain.Classification{}, domain.Malformed("classification", "entry %d (%s): missing score", i, *e.Actor)
	case *e.Score < 0 || *e.Score > 100 || *e.Score != float64(int(*e.Score)):
		return domain.Classification{}, domain.Malformed("classification", "entry %d (%s): score %v not an integer in 0-100", i, *e.Actor, *e.Score)
	case e.Summary == nil:
		return domain.Classification{}, domain.Malformed("classification", "entry %d (%s): missing summary", i, *e.Actor)
	case e.BuyingSignals == nil:
		return domain.Classification{}, domain.Malformed("classification", "entry %d (%s): missing buying_signals", i, *e.Actor)
	case e.PainPoints == nil:
		return domain.Classification{}, domain.Malformed("classification", "entry %d (%s): missing pain_points", i, *e.Actor)
	}
	return domain.Classification{
		Actor:         strings.TrimSpace(*e.Actor),
		Score:         int(*e.Score),
		Summary:       strings.TrimSpace(*e.Summary),
		BuyingSignals: phrases(*e.BuyingSignals),
		PainPoints:    phrases(*e.PainPoints),
	}, nil
}

// phrases trims entries and drops blanks, keeping order.
func phrases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
