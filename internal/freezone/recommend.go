package freezone

import (
	"sort"
	"strings"

	"github.com/ashureev/freezone-advisor/internal/slots"
)

// MaxRecommendations caps how many zones a suggestion names.
const MaxRecommendations = 3

// Slot names the recommender reads. Other slots are rendered but not scored.
const (
	SlotShareholders = "shareholders"
	SlotVisas        = "visas"
	SlotActivities   = "activities"
	SlotBudget       = "budget"
	SlotOffice       = "office_space"
)

// Recommender ranks a catalog against collected intake slots.
type Recommender struct {
	catalog []Zone
}

// NewRecommender returns a recommender over catalog. A nil catalog uses
// DefaultCatalog.
func NewRecommender(catalog []Zone) *Recommender {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	c := make([]Zone, len(catalog))
	copy(c, catalog)
	return &Recommender{catalog: c}
}

type scored struct {
	zone  Zone
	score int
	order int
}

// Rank returns up to MaxRecommendations zones, best fit first. Slots that are
// absent do not contribute to the score.
func (r *Recommender) Rank(values map[string]slots.SlotValue) []Zone {
	ranked := make([]scored, 0, len(r.catalog))
	for i, z := range r.catalog {
		ranked = append(ranked, scored{zone: z, score: fit(z, values), order: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	n := MaxRecommendations
	if len(ranked) < n {
		n = len(ranked)
	}
	out := make([]Zone, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].zone
	}
	return out
}

func fit(z Zone, values map[string]slots.SlotValue) int {
	score := 0
	if budget, ok := values[SlotBudget].Float(); ok {
		if budget >= z.SetupCost {
			score += 3
		} else {
			score -= 2
		}
	}
	if visas, ok := values[SlotVisas].Int(); ok && visas <= z.VisaQuota {
		score += 2
	}
	if office, ok := values[SlotOffice].Bool(); ok {
		if !office || z.Office {
			score++
		}
	}
	if act, ok := values[SlotActivities].Text(); ok {
		if m := z.activityMatches(act); m > 0 {
			score += 1 + min(m, 2)
		}
	}
	return score
}

// Suggest renders the intake summary followed by the ranked freezones. It has
// the slots.SuggestFunc signature and is pure: the same input always yields the
// same text.
func (r *Recommender) Suggest(schema slots.Schema, values map[string]slots.SlotValue) string {
	var b strings.Builder
	b.WriteString(slots.Summarize(schema, values))

	zones := r.Rank(values)
	if len(zones) == 0 {
		return b.String()
	}
	names := make([]string, len(zones))
	for i, z := range zones {
		names[i] = z.Name
	}
	b.WriteString("\n\nI suggest the following freezones: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".")
	return b.String()
}
