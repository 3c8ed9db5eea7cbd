// Package freezone holds the freezone catalog and turns a completed intake
// into a recommendation.
package freezone

import "strings"

// Zone is one entry of the recommendation catalog. Costs are indicative
// starting prices for a licence package in AED.
type Zone struct {
	Name       string
	Emirate    string
	SetupCost  float64
	VisaQuota  int64
	Office     bool
	Activities []string
}

func (z Zone) activityMatches(activities string) int {
	text := strings.ToLower(activities)
	n := 0
	for _, kw := range z.Activities {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// DefaultCatalog is the built-in catalog in preference order. Ties in ranking
// are broken by this order.
func DefaultCatalog() []Zone {
	return []Zone{
		{
			Name:       "IFZA",
			Emirate:    "Dubai",
			SetupCost:  12900,
			VisaQuota:  6,
			Office:     true,
			Activities: []string{"consult", "trading", "general trading", "e-commerce", "marketing", "software", "technology"},
		},
		{
			Name:       "Meydan Free Zone",
			Emirate:    "Dubai",
			SetupCost:  12500,
			VisaQuota:  6,
			Office:     false,
			Activities: []string{"consult", "e-commerce", "media", "events", "marketing"},
		},
		{
			Name:       "RAKEZ",
			Emirate:    "Ras Al Khaimah",
			SetupCost:  11500,
			VisaQuota:  9,
			Office:     true,
			Activities: []string{"manufactur", "industrial", "trading", "logistics", "consult"},
		},
		{
			Name:       "SHAMS",
			Emirate:    "Sharjah",
			SetupCost:  5750,
			VisaQuota:  1,
			Office:     false,
			Activities: []string{"media", "content", "creative", "publishing", "freelanc"},
		},
		{
			Name:       "DMCC",
			Emirate:    "Dubai",
			SetupCost:  34000,
			VisaQuota:  15,
			Office:     true,
			Activities: []string{"commodit", "gold", "trading", "crypto", "shipping"},
		},
		{
			Name:       "Ajman Free Zone",
			Emirate:    "Ajman",
			SetupCost:  6500,
			VisaQuota:  3,
			Office:     true,
			Activities: []string{"trading", "e-commerce", "services", "consult"},
		},
	}
}
