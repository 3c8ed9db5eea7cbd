// Package extract turns free-text chat messages into raw slot values for the
// slot engine.
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/freezone-advisor/internal/slots"
)

var numberWords = map[string]int{
	"zero": 0, "no": 0, "none": 0,
	"one": 1, "a": 1, "an": 1, "single": 1,
	"two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

const countPattern = `(\d+|zero|no|none|one|a|an|single|two|three|four|five|six|seven|eight|nine|ten)`

var (
	shareholdersRe = regexp.MustCompile(`(?i)\b` + countPattern + `\s+(?:share\s?holders?|partners?|owners?|founders?|directors?)\b`)
	soleOwnerRe    = regexp.MustCompile(`(?i)\b(?:sole|only|single)\s+(?:owner|shareholder|founder)\b|\bjust\s+me\b`)
	visasRe        = regexp.MustCompile(`(?i)\b` + countPattern + `\s+(?:residence\s+|employment\s+|investor\s+|employee\s+)?visas?\b`)
	budgetRe       = regexp.MustCompile(`(?i)(?:budget|cost|spend|afford)\D{0,20}?(\d[\d,]*(?:\.\d+)?)\s*(k)?\b`)
	currencyRe     = regexp.MustCompile(`(?i)\b(?:aed|dhs?|dirhams?)\s*(\d[\d,]*(?:\.\d+)?)\s*(k)?\b|(\d[\d,]*(?:\.\d+)?)\s*(k)?\s*(?:aed|dhs?|dirhams?)\b`)
	noOfficeRe     = regexp.MustCompile(`(?i)\b(?:no|without|don'?t\s+need(?:\s+an?)?|do\s+not\s+need(?:\s+an?)?)\s+(?:physical\s+)?office\b|\b(?:virtual|flexi[\s-]?desk|remote(?:ly)?|work\s+from\s+home)\b`)
	officeRe       = regexp.MustCompile(`(?i)\b(?:need|want|require|looking\s+for)\s+(?:an?\s+)?(?:physical\s+|dedicated\s+|private\s+)?office\b|\bphysical\s+office\b`)
	bareNumberRe   = regexp.MustCompile(`(?i)\b(\d[\d,]*(?:\.\d+)?)\s*(k)?\b`)
	bareWordRe     = regexp.MustCompile(`(?i)\b(zero|none|one|single|two|three|four|five|six|seven|eight|nine|ten)\b`)
	yesRe          = regexp.MustCompile(`(?i)^\s*(?:yes|yeah|yep|sure|of\s+course|i\s+do|we\s+do|needed|required)\b`)
	noRe           = regexp.MustCompile(`(?i)^\s*(?:no|nope|not\s+really|i\s+don'?t|we\s+don'?t|not\s+needed|not\s+required)\b`)
)

var activityKeywords = []string{
	"consulting", "general trading", "trading", "e-commerce", "ecommerce",
	"marketing", "media", "software", "it services", "manufacturing",
	"logistics", "import", "export", "real estate", "tourism", "education",
	"healthcare", "restaurant", "retail", "crypto", "gold", "shipping",
	"design", "events", "content creation", "freelance",
}

// Rules is a deterministic extractor built from regular expressions. Besides
// explicit phrases such as "3 visas" it attributes bare answers ("2", "yes")
// to the slot the assistant asked for on the previous turn.
type Rules struct{}

// NewRules returns a rule-based extractor.
func NewRules() *Rules { return &Rules{} }

// Extract implements slots.Extractor. Only names declared by schema are
// returned.
func (r *Rules) Extract(_ context.Context, text string, schema slots.Schema, history []slots.Turn) (map[string]any, error) {
	out := make(map[string]any)
	explicit := false
	set := func(name string, v any) {
		explicit = true
		if _, ok := schema.Lookup(name); ok {
			out[name] = v
		}
	}

	if m := shareholdersRe.FindStringSubmatch(text); m != nil {
		set("shareholders", parseCount(m[1]))
	} else if soleOwnerRe.MatchString(text) {
		set("shareholders", 1)
	}
	if m := visasRe.FindStringSubmatch(text); m != nil {
		set("visas", parseCount(m[1]))
	}
	if v, ok := findBudget(text); ok {
		set("budget", v)
	}
	switch {
	case noOfficeRe.MatchString(text):
		set("office_space", false)
	case officeRe.MatchString(text):
		set("office_space", true)
	}
	if acts := findActivities(text); acts != "" {
		set("activities", acts)
	}

	// A message that names any slot explicitly is not a bare answer.
	if explicit {
		return out, nil
	}
	asked := (&slots.Session{History: history}).LastAskedFor()
	if asked == "" {
		return out, nil
	}
	d, ok := schema.Lookup(asked)
	if !ok {
		return out, nil
	}
	if v, ok := bareAnswer(d, text); ok {
		out[asked] = v
	}
	return out, nil
}

// bareAnswer reads text as a direct reply to a question about d.
func bareAnswer(d slots.Definition, text string) (any, bool) {
	switch d.Type {
	case slots.TypeInt:
		if m := bareNumberRe.FindStringSubmatch(text); m != nil {
			return strings.ReplaceAll(m[1], ",", ""), true
		}
		if m := bareWordRe.FindStringSubmatch(text); m != nil {
			return parseCount(m[1]), true
		}
	case slots.TypeFloat:
		if m := bareNumberRe.FindStringSubmatch(text); m != nil {
			return parseAmount(m[1], m[2]), true
		}
	case slots.TypeBool:
		if noRe.MatchString(text) {
			return false, true
		}
		if yesRe.MatchString(text) {
			return true, true
		}
	case slots.TypeString:
		if s := strings.TrimSpace(text); s != "" {
			return s, true
		}
	}
	return nil, false
}

func findBudget(text string) (float64, bool) {
	if m := currencyRe.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			return parseAmount(m[1], m[2]), true
		}
		return parseAmount(m[3], m[4]), true
	}
	if m := budgetRe.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1], m[2]), true
	}
	return 0, false
}

func findActivities(text string) string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range activityKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		dup := false
		for _, f := range found {
			if strings.Contains(f, kw) {
				dup = true
				break
			}
		}
		if !dup {
			found = append(found, kw)
		}
	}
	return strings.Join(found, ", ")
}

func parseCount(s string) int {
	if n, ok := numberWords[strings.ToLower(s)]; ok {
		return n
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func parseAmount(num, suffix string) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return -1
	}
	if suffix != "" {
		f *= 1000
	}
	return f
}
