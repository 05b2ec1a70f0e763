package normalizer

import (
	"regexp"
	"strings"
)

// Rule assigns Slug to a line item whose text contains one of Keywords as a
// whole word. A trailing plural "s" is accepted.
type Rule struct {
	Slug     string
	Keywords []string
}

// DefaultRules is evaluated top to bottom and the first match wins. Filler
// precedes tox so a filler line item filed under a neuromodulator brand's
// category is still a filler.
var DefaultRules = []Rule{
	{Slug: "filler", Keywords: []string{
		"filler", "dermal filler", "juvederm", "juvéderm", "restylane", "radiesse", "sculptra",
		"rha", "belotero", "versa", "voluma", "volbella", "vollure", "kysse", "defyne", "refyne",
		"lip augmentation", "cheek augmentation",
	}},
	{Slug: "tox", Keywords: []string{
		"tox", "botox", "dysport", "xeomin", "jeuveau", "daxxify", "letybo",
		"neurotoxin", "neuromodulator", "lip flip", "masseter",
	}},
	{Slug: "skin-boosters", Keywords: []string{"skin booster", "skinvive", "profhilo", "polynucleotide"}},
	{Slug: "microneedling", Keywords: []string{"microneedling", "micro-needling", "micro needling", "skinpen", "collagen induction", "morpheus8"}},
	{Slug: "prp", Keywords: []string{"prp", "prf", "platelet rich plasma", "vampire"}},
	{Slug: "chemical-peel", Keywords: []string{"chemical peel", "peel", "vi peel"}},
	{Slug: "hydrafacial", Keywords: []string{"hydrafacial", "hydra facial"}},
	{Slug: "laser-hair-removal", Keywords: []string{"laser hair removal", "hair removal", "lhr"}},
	{Slug: "laser-resurfacing", Keywords: []string{"resurfacing", "fraxel", "co2", "moxi", "halo", "erbium"}},
	{Slug: "ipl", Keywords: []string{"ipl", "bbl", "photofacial", "intense pulsed light"}},
	{Slug: "body-contouring", Keywords: []string{"body contouring", "coolsculpting", "emsculpt", "kybella", "sculpsure"}},
	{Slug: "facials", Keywords: []string{"facial", "dermaplaning", "dermaplane", "oxygen facial"}},
	{Slug: "iv-therapy", Keywords: []string{"iv", "iv therapy", "iv drip", "drip", "nad+", "vitamin injection", "b12"}},
	{Slug: "consultation", Keywords: []string{"consult", "consultation"}},
}

type compiledRule struct {
	slug    string
	pattern *regexp.Regexp
}

// Classifier maps service names to slugs using an ordered rule table.
type Classifier struct {
	rules []compiledRule
}

// NewClassifier compiles rules, keeping their order.
func NewClassifier(rules []Rule) *Classifier {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		alts := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			alts = append(alts, regexp.QuoteMeta(strings.ToLower(k)))
		}
		c.rules = append(c.rules, compiledRule{
			slug:    r.Slug,
			pattern: regexp.MustCompile(`(^|[^a-z0-9])(?:` + strings.Join(alts, "|") + `)s?($|[^a-z0-9])`),
		})
	}
	return c
}

// Classify returns the slug for a line item, or nil when nothing matches.
// The service name is scanned on its own first, then together with the
// category name.
func (c *Classifier) Classify(serviceName, categoryName string) *string {
	name := normalizeText(serviceName)
	if slug := c.match(name); slug != nil {
		return slug
	}
	category := normalizeText(categoryName)
	if category == "" {
		return nil
	}
	return c.match(name + " " + category)
}

func (c *Classifier) match(text string) *string {
	if text == "" {
		return nil
	}
	for _, r := range c.rules {
		if r.pattern.MatchString(text) {
			slug := r.slug
			return &slug
		}
	}
	return nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
