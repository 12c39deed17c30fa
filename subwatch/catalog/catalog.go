// Package catalog holds the categorised keyword phrases that signal a
// subscription on a page. A Catalog is immutable once built: matching walks
// categories in declared order, then phrases in declared order, and the
// first phrase found anywhere in the page text wins.
package catalog

import "strings"

// Category is a named, ordered group of phrases.
type Category struct {
	Name    string   `json:"name" yaml:"name"`
	Phrases []string `json:"phrases" yaml:"phrases"`
}

// Match is the phrase that hit and the category it belongs to. Keyword is
// reported as declared, not lower-cased.
type Match struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
}

// Catalog is an ordered, read-only set of categories.
type Catalog struct {
	categories []Category
	// lowered mirrors categories with phrases already lower-cased.
	lowered [][]string
}

// New builds a Catalog from categories, copying them so later changes to the
// caller's slices have no effect. Blank phrases are dropped.
func New(categories ...Category) *Catalog {
	c := &Catalog{
		categories: make([]Category, 0, len(categories)),
		lowered:    make([][]string, 0, len(categories)),
	}
	for _, cat := range categories {
		phrases := make([]string, 0, len(cat.Phrases))
		lowered := make([]string, 0, len(cat.Phrases))
		for _, p := range cat.Phrases {
			if strings.TrimSpace(p) == "" {
				continue
			}
			phrases = append(phrases, p)
			lowered = append(lowered, strings.ToLower(p))
		}
		c.categories = append(c.categories, Category{Name: cat.Name, Phrases: phrases})
		c.lowered = append(c.lowered, lowered)
	}
	return c
}

// Default returns the built-in catalog: trial, confirmation, subscription,
// payment, in that order.
func Default() *Catalog {
	return New(
		Category{Name: "trial", Phrases: []string{
			"trial", "free trial", "start trial", "begin trial", "try free",
		}},
		Category{Name: "confirmation", Phrases: []string{
			"subscription confirmation",
			"order confirmation",
			"payment confirmation",
			"billing confirmation",
			"subscription activated",
			"subscription successful",
			"payment successful",
			"order successful",
		}},
		Category{Name: "subscription", Phrases: []string{
			"subscription",
			"subscribe",
			"subscription plan",
			"billing cycle",
			"recurring payment",
			"auto-renewal",
			"monthly subscription",
			"yearly subscription",
		}},
		Category{Name: "payment", Phrases: []string{
			"payment method",
			"billing information",
			"credit card",
			"debit card",
			"payment details",
			"billing address",
		}},
	)
}

// Match returns the first catalog phrase contained in pageText. The text is
// lower-cased here, so callers may pass it raw or already normalised.
func (c *Catalog) Match(pageText string) (Match, bool) {
	if c == nil || pageText == "" {
		return Match{}, false
	}
	text := strings.ToLower(pageText)
	for i, phrases := range c.lowered {
		for j, p := range phrases {
			if strings.Contains(text, p) {
				return Match{
					Keyword:  c.categories[i].Phrases[j],
					Category: c.categories[i].Name,
				}, true
			}
		}
	}
	return Match{}, false
}

// Categories returns a deep copy of the catalog in declared order.
func (c *Catalog) Categories() []Category {
	if c == nil {
		return nil
	}
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		out[i] = Category{Name: cat.Name, Phrases: append([]string(nil), cat.Phrases...)}
	}
	return out
}

// Len is the total number of phrases.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, p := range c.lowered {
		n += len(p)
	}
	return n
}
