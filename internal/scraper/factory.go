// Package scraper dispatches a fetched page to the site-specific extractor
// whose signature set matches the URL or body, falling back to a generic
// extractor. Concrete site parsers are external collaborators; this package
// owns only the dispatch rule list and the fallback.
package scraper

import (
	"strings"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// Extractor turns fetched HTML into a ScrapeResult.
type Extractor interface {
	Extract(html, rawURL string) (model.ScrapeResult, error)
}

// Rule pairs a signature set (substrings checked against the URL and body)
// with the extractor to use when any signature matches.
type Rule struct {
	Signatures []string
	Extractor  Extractor
}

// Factory evaluates a linear, priority-ordered rule list, falling back to
// a fixed default extractor. No reflection or dynamic plugin loading.
type Factory struct {
	rules    []Rule
	fallback Extractor
}

// New builds a Factory. fallback is used when no rule's signatures match.
func New(fallback Extractor, rules ...Rule) *Factory {
	return &Factory{rules: rules, fallback: fallback}
}

// For selects the extractor for rawURL/html by substring signature match,
// in priority order.
func (f *Factory) For(rawURL, html string) Extractor {
	haystack := strings.ToLower(rawURL + " " + html)
	for _, rule := range f.rules {
		for _, sig := range rule.Signatures {
			if strings.Contains(haystack, strings.ToLower(sig)) {
				return rule.Extractor
			}
		}
	}
	return f.fallback
}
