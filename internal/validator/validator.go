// Package validator cross-checks an extracted ScrapeResult against
// independent page signals and emits a confidence score plus a retry hint.
package validator

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milesc-bot/gym-scraper/internal/metrics"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

// Page is the narrow live-DOM surface the validator needs, satisfied by a
// borrowed browser page when one is available.
type Page interface {
	OuterHTML(ctx context.Context) (string, error)
}

// Validator runs the five independent checks in a fixed order and combines
// them.
type Validator struct{}

// New builds a Validator.
func New() *Validator { return &Validator{} }

type checkOutcome struct {
	factor float64
	signal string
	hint   model.RetryHint
}

// Validate runs every applicable check against result and html (the raw
// fetched body), using page for DOM-dependent checks if non-nil.
func (v *Validator) Validate(ctx context.Context, result model.ScrapeResult, html string, page Page) model.ValidatorReport {
	var outcomes []checkOutcome
	outcomes = append(outcomes, countPlausibility(result))
	outcomes = append(outcomes, contentCoherence(result))
	outcomes = append(outcomes, duplicateRatio(result))

	if page != nil {
		if pag, ok := paginationState(ctx, page); ok {
			outcomes = append(outcomes, pag)
		}
		if wall, ok := authWallPage(ctx, page); ok {
			outcomes = append(outcomes, wall)
		}
	}
	if wall, ok := authWallHTML(html); ok {
		outcomes = append(outcomes, wall)
	}

	confidence := 1.0
	var signals []string
	var hint model.RetryHint
	for _, o := range outcomes {
		confidence *= o.factor
		if o.signal != "" {
			signals = append(signals, o.signal)
		}
		if hint == model.RetryHintNone && o.hint != model.RetryHintNone {
			hint = o.hint
		}
	}

	metrics.ObserveValidatorConfidence(confidence)

	return model.ValidatorReport{
		Valid:      confidence >= 0.5,
		Confidence: confidence,
		Signals:    signals,
		RetryHint:  hint,
	}
}

func countPlausibility(result model.ScrapeResult) checkOutcome {
	n := len(result.Classes)
	switch {
	case n == 0:
		return checkOutcome{factor: 0.1, signal: "zero classes extracted", hint: model.RetryHintWaitLonger}
	case n < 3:
		return checkOutcome{factor: 0.5, signal: "fewer than 3 classes extracted", hint: model.RetryHintPaginateForward}
	default:
		return checkOutcome{factor: 1.0}
	}
}

var garbageCharsRe = regexp.MustCompile(`[<>{}\[\]\\]`)

func contentCoherence(result model.ScrapeResult) checkOutcome {
	if len(result.Classes) == 0 {
		return checkOutcome{factor: 1.0}
	}
	var garbled int
	for _, c := range result.Classes {
		if garbageCharsRe.MatchString(c.Name) {
			garbled++
		}
	}
	ratio := float64(garbled) / float64(len(result.Classes))
	switch {
	case ratio > 0.3:
		return checkOutcome{factor: 0.2, signal: "over 30% of class names contain garbage characters", hint: model.RetryHintSwitchToBrowser}
	case garbled > 0:
		return checkOutcome{factor: 0.7, signal: "some class names contain garbage characters"}
	default:
		return checkOutcome{factor: 1.0}
	}
}

func duplicateRatio(result model.ScrapeResult) checkOutcome {
	if len(result.Classes) == 0 {
		return checkOutcome{factor: 1.0}
	}
	seen := make(map[string]struct{}, len(result.Classes))
	for _, c := range result.Classes {
		key := c.Name + "|" + c.StartTimeRaw
		seen[key] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(len(result.Classes))
	switch {
	case ratio < 0.3:
		return checkOutcome{factor: 0.2, signal: "unique-class ratio below 0.3", hint: model.RetryHintWaitLonger}
	case ratio < 0.5:
		return checkOutcome{factor: 0.6, signal: "unique-class ratio below 0.5"}
	default:
		return checkOutcome{factor: 1.0}
	}
}

var paginationWords = []string{"next", "forward", "tomorrow", "next day", "next week", "→", "›", "»"}

func paginationState(ctx context.Context, page Page) (checkOutcome, bool) {
	html, err := page.OuterHTML(ctx)
	if err != nil {
		return checkOutcome{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return checkOutcome{}, false
	}
	found := false
	doc.Find("a, button").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if _, disabled := sel.Attr("disabled"); disabled {
			return true
		}
		text := strings.ToLower(sel.Text())
		aria, _ := sel.Attr("aria-label")
		title, _ := sel.Attr("title")
		haystack := text + " " + strings.ToLower(aria) + " " + strings.ToLower(title)
		for _, word := range paginationWords {
			if strings.Contains(haystack, word) {
				found = true
				return false
			}
		}
		return true
	})
	if !found {
		return checkOutcome{}, false
	}
	return checkOutcome{factor: 0.7, signal: "pagination control detected", hint: model.RetryHintPaginateForward}, true
}

func authWallPage(ctx context.Context, page Page) (checkOutcome, bool) {
	html, err := page.OuterHTML(ctx)
	if err != nil {
		return checkOutcome{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return checkOutcome{}, false
	}
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return checkOutcome{factor: 0.1, signal: "password input present", hint: model.RetryHintReAuthenticate}, true
	}
	return checkOutcome{}, false
}

var authWallPhrases = []string{"sign in", "log in", "enter your password", "authentication required"}

func authWallHTML(html string) (checkOutcome, bool) {
	lower := strings.ToLower(html)
	count := 0
	for _, phrase := range authWallPhrases {
		if strings.Contains(lower, phrase) {
			count++
		}
	}
	if count >= 2 {
		return checkOutcome{factor: 0.4, signal: "multiple auth-wall phrases present", hint: model.RetryHintReAuthenticate}, true
	}
	return checkOutcome{}, false
}
