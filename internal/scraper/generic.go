package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// GenericExtractor is the fixed fallback used when no site-specific rule
// matches. It looks for lines of visible text shaped like
// "<day-name> <time> <class name>", the common rendering of a gym's class
// schedule, without any site-specific selector knowledge.
type GenericExtractor struct {
	DefaultLocationName string
	DefaultTimezone     string
}

// NewGenericExtractor builds a GenericExtractor. defaultLocationName and
// defaultTimezone are attached to the single Location this extractor always
// produces, since it has no way to distinguish multiple locations on a page.
func NewGenericExtractor(defaultLocationName, defaultTimezone string) *GenericExtractor {
	return &GenericExtractor{DefaultLocationName: defaultLocationName, DefaultTimezone: defaultTimezone}
}

var scheduleLineRe = regexp.MustCompile(
	`(?i)(monday|tuesday|wednesday|thursday|friday|saturday|sunday|today|tomorrow)\s+` +
		`(\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2})\s+` +
		`([^\n\r]{1,80})`,
)

// Extract implements Extractor.
func (g *GenericExtractor) Extract(html, rawURL string) (model.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	text := html
	if err == nil {
		text = doc.Text()
	}

	org := model.Organization{Name: rawURL, WebsiteURL: rawURL}
	location := model.Location{
		OrganizationRef: org.Ref(),
		Name:            g.DefaultLocationName,
		IANATimezone:    g.DefaultTimezone,
	}

	var classes []model.Class
	matches := scheduleLineRe.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		day := m[1]
		timeTok := strings.TrimSpace(m[2])
		name := strings.TrimSpace(m[3])
		if name == "" {
			continue
		}
		classes = append(classes, model.Class{
			LocationRef:  location.Ref(),
			Name:         name,
			StartTimeRaw: day + " " + timeTok,
		})
	}

	return model.ScrapeResult{
		Organization: org,
		Locations:    []model.Location{location},
		Classes:      classes,
	}, nil
}

var _ Extractor = (*GenericExtractor)(nil)
