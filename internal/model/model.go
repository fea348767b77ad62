// Package model defines the entity shapes shared across the fetch-validate-retry
// pipeline: organizations, locations, classes, and the small set of result
// types each component hands to the next.
package model

import "time"

// Organization is identity-anchored on WebsiteURL.
type Organization struct {
	Name       string
	WebsiteURL string
}

// Ref returns the identity key for this organization.
func (o Organization) Ref() string { return o.WebsiteURL }

// Location belongs to an Organization; identity under that organization is Name.
type Location struct {
	OrganizationRef string
	Name            string
	Address         string
	IANATimezone    string
}

// Ref returns the identity key for this location under its organization.
func (l Location) Ref() string { return l.OrganizationRef + "|" + l.Name }

// Class belongs to a Location; identity under that location is (StartInstantUTC, Name).
// StartTimeRaw/EndTimeRaw hold the as-extracted local time strings until the
// normalizer resolves them; StartInstantUTC/EndInstantUTC are populated on
// successful normalization.
type Class struct {
	LocationRef     string
	Name            string
	StartTimeRaw    string
	EndTimeRaw      string
	StartInstantUTC time.Time
	EndInstantUTC   time.Time
	Instructor      string
	SpotsTotal      int

	// Normalized is false until the normalizer successfully resolves
	// StartInstantUTC from StartTimeRaw. A Class must never be persisted with
	// Normalized == false.
	Normalized bool
}

// IdempotencyKey returns the tuple identifying this class's row for upsert
// purposes. Callers must not persist a class whose StartInstantUTC is zero.
func (c Class) IdempotencyKey() (locationRef string, startUTC time.Time, name string) {
	return c.LocationRef, c.StartInstantUTC, c.Name
}

// ScrapeResult is what an extractor produces from one fetched page. Classes
// carry raw local time strings until the normalizer runs.
type ScrapeResult struct {
	Organization Organization
	Locations    []Location
	Classes      []Class
}

// FetchMethod distinguishes the two fetch-layer paths.
type FetchMethod string

const (
	FetchMethodLight   FetchMethod = "light"
	FetchMethodBrowser FetchMethod = "browser"
)

// FetchResult is the outcome of a single fetch attempt. When Method is
// FetchMethodBrowser, PageHandle and ContextHandle are both populated and the
// caller owns disposal of ContextHandle.
type FetchResult struct {
	Body          string
	StatusCode    int
	Method        FetchMethod
	Headers       map[string][]string
	PageHandle    BrowserPage
	ContextHandle BrowserContext
}

// RetryHint directs the orchestrator's single retry attempt.
type RetryHint string

const (
	RetryHintNone            RetryHint = ""
	RetryHintPaginateForward RetryHint = "paginate-forward"
	RetryHintWaitLonger      RetryHint = "wait-longer"
	RetryHintSwitchToBrowser RetryHint = "switch-to-browser"
	RetryHintReAuthenticate  RetryHint = "re-authenticate"
)

// ValidatorReport is the validator's verdict on a ScrapeResult.
type ValidatorReport struct {
	Valid      bool
	Confidence float64
	Signals    []string
	RetryHint  RetryHint
}

// DayAPIMethod is the HTTP method used by a discovered day pattern.
type DayAPIMethod string

const (
	DayAPIMethodGET  DayAPIMethod = "GET"
	DayAPIMethodPOST DayAPIMethod = "POST"
)

// DayAPIPattern is a request template discovered from observed traffic, with
// a "{{date}}" placeholder substituted per replay.
type DayAPIPattern struct {
	URLTemplate  string
	Method       DayAPIMethod
	DateParam    string
	BodyTemplate string
	Headers      map[string]string
	// DateFormat records which shape the discovered date value had
	// (DateFormatISO/US/EpochSeconds/EpochMillis), so a replay can render
	// "{{date}}" back into the format the original API expects instead of
	// unconditionally emitting ISO 8601.
	DateFormat DateFormat
}

// DateFormat names the shape a discovered date-valued field was matched in.
type DateFormat string

const (
	DateFormatISO          DateFormat = "iso"
	DateFormatUS           DateFormat = "us"
	DateFormatEpochSeconds DateFormat = "epoch_seconds"
	DateFormatEpochMillis  DateFormat = "epoch_millis"
)

// Plan is produced by the optional LLM navigation planner.
type Plan struct {
	ScheduleSelector   string `json:"schedule_selector"`
	NextButtonSelector string `json:"next_button_selector"`
	LoadMoreSelector   string `json:"load_more_selector"`
	AuthWallDetected   bool   `json:"auth_wall_detected"`
}

// SessionState is the session manager's view of authentication status.
type SessionState string

const (
	SessionStateLoggedIn  SessionState = "logged-in"
	SessionStateLoggedOut SessionState = "logged-out"
	SessionStateUnknown   SessionState = "unknown"
)

// BrowserPage and BrowserContext are narrow handles to a borrowed browser
// page/context, owned by the browser pool external collaborator. The core
// never reaches into engine internals through these; it only passes them
// back across interface boundaries (validator DOM probes, context disposal).
type BrowserPage interface {
	// URL returns the page's current navigated URL, or "" if none.
	URL() string
}

type BrowserContext interface {
	// Close disposes the context. Safe to call more than once.
	Close() error
}

// OrchestratorResult is returned by a completed orchestrator run.
type OrchestratorResult struct {
	OrganizationRef string
	LocationRefs    []string
	ClassesUpserted int
}

// DayReplayResult is the outcome of one day's parallel replay.
type DayReplayResult struct {
	Date       string
	Success    bool
	StatusCode int
	Err        error
}
