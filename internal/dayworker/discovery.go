// Package dayworker discovers date-parameterized API patterns by observing
// a page's own XHR/fetch traffic, then replays a pattern across a week of
// dates concurrently.
package dayworker

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// ObservedRequest is one captured XHR/fetch request, gathered by a request
// observer attached to a page before navigation.
type ObservedRequest struct {
	URL     string
	Method  model.DayAPIMethod
	Headers map[string]string
	Body    string
}

var excludedHeaders = map[string]struct{}{
	"host": {}, "content-length": {}, "transfer-encoding": {}, "connection": {}, "cookie": {},
}

func copyHeaders(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		lower := strings.ToLower(k)
		if _, excluded := excludedHeaders[lower]; excluded {
			continue
		}
		if strings.HasPrefix(lower, "sec-fetch-") {
			continue
		}
		out[k] = v
	}
	return out
}

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	usDateRe    = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
	epochDateRe = regexp.MustCompile(`\b(\d{10,13})\b`)
)

// matchDate tries to recognize value as a date string, returning the
// matched substring and the format it was recognized in if so.
func matchDate(value string) (string, model.DateFormat, bool) {
	if isoDateRe.MatchString(value) {
		return isoDateRe.FindString(value), model.DateFormatISO, true
	}
	if usDateRe.MatchString(value) {
		return usDateRe.FindString(value), model.DateFormatUS, true
	}
	if epochDateRe.MatchString(value) {
		match := epochDateRe.FindString(value)
		if looksLikeEpoch(match) {
			format := model.DateFormatEpochSeconds
			if len(match) == 13 {
				format = model.DateFormatEpochMillis
			}
			return match, format, true
		}
	}
	return "", "", false
}

func looksLikeEpoch(s string) bool {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false
	}
	// 10-digit epoch seconds span roughly 2001-2286; 13-digit epoch millis
	// the same range. Reject obviously-wrong magnitudes.
	switch len(s) {
	case 10:
		return n > 1_000_000_000 && n < 4_000_000_000
	case 13:
		return n > 1_000_000_000_000 && n < 4_000_000_000_000
	}
	return false
}

// DiscoverPattern scans observed requests for a date-valued query parameter
// or JSON body field and builds a DayAPIPattern with "{{date}}" substituted
// for the matched value. The first request that yields a match wins.
func DiscoverPattern(requests []ObservedRequest) (model.DayAPIPattern, bool) {
	for _, req := range requests {
		if pattern, ok := discoverFromURL(req); ok {
			return pattern, true
		}
		if pattern, ok := discoverFromBody(req); ok {
			return pattern, true
		}
	}
	return model.DayAPIPattern{}, false
}

func discoverFromURL(req ObservedRequest) (model.DayAPIPattern, bool) {
	u := req.URL
	qIdx := strings.IndexByte(u, '?')
	if qIdx < 0 {
		return model.DayAPIPattern{}, false
	}
	base, query := u[:qIdx], u[qIdx+1:]
	pairs := strings.Split(query, "&")
	for i, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if _, format, ok := matchDate(kv[1]); ok {
			dateParam := kv[0]
			pairs[i] = dateParam + "={{date}}"
			return model.DayAPIPattern{
				URLTemplate: base + "?" + strings.Join(pairs, "&"),
				Method:      req.Method,
				DateParam:   dateParam,
				Headers:     copyHeaders(req.Headers),
				DateFormat:  format,
			}, true
		}
	}
	return model.DayAPIPattern{}, false
}

func discoverFromBody(req ObservedRequest) (model.DayAPIPattern, bool) {
	if req.Body == "" || !gjson.Valid(req.Body) {
		return model.DayAPIPattern{}, false
	}
	var dottedPath string
	var format model.DateFormat
	gjson.Parse(req.Body).ForEach(func(key, value gjson.Result) bool {
		if path, f, ok := scanForDate(key.String(), value); ok {
			dottedPath = path
			format = f
			return false
		}
		return true
	})
	if dottedPath == "" {
		return model.DayAPIPattern{}, false
	}
	return model.DayAPIPattern{
		URLTemplate:  req.URL,
		Method:       req.Method,
		DateParam:    dottedPath,
		BodyTemplate: substituteJSONPath(req.Body, dottedPath),
		Headers:      copyHeaders(req.Headers),
		DateFormat:   format,
	}, true
}

func scanForDate(prefix string, value gjson.Result) (string, model.DateFormat, bool) {
	if value.Type == gjson.String {
		if _, format, ok := matchDate(value.String()); ok {
			return prefix, format, true
		}
		return "", "", false
	}
	if value.IsObject() {
		var found string
		var format model.DateFormat
		value.ForEach(func(key, child gjson.Result) bool {
			path := prefix + "." + key.String()
			if p, f, ok := scanForDate(path, child); ok {
				found = p
				format = f
				return false
			}
			return true
		})
		if found != "" {
			return found, format, true
		}
	}
	return "", "", false
}

// substituteJSONPath is a best-effort textual replacement of the date value
// at dottedPath with the "{{date}}" placeholder, sufficient for a template
// whose placeholder is substituted textually per replay rather than parsed
// back.
func substituteJSONPath(body, dottedPath string) string {
	result := gjson.Get(body, dottedPath)
	if !result.Exists() {
		return body
	}
	return strings.Replace(body, `"`+result.String()+`"`, `"{{date}}"`, 1)
}

// FormatDate renders t back into the format the discovered pattern's date
// field was originally observed in. US and epoch formats are only
// approximated from a day-granularity time.Time (epoch renders t's own
// instant, so a midnight-UTC weekStart gives midnight UTC for each date); a
// pattern with no recorded format falls back to ISO 8601.
func FormatDate(t time.Time, format model.DateFormat) string {
	switch format {
	case model.DateFormatUS:
		return t.Format("01/02/2006")
	case model.DateFormatEpochSeconds:
		return strconv.FormatInt(t.Unix(), 10)
	case model.DateFormatEpochMillis:
		return strconv.FormatInt(t.UnixMilli(), 10)
	default:
		return t.Format("2006-01-02")
	}
}
