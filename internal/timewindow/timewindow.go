// Package timewindow resolves symbolic recency tokens ("recent", "24h",
// "week", ...) into concrete cutoffs and provider-specific recency filters.
package timewindow

import (
	"strings"
	"time"
)

// Window is a resolved recency constraint.
type Window struct {
	Token          string        `json:"token"`
	Cutoff         time.Time     `json:"cutoff"`
	Span           time.Duration `json:"-"`
	RecencyDays    int           `json:"recency_days"`
	ProviderFilter string        `json:"provider_filter"` // day|week|month|year
	Description    string        `json:"description"`
}

const defaultToken = "week"

var spans = map[string]struct {
	span   time.Duration
	filter string
	desc   string
}{
	"24h":     {24 * time.Hour, "day", "the last 24 hours"},
	"day":     {24 * time.Hour, "day", "the last 24 hours"},
	"recent":  {48 * time.Hour, "day", "the last 48 hours"},
	"48h":     {48 * time.Hour, "day", "the last 48 hours"},
	"week":    {7 * 24 * time.Hour, "week", "the last 7 days"},
	"month":   {30 * 24 * time.Hour, "month", "the last 30 days"},
	"quarter": {90 * 24 * time.Hour, "month", "the last 90 days"},
	"year":    {365 * 24 * time.Hour, "year", "the last 12 months"},
}

// Resolve turns a symbolic token into a Window anchored at now. Unknown or
// empty tokens fall back to "week" rather than failing; the caller is never
// blocked on a vocabulary mismatch.
func Resolve(token string, now time.Time) Window {
	key := strings.ToLower(strings.TrimSpace(token))
	entry, ok := spans[key]
	if !ok {
		key = defaultToken
		entry = spans[defaultToken]
	}
	return Window{
		Token:          key,
		Cutoff:         now.Add(-entry.span),
		Span:           entry.span,
		RecencyDays:    int(entry.span / (24 * time.Hour)),
		ProviderFilter: entry.filter,
		Description:    entry.desc,
	}
}
