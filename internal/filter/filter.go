// Package filter narrows a source event sequence before reconciliation.
// Each predicate is pure and independent of the others, so applying them
// in any order yields the same result.
package filter

import (
	"strings"

	"calsync/internal/models"
)

// Options selects which predicates to apply.
type Options struct {
	// ExcludeAllDay drops events flagged as all-day.
	ExcludeAllDay bool
	// ExcludeDeclined drops events the current user has declined. Events
	// with no attendees are personal and never count as declined.
	ExcludeDeclined bool
	// ExcludeTitlePatterns drops events whose title contains any of these
	// patterns, matched case-insensitively.
	ExcludeTitlePatterns []string
}

// ParsePatterns splits a comma-separated pattern list as passed on the
// command line, trimming whitespace and dropping empty entries.
func ParsePatterns(csv string) []string {
	if csv == "" {
		return nil
	}
	var patterns []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// Apply returns the events that pass every enabled predicate, preserving
// input order.
func Apply(events []*models.Event, opts Options) []*models.Event {
	var kept []*models.Event
	for _, e := range events {
		if opts.ExcludeAllDay && e.AllDay {
			continue
		}
		if opts.ExcludeDeclined && e.DeclinedByUser() {
			continue
		}
		if matchesAny(e.Title, opts.ExcludeTitlePatterns) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func matchesAny(title string, patterns []string) bool {
	if title == "" || len(patterns) == 0 {
		return false
	}
	lower := strings.ToLower(title)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
