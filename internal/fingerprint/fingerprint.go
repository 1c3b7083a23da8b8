// Package fingerprint derives stable content-based identities for calendar
// events and encodes them into the notes of destination events. The
// fingerprint is the only cross-run matching key the syncer has: no state
// is kept between runs, so identity must be recoverable from the event
// itself and from the marker written into the destination.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"calsync/internal/models"
)

// markerPrefix tags destination events managed by the syncer. Destination
// events whose notes do not start with this prefix are foreign and are
// never touched.
const markerPrefix = "SOURCE_ID: "

// untitled substitutes an empty title so that title-less events still
// fingerprint deterministically.
const untitled = "Untitled"

// Fingerprint returns the identity of an event, derived from its title,
// start and end times. Timestamps are rendered in UTC RFC 3339 so the same
// instant fingerprints identically regardless of host timezone or locale.
func Fingerprint(e *models.Event) string {
	title := e.Title
	if title == "" {
		title = untitled
	}
	start := e.StartTime.UTC().Format(time.RFC3339)
	end := e.EndTime.UTC().Format(time.RFC3339)
	sum := md5.Sum([]byte(title + "|" + start + "|" + end))
	return hex.EncodeToString(sum[:])
}

// FormatMarker builds the notes value for a destination event: the marker
// line carrying fp, followed by the source event's description.
func FormatMarker(fp, description string) string {
	return fmt.Sprintf("%s%s\n%s", markerPrefix, fp, description)
}

// ParseMarker extracts the fingerprint and the original description from a
// destination event's notes. ok is false when the notes do not carry a
// well-formed marker, which marks the event as foreign.
func ParseMarker(notes string) (fp, description string, ok bool) {
	if !strings.HasPrefix(notes, markerPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(notes, markerPrefix)
	line, description, found := strings.Cut(rest, "\n")
	if !found {
		line = rest
		description = ""
	}
	fp = strings.TrimSpace(line)
	if fp == "" {
		return "", "", false
	}
	return fp, description, true
}
