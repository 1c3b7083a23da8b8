package models

import (
	"fmt"
	"strings"
)

// CalendarNotFoundError is returned when a named calendar cannot be resolved
// on a provider. Available lists the calendar names the provider does know
// about, for diagnostics.
type CalendarNotFoundError struct {
	Name      string
	Available []string
}

func (e *CalendarNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("calendar %q not found", e.Name)
	}
	return fmt.Sprintf("calendar %q not found, available calendars: %s", e.Name, strings.Join(e.Available, ", "))
}
