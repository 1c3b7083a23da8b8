package models

import "time"

// ParticipationStatus is the current user's response to an event invitation.
type ParticipationStatus int

const (
	StatusUnknown ParticipationStatus = iota
	StatusPending
	StatusAccepted
	StatusDeclined
	StatusTentative
)

func (s ParticipationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusDeclined:
		return "declined"
	case StatusTentative:
		return "tentative"
	default:
		return "unknown"
	}
}

// Availability is how an event blocks time on the destination calendar.
type Availability int

const (
	AvailabilityBusy Availability = iota
	AvailabilityFree
)

// Availability maps a participation status to the destination marking:
// declined events show as free, everything else as busy.
func (s ParticipationStatus) Availability() Availability {
	if s == StatusDeclined {
		return AvailabilityFree
	}
	return AvailabilityBusy
}

// Attendee is a single invitee on an event.
type Attendee struct {
	Email         string
	Status        ParticipationStatus
	IsCurrentUser bool
}

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	Title     string    // Summary or title of the event; may be empty
	StartTime time.Time // Start time of the event
	EndTime   time.Time // End time of the event
	Location  string    // Location of the event
	AllDay    bool      // Whether the event spans whole days
	Notes     string    // Free-text description of the event
	Attendees []Attendee
	UID       string // Destination-store object identity, set on events read back from the store
}

// UserParticipation reports the current user's participation in the event.
// An event with no attendees is a personal event and counts as accepted.
// If the attendee list is non-empty but the current user is not on it,
// the invitation is still pending.
func (e *Event) UserParticipation() ParticipationStatus {
	if len(e.Attendees) == 0 {
		return StatusAccepted
	}
	for _, a := range e.Attendees {
		if a.IsCurrentUser {
			return a.Status
		}
	}
	return StatusPending
}

// DeclinedByUser reports whether the current user has declined the event.
func (e *Event) DeclinedByUser() bool {
	for _, a := range e.Attendees {
		if a.IsCurrentUser {
			return a.Status == StatusDeclined
		}
	}
	return false
}
