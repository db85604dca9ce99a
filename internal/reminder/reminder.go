package reminder

import "time"

// Status is the lifecycle state of a reminder.
//
// Archived is terminal: archived reminders are kept for history/listing but
// are never scheduled again.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Reminder is a scheduled message for a user.
//
// FireAt is the only field the scheduling engine mutates; it is always UTC
// and never moves backwards over the reminder's lifetime.
type Reminder struct {
	ID          int64
	OwnerID     int64
	RecipientID int64
	Text        string
	FireAt      time.Time
	Status      Status
	Snoozed     bool
	// SnoozeParentID links a one-off snooze copy to its canonical reminder.
	SnoozeParentID *int64

	// Rule is nil for one-shot reminders.
	Rule *Rule

	// OwnerTZ / RecipientTZ are IANA zone names ("" if the user never set one).
	// The store attaches them eagerly so the resolver never does I/O.
	OwnerTZ     string
	RecipientTZ string

	CreatedAt time.Time
}

// Relayed reports whether the reminder was created for someone else.
func (r *Reminder) Relayed() bool { return r.OwnerID != r.RecipientID }

// OwnerLocation resolves the owner's timezone, falling back to UTC.
// Calendar-anchored rules are rejected at creation time when the owner has
// no timezone, so the fallback only ever applies to interval rules where
// the location is irrelevant.
func (r *Reminder) OwnerLocation() *time.Location {
	if r.OwnerTZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.OwnerTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
