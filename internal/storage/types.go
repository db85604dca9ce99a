package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrRuleExists  = errors.New("storage: reminder already has a rule")
	ErrTooFarAhead = errors.New("storage: fire time beyond the scheduling horizon")
)

// Config configures storage. Driver is "sqlite" (the default when empty).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
	// MaxHorizon caps how far ahead a reminder may be created; 0 means the
	// one-year default.
	MaxHorizon time.Duration
}

// NewReminder is the creation input. ID and CreatedAt are assigned by the
// store; Rule, when set, is inserted and attached in the same transaction.
type NewReminder struct {
	OwnerID        int64
	RecipientID    int64
	Text           string
	FireAt         time.Time
	Rule           *reminder.Rule
	Snoozed        bool
	SnoozeParentID *int64
}

// Store is the persistence gateway.
//
// Scheduling path:
//   - LoadDueBefore returns active reminders with FireAt strictly before the
//     horizon, ordered by (FireAt, ID), with rule and owner/recipient
//     timezones attached.
//   - SetFireAt / Archive persist the resolver's outcome after a delivery.
//
// Management path (the command surface):
//   - CreateReminder, Reminder, ListByOwner
//   - CreateRule / UpdateRule / DeleteRule (deleting makes the reminder
//     one-shot)
//   - SetTimezone / Timezone
type Store interface {
	LoadDueBefore(ctx context.Context, horizon time.Time) ([]*reminder.Reminder, error)
	SetFireAt(ctx context.Context, id int64, t time.Time) error
	Archive(ctx context.Context, id int64) error

	CreateReminder(ctx context.Context, in NewReminder) (*reminder.Reminder, error)
	Reminder(ctx context.Context, id int64) (*reminder.Reminder, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*reminder.Reminder, error)

	CreateRule(ctx context.Context, reminderID int64, r *reminder.Rule) (int64, error)
	UpdateRule(ctx context.Context, ruleID int64, r *reminder.Rule) error
	DeleteRule(ctx context.Context, ruleID int64) error

	SetTimezone(ctx context.Context, userID int64, tz string) error
	Timezone(ctx context.Context, userID int64) (string, error)

	Close() error
}
