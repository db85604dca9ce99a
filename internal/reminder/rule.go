package reminder

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrBadInterval      = errors.New("recurrence interval must be positive")
	ErrEmptyDaySet      = errors.New("recurrence day set must not be empty")
	ErrDayOutOfRange    = errors.New("recurrence day out of range")
	ErrTimezoneRequired = errors.New("calendar recurrence requires a timezone")
	ErrBadYearDay       = errors.New("invalid month/day for yearly recurrence")
)

// RuleKind discriminates the closed set of recurrence variants.
type RuleKind int

const (
	// KindBasic advances by a fixed duration (hours or days).
	KindBasic RuleKind = iota
	// KindConditioned anchors to the owner's local calendar.
	KindConditioned
)

// Unit is the step unit of a basic rule.
type Unit int

const (
	UnitHour Unit = iota
	UnitDay
)

// Cond selects the calendar anchor of a conditioned rule.
type Cond int

const (
	// CondWeekdays fires on a set of weekdays (0=Sunday .. 6=Saturday).
	CondWeekdays Cond = iota
	// CondMonthdays fires on a set of month days (1..31), clamped in short months.
	CondMonthdays
	// CondYearDay fires once a year on a fixed month/day.
	CondYearDay
)

// Rule describes how a reminder's fire instant advances after each delivery.
//
// Exactly one variant is populated, selected by Kind (and Cond for
// conditioned rules). Constructors validate, so a Rule obtained from them is
// safe to resolve without re-checking.
type Rule struct {
	ID   int64
	Kind RuleKind

	// Basic variant.
	Interval int
	Unit     Unit

	// Conditioned variant.
	Cond      Cond
	Weekdays  []int // sorted, unique, 0..6
	Monthdays []int // sorted, unique, 1..31
	YearMonth time.Month
	YearDay   int

	// EndsAt stops the rule: an occurrence at or past this instant archives
	// the reminder instead of firing.
	EndsAt *time.Time
}

// NewBasicRule builds an interval rule. No timezone is involved.
func NewBasicRule(interval int, unit Unit) (*Rule, error) {
	if interval <= 0 {
		return nil, ErrBadInterval
	}
	if unit != UnitHour && unit != UnitDay {
		return nil, fmt.Errorf("unknown interval unit %d", unit)
	}
	return &Rule{Kind: KindBasic, Interval: interval, Unit: unit}, nil
}

// NewWeekdayRule builds a rule firing on the given weekdays (0=Sunday..6).
// tz is the owner's timezone and must be set; day boundaries are resolved in it.
func NewWeekdayRule(days []int, tz string) (*Rule, error) {
	if tz == "" {
		return nil, ErrTimezoneRequired
	}
	norm, err := normalizeDays(days, 0, 6)
	if err != nil {
		return nil, err
	}
	return &Rule{Kind: KindConditioned, Cond: CondWeekdays, Weekdays: norm}, nil
}

// NewMonthdayRule builds a rule firing on the given days of the month (1..31).
func NewMonthdayRule(days []int, tz string) (*Rule, error) {
	if tz == "" {
		return nil, ErrTimezoneRequired
	}
	norm, err := normalizeDays(days, 1, 31)
	if err != nil {
		return nil, err
	}
	return &Rule{Kind: KindConditioned, Cond: CondMonthdays, Monthdays: norm}, nil
}

// NewYearDayRule builds a rule firing yearly on a fixed month/day.
func NewYearDayRule(month time.Month, day int, tz string) (*Rule, error) {
	if tz == "" {
		return nil, ErrTimezoneRequired
	}
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return nil, ErrBadYearDay
	}
	return &Rule{Kind: KindConditioned, Cond: CondYearDay, YearMonth: month, YearDay: day}, nil
}

// Validate re-checks a rule loaded from storage (or built by hand).
func (r *Rule) Validate() error {
	switch r.Kind {
	case KindBasic:
		if r.Interval <= 0 {
			return ErrBadInterval
		}
		if r.Unit != UnitHour && r.Unit != UnitDay {
			return fmt.Errorf("unknown interval unit %d", r.Unit)
		}
		return nil
	case KindConditioned:
		switch r.Cond {
		case CondWeekdays:
			_, err := normalizeDays(r.Weekdays, 0, 6)
			return err
		case CondMonthdays:
			_, err := normalizeDays(r.Monthdays, 1, 31)
			return err
		case CondYearDay:
			if r.YearMonth < time.January || r.YearMonth > time.December || r.YearDay < 1 || r.YearDay > 31 {
				return ErrBadYearDay
			}
			return nil
		default:
			return fmt.Errorf("unknown condition %d", r.Cond)
		}
	default:
		return fmt.Errorf("unknown rule kind %d", r.Kind)
	}
}

// NeedsTimezone reports whether resolving the rule depends on the owner's
// local calendar.
func (r *Rule) NeedsTimezone() bool { return r.Kind == KindConditioned }

func normalizeDays(days []int, lo, hi int) ([]int, error) {
	if len(days) == 0 {
		return nil, ErrEmptyDaySet
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < lo || d > hi {
			return nil, fmt.Errorf("%w: %d not in [%d,%d]", ErrDayOutOfRange, d, lo, hi)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}
