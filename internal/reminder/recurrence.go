package reminder

import (
	"errors"
	"fmt"
	"time"
)

// DefaultDupRetryLimit bounds the duplicate-date retry loop for month-day
// rules. Exceeding it means the rule is malformed beyond what validation can
// catch and the reminder needs manual review.
const DefaultDupRetryLimit = 5

// ErrResolveLoop is returned when month-day resolution keeps collapsing onto
// the same date after exhausting the retry budget.
var ErrResolveLoop = errors.New("recurrence resolution did not advance")

// Next computes the single next fire instant strictly after current.
//
// Basic rules are pure duration arithmetic. Conditioned rules interpret
// current in loc (the owner's timezone), resolve the next local calendar
// date preserving the local time-of-day, and convert back to UTC.
func Next(current time.Time, r *Rule, loc *time.Location) (time.Time, error) {
	return nextOccurrence(current, r, loc, DefaultDupRetryLimit)
}

// Advance computes where a reminder's fire instant moves after a delivery.
//
// It repeats the single-step computation while the result is still at or
// before now, so occurrences missed during downtime collapse into exactly
// one future occurrence instead of a backlog. The returned instant is UTC
// and never earlier than the reminder's current FireAt.
//
// archive is true when the reminder is one-shot, or when the rule's EndsAt
// is at or before the computed occurrence (an occurrence landing exactly on
// EndsAt does not fire).
func Advance(rem *Reminder, now time.Time) (next time.Time, archive bool, err error) {
	return AdvanceWithLimit(rem, now, DefaultDupRetryLimit)
}

// AdvanceWithLimit is Advance with an explicit duplicate-date retry budget.
func AdvanceWithLimit(rem *Reminder, now time.Time, dupLimit int) (time.Time, bool, error) {
	r := rem.Rule
	if r == nil {
		return time.Time{}, true, nil
	}
	if dupLimit <= 0 {
		dupLimit = DefaultDupRetryLimit
	}
	loc := rem.OwnerLocation()

	cur := rem.FireAt
	for {
		nxt, err := nextOccurrence(cur, r, loc, dupLimit)
		if err != nil {
			return time.Time{}, false, err
		}
		if nxt.After(now) {
			if r.EndsAt != nil && !nxt.Before(*r.EndsAt) {
				return time.Time{}, true, nil
			}
			return nxt.UTC(), false, nil
		}
		cur = nxt
	}
}

func nextOccurrence(current time.Time, r *Rule, loc *time.Location, dupLimit int) (time.Time, error) {
	switch r.Kind {
	case KindBasic:
		step := time.Duration(r.Interval) * time.Hour
		if r.Unit == UnitDay {
			step = time.Duration(r.Interval) * 24 * time.Hour
		}
		return current.Add(step), nil
	case KindConditioned:
		if loc == nil {
			loc = time.UTC
		}
		local := current.In(loc)
		switch r.Cond {
		case CondWeekdays:
			return nextWeekday(local, r.Weekdays).UTC(), nil
		case CondMonthdays:
			t, err := nextMonthday(local, r.Monthdays, dupLimit)
			if err != nil {
				return time.Time{}, err
			}
			return t.UTC(), nil
		case CondYearDay:
			return nextYearDay(local, r.YearMonth, r.YearDay).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unresolvable rule kind=%d cond=%d", r.Kind, r.Cond)
}

// nextWeekday picks the smallest configured weekday strictly after the
// current local weekday, wrapping to the smallest one next week. The step is
// always at least one day, so the result cannot collapse onto the input date.
func nextWeekday(local time.Time, days []int) time.Time {
	cur := int(local.Weekday())
	pick := -1
	for _, d := range days {
		if d > cur {
			pick = d
			break
		}
	}
	delta := 0
	if pick >= 0 {
		delta = pick - cur
	} else {
		delta = days[0] + 7 - cur
	}
	return onDay(local, local.Year(), local.Month(), local.Day()+delta)
}

// nextMonthday picks the smallest configured month-day strictly after the
// current local day, wrapping to the smallest one next month. Days past the
// end of the target month clamp to its last day.
//
// Clamping can collapse several configured days onto the current date (e.g.
// {29,30,31} resolved on Feb 28): each collapsed day is excluded and the
// pick retried, at most dupLimit times. Once every configured day is
// excluded the rule moves to its first day in the following month, which is
// on a different date by construction.
func nextMonthday(local time.Time, days []int, dupLimit int) (time.Time, error) {
	excluded := make(map[int]bool, len(days))
	for attempt := 0; ; attempt++ {
		if attempt > dupLimit {
			return time.Time{}, fmt.Errorf("%w: days=%v date=%s", ErrResolveLoop, days, local.Format("2006-01-02"))
		}

		remaining := days[:0:0]
		for _, d := range days {
			if !excluded[d] {
				remaining = append(remaining, d)
			}
		}
		if len(remaining) == 0 {
			return onDay(local, local.Year(), local.Month()+1, clampDay(local.Year(), local.Month()+1, days[0])), nil
		}

		pick := -1
		wrapped := false
		for _, d := range remaining {
			if d > local.Day() {
				pick = d
				break
			}
		}
		if pick < 0 {
			pick = remaining[0]
			wrapped = true
		}

		year, month := local.Year(), local.Month()
		if wrapped {
			month++
		}
		day := clampDay(year, month, pick)
		cand := onDay(local, year, month, day)
		if sameDate(cand, local) {
			excluded[pick] = true
			continue
		}
		return cand, nil
	}
}

// nextYearDay finds the next local date matching the fixed month/day
// strictly after the current local date, advancing the year and clamping
// the day when the target year lacks the date (leap-day case).
func nextYearDay(local time.Time, month time.Month, day int) time.Time {
	year := local.Year()
	cand := onDay(local, year, month, clampDay(year, month, day))
	if !dateAfter(cand, local) {
		year++
		cand = onDay(local, year, month, clampDay(year, month, day))
	}
	return cand
}

// onDay rebuilds the instant on the given local date, preserving the local
// time-of-day. time.Date normalizes out-of-range day/month values.
func onDay(local time.Time, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day,
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), local.Location())
}

// clampDay decrements day until it exists in the given month.
func clampDay(year int, month time.Month, day int) int {
	if last := daysInMonth(year, month); day > last {
		return last
	}
	return day
}

func daysInMonth(year int, month time.Month) int {
	// First of the following month, minus one day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// dateAfter reports whether a's calendar date is strictly after b's.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
