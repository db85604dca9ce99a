package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RuleFromRRule converts an RFC 5545 RRULE string into a native Rule.
//
// Only the subset that maps onto the engine's recurrence model is accepted:
//
//	FREQ=HOURLY;INTERVAL=n            -> basic hourly rule
//	FREQ=DAILY;INTERVAL=n             -> basic daily rule
//	FREQ=WEEKLY;BYDAY=MO,WE,...       -> weekday rule
//	FREQ=MONTHLY;BYMONTHDAY=1,15,...  -> month-day rule
//	FREQ=YEARLY;BYMONTH=m;BYMONTHDAY=d -> year-day rule
//
// UNTIL becomes EndsAt. Anything else (COUNT, BYHOUR, INTERVAL>1 on
// calendar frequencies, ...) is rejected rather than silently approximated;
// the scheduling core itself never interprets RRULE strings.
func RuleFromRRule(s, tz string) (*Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	if opt.Count > 0 {
		return nil, fmt.Errorf("rrule COUNT is not supported")
	}
	if len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		return nil, fmt.Errorf("rrule BYHOUR/BYMINUTE/BYSECOND are not supported")
	}

	interval := opt.Interval
	if interval <= 0 {
		interval = 1
	}

	var rule *Rule
	switch opt.Freq {
	case rrule.HOURLY:
		rule, err = NewBasicRule(interval, UnitHour)
	case rrule.DAILY:
		rule, err = NewBasicRule(interval, UnitDay)
	case rrule.WEEKLY:
		if interval != 1 {
			return nil, fmt.Errorf("rrule FREQ=WEEKLY supports INTERVAL=1 only")
		}
		days := make([]int, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			// rrule counts Monday=0; the engine counts Sunday=0.
			days = append(days, (wd.Day()+1)%7)
		}
		rule, err = NewWeekdayRule(days, tz)
	case rrule.MONTHLY:
		if interval != 1 {
			return nil, fmt.Errorf("rrule FREQ=MONTHLY supports INTERVAL=1 only")
		}
		rule, err = NewMonthdayRule(opt.Bymonthday, tz)
	case rrule.YEARLY:
		if interval != 1 {
			return nil, fmt.Errorf("rrule FREQ=YEARLY supports INTERVAL=1 only")
		}
		if len(opt.Bymonth) != 1 || len(opt.Bymonthday) != 1 {
			return nil, fmt.Errorf("rrule FREQ=YEARLY requires exactly one BYMONTH and BYMONTHDAY")
		}
		rule, err = NewYearDayRule(time.Month(opt.Bymonth[0]), opt.Bymonthday[0], tz)
	default:
		return nil, fmt.Errorf("rrule frequency %v is not supported", opt.Freq)
	}
	if err != nil {
		return nil, err
	}

	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		rule.EndsAt = &until
	}
	return rule, nil
}
