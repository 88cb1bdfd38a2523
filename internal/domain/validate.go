package domain

import (
	"time"
)

// MinInterval is the shortest fixed interval accepted.
const MinInterval = time.Minute

// LoadZone resolves an IANA zone name. The empty name is UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Validate checks the shape of the request. It does not compare against the
// current time; the scheduler does that when accepting new requests.
func (r *ScheduleRequest) Validate() error {
	if r.ID <= 0 {
		return invalid("id", "must be positive, got %d", r.ID)
	}
	if !r.Tier.Valid() {
		return invalid("tier", "unknown tier %q", r.Tier)
	}
	if _, err := LoadZone(r.Zone); err != nil {
		return invalid("zone", "unknown zone %q", r.Zone)
	}

	switch p := r.Repeat.(type) {
	case nil:
		if r.FireAt.IsZero() {
			return invalid("fireAt", "required when no repeat policy is set")
		}
	case FixedInterval:
		if p.Every < MinInterval {
			return invalid("repeat.every", "must be at least %s, got %s", MinInterval, p.Every)
		}
		if p.Every%time.Millisecond != 0 {
			return invalid("repeat.every", "must be whole milliseconds")
		}
	case DailyAtTime:
		return validateClock(p.Clock)
	case WeeklyAtDayAndTime:
		if p.Day < time.Sunday || p.Day > time.Saturday {
			return invalid("repeat.day", "weekday out of range: %d", p.Day)
		}
		return validateClock(p.Clock)
	case CalendarClockWithZone:
		if r.Zone != "" {
			return invalid("zone", "calendar policies carry their own zone")
		}
		return validateCalendar(p)
	default:
		return invalid("repeat", "unsupported policy %T", p)
	}
	return nil
}

func validateClock(c Clock) error {
	if c.Hour < 0 || c.Hour > 23 {
		return invalid("repeat.hour", "out of range: %d", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return invalid("repeat.minute", "out of range: %d", c.Minute)
	}
	if c.Second < 0 || c.Second > 59 {
		return invalid("repeat.second", "out of range: %d", c.Second)
	}
	return nil
}

// daysIn is the maximum day for each month, counting Feb 29.
var daysIn = [...]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func validateCalendar(p CalendarClockWithZone) error {
	if _, err := LoadZone(p.Zone); err != nil {
		return invalid("repeat.zone", "unknown zone %q", p.Zone)
	}
	switch p.Match {
	case MatchTime:
	case MatchDayOfWeekAndTime:
		if p.Weekday < time.Sunday || p.Weekday > time.Saturday {
			return invalid("repeat.weekday", "out of range: %d", p.Weekday)
		}
	case MatchDayOfMonthAndTime:
		if p.Day < 1 || p.Day > 31 {
			return invalid("repeat.day", "out of range: %d", p.Day)
		}
	case MatchDateAndTime:
		if p.Month < time.January || p.Month > time.December {
			return invalid("repeat.month", "out of range: %d", p.Month)
		}
		if p.Day < 1 || p.Day > daysIn[p.Month] {
			return invalid("repeat.day", "%s has no day %d", p.Month, p.Day)
		}
	default:
		return invalid("repeat.match", "unknown components %q", p.Match)
	}
	return validateClock(p.Clock)
}
