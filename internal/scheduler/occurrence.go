package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/robfig/cron/v3"
)

// ErrNoOccurrence is returned when a calendar policy has no match in the
// parser's search horizon.
var ErrNoOccurrence = errors.New("no next occurrence")

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextOccurrence returns the instant r should next be armed for, as seen at now.
//
// One-shots return FireAt, or now when FireAt has already passed so a missed
// request is delivered late rather than lost. Fixed intervals are anchored at
// FireAt (or CreatedAt) and skip forward by whole intervals. Wall-clock
// policies return the first match strictly after now and not before FireAt.
func NextOccurrence(r *domain.ScheduleRequest, now time.Time) (time.Time, error) {
	switch p := r.Repeat.(type) {
	case nil:
		if r.FireAt.After(now) {
			return r.FireAt.UTC(), nil
		}
		return now.Truncate(time.Millisecond).UTC(), nil

	case domain.FixedInterval:
		anchor := r.FireAt
		if anchor.IsZero() {
			anchor = r.CreatedAt
		}
		if anchor.After(now) {
			return anchor.UTC(), nil
		}
		k := now.Sub(anchor)/p.Every + 1
		return anchor.Add(k * p.Every).UTC(), nil
	}

	spec, err := cronSpec(r)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := specParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	from := now
	if lower := r.FireAt.Add(-time.Millisecond); !r.FireAt.IsZero() && lower.After(from) {
		from = lower
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("request %d: %w", r.ID, ErrNoOccurrence)
	}
	return next.UTC(), nil
}

// cronSpec renders a wall-clock policy as a six-field spec pinned to its zone.
func cronSpec(r *domain.ScheduleRequest) (string, error) {
	switch p := r.Repeat.(type) {
	case domain.DailyAtTime:
		return withZone(r.Zone, p.Clock, "*", "*", "*"), nil
	case domain.WeeklyAtDayAndTime:
		return withZone(r.Zone, p.Clock, "*", "*", fmt.Sprint(int(p.Day))), nil
	case domain.CalendarClockWithZone:
		switch p.Match {
		case domain.MatchTime:
			return withZone(p.Zone, p.Clock, "*", "*", "*"), nil
		case domain.MatchDayOfWeekAndTime:
			return withZone(p.Zone, p.Clock, "*", "*", fmt.Sprint(int(p.Weekday))), nil
		case domain.MatchDayOfMonthAndTime:
			return withZone(p.Zone, p.Clock, fmt.Sprint(p.Day), "*", "*"), nil
		case domain.MatchDateAndTime:
			return withZone(p.Zone, p.Clock, fmt.Sprint(p.Day), fmt.Sprint(int(p.Month)), "*"), nil
		}
		return "", fmt.Errorf("request %d: unknown calendar match %q", r.ID, p.Match)
	}
	return "", fmt.Errorf("request %d: no calendar form for %s", r.ID, domain.KindOf(r.Repeat))
}

func withZone(zone string, c domain.Clock, dom, month, dow string) string {
	if zone == "" {
		zone = "UTC"
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d %d %s %s %s", zone, c.Second, c.Minute, c.Hour, dom, month, dow)
}
