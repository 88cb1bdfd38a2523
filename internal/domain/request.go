package domain

import (
	"time"
)

// CurrentSchemaVersion is the version the codec emits when a request does not pin one.
const CurrentSchemaVersion = 2

type PrecisionTier string

const (
	TierExactAlarmClock  PrecisionTier = "alarmClock"
	TierExact            PrecisionTier = "exact"
	TierExactAllowIdle   PrecisionTier = "exactAllowIdle"
	TierInexact          PrecisionTier = "inexact"
	TierInexactAllowIdle PrecisionTier = "inexactAllowIdle"
)

// Valid reports whether t is one of the known tiers.
func (t PrecisionTier) Valid() bool {
	switch t {
	case TierExactAlarmClock, TierExact, TierExactAllowIdle, TierInexact, TierInexactAllowIdle:
		return true
	}
	return false
}

// RequiresExact reports whether the tier needs the exact-alarm capability.
func (t PrecisionTier) RequiresExact() bool {
	switch t {
	case TierExactAlarmClock, TierExact, TierExactAllowIdle:
		return true
	}
	return false
}

type RepeatKind string

const (
	RepeatNone     RepeatKind = "none"
	RepeatFixed    RepeatKind = "fixedInterval"
	RepeatDaily    RepeatKind = "daily"
	RepeatWeekly   RepeatKind = "weekly"
	RepeatCalendar RepeatKind = "calendar"
)

// RepeatPolicy is a closed set of variants. A nil policy means the request fires once.
type RepeatPolicy interface {
	Kind() RepeatKind
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

type FixedInterval struct {
	Every time.Duration
}

type DailyAtTime struct {
	Clock
}

type WeeklyAtDayAndTime struct {
	Day time.Weekday
	Clock
}

type MatchComponents string

const (
	MatchTime              MatchComponents = "time"
	MatchDayOfWeekAndTime  MatchComponents = "dayOfWeekAndTime"
	MatchDayOfMonthAndTime MatchComponents = "dayOfMonthAndTime"
	MatchDateAndTime       MatchComponents = "dateAndTime"
)

// CalendarClockWithZone matches the components selected by Match against the
// wall clock of Zone. Fields not covered by Match are ignored.
type CalendarClockWithZone struct {
	Zone    string
	Match   MatchComponents
	Month   time.Month
	Day     int
	Weekday time.Weekday
	Clock
}

func (FixedInterval) Kind() RepeatKind         { return RepeatFixed }
func (DailyAtTime) Kind() RepeatKind           { return RepeatDaily }
func (WeeklyAtDayAndTime) Kind() RepeatKind    { return RepeatWeekly }
func (CalendarClockWithZone) Kind() RepeatKind { return RepeatCalendar }

// KindOf returns the kind of p, treating nil as RepeatNone.
func KindOf(p RepeatPolicy) RepeatKind {
	if p == nil {
		return RepeatNone
	}
	return p.Kind()
}

type ScheduleRequest struct {
	ID        int64
	FireAt    time.Time // one-shot target, or optional start for repeating policies
	Repeat    RepeatPolicy
	Zone      string // IANA zone for daily/weekly policies, empty = UTC
	CreatedAt time.Time
	Tier      PrecisionTier
	Payload   []byte

	SchemaVersion int

	NextFireAt  time.Time
	LastFiredAt time.Time
	FireCount   int
}

// Repeating reports whether the request re-arms itself after firing.
func (r *ScheduleRequest) Repeating() bool {
	return r.Repeat != nil
}

// Generation identifies this version of the request. A replacement under the
// same id always carries a later CreatedAt, so alarms tag their fires with it.
func (r *ScheduleRequest) Generation() int64 {
	return r.CreatedAt.UnixMilli()
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (r *ScheduleRequest) Clone() *ScheduleRequest {
	c := *r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	return &c
}

// Summary is the introspection view returned by ListPending.
type Summary struct {
	ID          int64
	Kind        RepeatKind
	Tier        PrecisionTier
	Zone        string
	NextFireAt  time.Time
	LastFiredAt time.Time
	CreatedAt   time.Time
	FireCount   int
}

func (r *ScheduleRequest) Summary() Summary {
	zone := r.Zone
	if c, ok := r.Repeat.(CalendarClockWithZone); ok {
		zone = c.Zone
	}
	return Summary{
		ID:          r.ID,
		Kind:        KindOf(r.Repeat),
		Tier:        r.Tier,
		Zone:        zone,
		NextFireAt:  r.NextFireAt,
		LastFiredAt: r.LastFiredAt,
		CreatedAt:   r.CreatedAt,
		FireCount:   r.FireCount,
	}
}
