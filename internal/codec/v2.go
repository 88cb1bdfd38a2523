package codec

import (
	"fmt"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/goccy/go-json"
)

// recordV2 is the tagged-variant layout.
//
// Defaults for absent fields: tier = exact, zone = UTC, repeat = none.
type recordV2 struct {
	SchemaVersion int                  `json:"schemaVersion"`
	ID            int64                `json:"id"`
	CreatedAt     *int64               `json:"createdAt,omitempty"`
	FireAt        *int64               `json:"fireAt,omitempty"`
	Zone          string               `json:"zone,omitempty"`
	Tier          domain.PrecisionTier `json:"tier,omitempty"`
	Repeat        *repeatV2            `json:"repeat,omitempty"`
	Payload       []byte               `json:"payload,omitempty"`
	NextFireAt    *int64               `json:"nextFireAt,omitempty"`
	LastFiredAt   *int64               `json:"lastFiredAt,omitempty"`
	FireCount     int                  `json:"fireCount,omitempty"`
}

type repeatV2 struct {
	Kind    domain.RepeatKind      `json:"kind"`
	EveryMs int64                  `json:"everyMs,omitempty"`
	Hour    int                    `json:"hour,omitempty"`
	Minute  int                    `json:"minute,omitempty"`
	Second  int                    `json:"second,omitempty"`
	Weekday *int                   `json:"weekday,omitempty"`
	Month   int                    `json:"month,omitempty"`
	Day     int                    `json:"day,omitempty"`
	Zone    string                 `json:"zone,omitempty"`
	Match   domain.MatchComponents `json:"match,omitempty"`
}

func encodeV2(r *domain.ScheduleRequest) ([]byte, error) {
	rec := recordV2{
		SchemaVersion: 2,
		ID:            r.ID,
		CreatedAt:     toMillis(r.CreatedAt),
		FireAt:        toMillis(r.FireAt),
		Zone:          r.Zone,
		Tier:          r.Tier,
		Payload:       r.Payload,
		NextFireAt:    toMillis(r.NextFireAt),
		LastFiredAt:   toMillis(r.LastFiredAt),
		FireCount:     r.FireCount,
	}

	switch p := r.Repeat.(type) {
	case nil:
	case domain.FixedInterval:
		rec.Repeat = &repeatV2{Kind: domain.RepeatFixed, EveryMs: p.Every.Milliseconds()}
	case domain.DailyAtTime:
		rec.Repeat = &repeatV2{Kind: domain.RepeatDaily, Hour: p.Hour, Minute: p.Minute, Second: p.Second}
	case domain.WeeklyAtDayAndTime:
		wd := int(p.Day)
		rec.Repeat = &repeatV2{Kind: domain.RepeatWeekly, Weekday: &wd, Hour: p.Hour, Minute: p.Minute, Second: p.Second}
	case domain.CalendarClockWithZone:
		wd := int(p.Weekday)
		rec.Repeat = &repeatV2{
			Kind:    domain.RepeatCalendar,
			Zone:    p.Zone,
			Match:   p.Match,
			Month:   int(p.Month),
			Day:     p.Day,
			Weekday: &wd,
			Hour:    p.Hour,
			Minute:  p.Minute,
			Second:  p.Second,
		}
	default:
		return nil, fmt.Errorf("unknown repeat policy %T", p)
	}

	return json.Marshal(rec)
}

func decodeV2(b []byte) (*domain.ScheduleRequest, error) {
	var rec recordV2
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}

	r := &domain.ScheduleRequest{
		ID:          rec.ID,
		CreatedAt:   fromMillis(rec.CreatedAt),
		FireAt:      fromMillis(rec.FireAt),
		Zone:        rec.Zone,
		Tier:        rec.Tier,
		Payload:     nilIfEmpty(rec.Payload),
		NextFireAt:  fromMillis(rec.NextFireAt),
		LastFiredAt: fromMillis(rec.LastFiredAt),
		FireCount:   rec.FireCount,
	}
	if r.Tier == "" {
		r.Tier = domain.TierExact
	}

	if rec.Repeat == nil {
		return r, nil
	}
	rp := rec.Repeat
	clock := domain.Clock{Hour: rp.Hour, Minute: rp.Minute, Second: rp.Second}
	weekday := time.Sunday
	if rp.Weekday != nil {
		weekday = time.Weekday(*rp.Weekday)
	}

	switch rp.Kind {
	case domain.RepeatNone, "":
	case domain.RepeatFixed:
		r.Repeat = domain.FixedInterval{Every: time.Duration(rp.EveryMs) * time.Millisecond}
	case domain.RepeatDaily:
		r.Repeat = domain.DailyAtTime{Clock: clock}
	case domain.RepeatWeekly:
		r.Repeat = domain.WeeklyAtDayAndTime{Day: weekday, Clock: clock}
	case domain.RepeatCalendar:
		r.Repeat = domain.CalendarClockWithZone{
			Zone:    rp.Zone,
			Match:   rp.Match,
			Month:   time.Month(rp.Month),
			Day:     rp.Day,
			Weekday: weekday,
			Clock:   clock,
		}
	default:
		return nil, fmt.Errorf("unknown repeat kind %q", rp.Kind)
	}
	return r, nil
}
