package codec

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/goccy/go-json"
)

// recordV1 is the flat layout written before schema tagging. It carries no
// schemaVersion field.
//
// Defaults for absent fields:
//   - scheduleMode: exactAllowIdle when allowWhileIdle is true, exact otherwise
//   - createdAt: fireDate
//   - timeZoneName: UTC
//   - day: Sunday
type recordV1 struct {
	ID                      int64    `json:"id"`
	FireDate                *int64   `json:"fireDate,omitempty"`
	CreatedAt               *int64   `json:"createdAt,omitempty"`
	RepeatInterval          string   `json:"repeatInterval,omitempty"`
	RepeatIntervalMs        int64    `json:"repeatIntervalMilliseconds,omitempty"`
	RepeatTime              *clockV1 `json:"repeatTime,omitempty"`
	Day                     int      `json:"day,omitempty"` // 1 = Sunday
	MatchDateTimeComponents string   `json:"matchDateTimeComponents,omitempty"`
	CalendarMonth           int      `json:"calendarMonth,omitempty"`
	CalendarDay             int      `json:"calendarDay,omitempty"`
	TimeZoneName            string   `json:"timeZoneName,omitempty"`
	ScheduleMode            string   `json:"scheduleMode,omitempty"`
	AllowWhileIdle          *bool    `json:"allowWhileIdle,omitempty"`
	Payload                 string   `json:"payload,omitempty"` // base64
	NextFireDate            *int64   `json:"nextFireDate,omitempty"`
	LastFireDate            *int64   `json:"lastFireDate,omitempty"`
	FireCount               int      `json:"fireCount,omitempty"`
}

type clockV1 struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// namedIntervals are the legacy repeat interval names.
var namedIntervals = map[string]time.Duration{
	"everyMinute": time.Minute,
	"hourly":      time.Hour,
	"daily":       24 * time.Hour,
	"weekly":      7 * 24 * time.Hour,
}

func intervalName(d time.Duration) string {
	for name, v := range namedIntervals {
		if v == d {
			return name
		}
	}
	return ""
}

func encodeV1(r *domain.ScheduleRequest) ([]byte, error) {
	rec := recordV1{
		ID:           r.ID,
		FireDate:     toMillis(r.FireAt),
		CreatedAt:    toMillis(r.CreatedAt),
		TimeZoneName: r.Zone,
		ScheduleMode: string(r.Tier),
		NextFireDate: toMillis(r.NextFireAt),
		LastFireDate: toMillis(r.LastFiredAt),
		FireCount:    r.FireCount,
	}
	// A record without createdAt decodes with createdAt = fireDate, so an
	// explicit zero createdAt cannot survive alongside a fireDate.
	if r.CreatedAt.IsZero() && !r.FireAt.IsZero() {
		return nil, fmt.Errorf("%w: zero createdAt", ErrNotRepresentable)
	}
	if len(r.Payload) > 0 {
		rec.Payload = base64.StdEncoding.EncodeToString(r.Payload)
	}

	switch p := r.Repeat.(type) {
	case nil:
	case domain.FixedInterval:
		if name := intervalName(p.Every); name != "" {
			rec.RepeatInterval = name
		} else {
			rec.RepeatIntervalMs = p.Every.Milliseconds()
		}
	case domain.DailyAtTime:
		rec.RepeatTime = &clockV1{Hour: p.Hour, Minute: p.Minute, Second: p.Second}
	case domain.WeeklyAtDayAndTime:
		rec.RepeatTime = &clockV1{Hour: p.Hour, Minute: p.Minute, Second: p.Second}
		rec.Day = int(p.Day) + 1
	case domain.CalendarClockWithZone:
		rec.RepeatTime = &clockV1{Hour: p.Hour, Minute: p.Minute, Second: p.Second}
		rec.MatchDateTimeComponents = string(p.Match)
		rec.TimeZoneName = p.Zone
		rec.Day = int(p.Weekday) + 1
		rec.CalendarMonth = int(p.Month)
		rec.CalendarDay = p.Day
	default:
		return nil, fmt.Errorf("unknown repeat policy %T", p)
	}

	return json.Marshal(rec)
}

func decodeV1(b []byte) (*domain.ScheduleRequest, error) {
	var rec recordV1
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}

	r := &domain.ScheduleRequest{
		ID:          rec.ID,
		FireAt:      fromMillis(rec.FireDate),
		CreatedAt:   fromMillis(rec.CreatedAt),
		Zone:        rec.TimeZoneName,
		Tier:        domain.PrecisionTier(rec.ScheduleMode),
		NextFireAt:  fromMillis(rec.NextFireDate),
		LastFiredAt: fromMillis(rec.LastFireDate),
		FireCount:   rec.FireCount,
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.FireAt
	}
	if r.Tier == "" {
		r.Tier = domain.TierExact
		if rec.AllowWhileIdle != nil && *rec.AllowWhileIdle {
			r.Tier = domain.TierExactAllowIdle
		}
	}
	if rec.Payload != "" {
		p, err := base64.StdEncoding.DecodeString(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		r.Payload = nilIfEmpty(p)
	}

	weekday := time.Sunday
	if rec.Day >= 1 {
		weekday = time.Weekday(rec.Day - 1)
	}
	var clock domain.Clock
	if rec.RepeatTime != nil {
		clock = domain.Clock{Hour: rec.RepeatTime.Hour, Minute: rec.RepeatTime.Minute, Second: rec.RepeatTime.Second}
	}

	switch {
	case rec.MatchDateTimeComponents != "":
		r.Repeat = domain.CalendarClockWithZone{
			Zone:    rec.TimeZoneName,
			Match:   domain.MatchComponents(rec.MatchDateTimeComponents),
			Month:   time.Month(rec.CalendarMonth),
			Day:     rec.CalendarDay,
			Weekday: weekday,
			Clock:   clock,
		}
		r.Zone = ""
	case rec.RepeatInterval != "":
		d, ok := namedIntervals[rec.RepeatInterval]
		if !ok {
			return nil, fmt.Errorf("unknown repeat interval %q", rec.RepeatInterval)
		}
		r.Repeat = domain.FixedInterval{Every: d}
	case rec.RepeatIntervalMs > 0:
		r.Repeat = domain.FixedInterval{Every: time.Duration(rec.RepeatIntervalMs) * time.Millisecond}
	case rec.RepeatTime != nil && rec.Day != 0:
		r.Repeat = domain.WeeklyAtDayAndTime{Day: weekday, Clock: clock}
	case rec.RepeatTime != nil:
		r.Repeat = domain.DailyAtTime{Clock: clock}
	}
	return r, nil
}
