package scheduler_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/ErlanBelekov/notify-scheduler/internal/scheduler"
)

func utc(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	t0 := utc(2024, 1, 1, 0, 0)
	boot := utc(2024, 1, 5, 0, 0)

	tests := []struct {
		name string
		req  domain.ScheduleRequest
		now  time.Time
		want time.Time
	}{
		{
			name: "one-shot in the future",
			req:  domain.ScheduleRequest{FireAt: utc(2024, 1, 6, 12, 0)},
			now:  boot,
			want: utc(2024, 1, 6, 12, 0),
		},
		{
			name: "missed one-shot is delivered now",
			req:  domain.ScheduleRequest{FireAt: utc(2024, 1, 4, 12, 0)},
			now:  boot,
			want: boot,
		},
		{
			name: "fixed interval skips missed runs from creation",
			req:  domain.ScheduleRequest{CreatedAt: t0, Repeat: domain.FixedInterval{Every: time.Minute}},
			now:  t0.Add(3*time.Hour + 30*time.Minute),
			want: t0.Add(211 * time.Minute),
		},
		{
			name: "fixed interval between ticks",
			req:  domain.ScheduleRequest{CreatedAt: t0, Repeat: domain.FixedInterval{Every: time.Hour}},
			now:  t0.Add(90 * time.Minute),
			want: t0.Add(2 * time.Hour),
		},
		{
			name: "fixed interval with future start",
			req:  domain.ScheduleRequest{CreatedAt: t0, FireAt: utc(2024, 1, 2, 6, 0), Repeat: domain.FixedInterval{Every: time.Hour}},
			now:  t0,
			want: utc(2024, 1, 2, 6, 0),
		},
		{
			name: "fixed interval anchored at past start",
			req:  domain.ScheduleRequest{CreatedAt: t0.Add(time.Hour), FireAt: t0.Add(10 * time.Minute), Repeat: domain.FixedInterval{Every: 30 * time.Minute}},
			now:  t0.Add(time.Hour),
			want: t0.Add(70 * time.Minute),
		},
		{
			name: "daily later today",
			req:  domain.ScheduleRequest{Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: 9}}},
			now:  boot,
			want: utc(2024, 1, 5, 9, 0),
		},
		{
			name: "daily exactly at target moves to tomorrow",
			req:  domain.ScheduleRequest{Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: 9}}},
			now:  utc(2024, 1, 5, 9, 0),
			want: utc(2024, 1, 6, 9, 0),
		},
		{
			name: "daily in recorded zone",
			req:  domain.ScheduleRequest{Zone: "America/New_York", Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: 9}}},
			now:  boot,
			want: utc(2024, 1, 5, 14, 0),
		},
		{
			name: "daily not before start",
			req:  domain.ScheduleRequest{FireAt: utc(2024, 1, 10, 0, 0), Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: 9}}},
			now:  boot,
			want: utc(2024, 1, 10, 9, 0),
		},
		{
			name: "daily start that matches exactly",
			req:  domain.ScheduleRequest{FireAt: utc(2024, 1, 10, 9, 0), Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: 9}}},
			now:  boot,
			want: utc(2024, 1, 10, 9, 0),
		},
		{
			name: "weekly rolls to next monday",
			req:  domain.ScheduleRequest{Repeat: domain.WeeklyAtDayAndTime{Day: time.Monday, Clock: domain.Clock{Hour: 8, Minute: 15}}},
			now:  boot,
			want: time.Date(2024, 1, 8, 8, 15, 0, 0, time.UTC),
		},
		{
			name: "weekly seconds respected",
			req:  domain.ScheduleRequest{Repeat: domain.WeeklyAtDayAndTime{Day: time.Friday, Clock: domain.Clock{Hour: 0, Minute: 0, Second: 30}}},
			now:  boot,
			want: time.Date(2024, 1, 5, 0, 0, 30, 0, time.UTC),
		},
		{
			name: "calendar leap day",
			req: domain.ScheduleRequest{Repeat: domain.CalendarClockWithZone{
				Zone: "Asia/Tokyo", Match: domain.MatchDateAndTime, Month: time.February, Day: 29, Clock: domain.Clock{Hour: 12},
			}},
			now:  utc(2024, 3, 1, 0, 0),
			want: utc(2028, 2, 29, 3, 0),
		},
		{
			name: "calendar day of month skips short months",
			req: domain.ScheduleRequest{Repeat: domain.CalendarClockWithZone{
				Zone: "UTC", Match: domain.MatchDayOfMonthAndTime, Day: 31,
			}},
			now:  utc(2024, 2, 1, 0, 0),
			want: utc(2024, 3, 31, 0, 0),
		},
		{
			name: "calendar day of week in zone",
			req: domain.ScheduleRequest{Repeat: domain.CalendarClockWithZone{
				Zone: "Europe/London", Match: domain.MatchDayOfWeekAndTime, Weekday: time.Friday, Clock: domain.Clock{Hour: 17, Minute: 5},
			}},
			now:  boot,
			want: utc(2024, 1, 5, 17, 5),
		},
		{
			name: "calendar time only",
			req: domain.ScheduleRequest{Repeat: domain.CalendarClockWithZone{
				Zone: "Europe/Berlin", Match: domain.MatchTime, Clock: domain.Clock{Hour: 7},
			}},
			now:  boot,
			want: utc(2024, 1, 5, 6, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scheduler.NextOccurrence(&tt.req, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Fatalf("expected UTC result, got %v", got.Location())
			}
		})
	}
}

func TestNextOccurrence_NeverBeforeNow(t *testing.T) {
	reqs := []domain.ScheduleRequest{
		{FireAt: utc(2020, 1, 1, 0, 0)},
		{CreatedAt: utc(2020, 1, 1, 0, 0), Repeat: domain.FixedInterval{Every: 7 * time.Minute}},
		{Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: 23, Minute: 59, Second: 59}}},
		{Zone: "Australia/Lord_Howe", Repeat: domain.WeeklyAtDayAndTime{Day: time.Sunday, Clock: domain.Clock{Hour: 2, Minute: 15}}},
	}
	now := utc(2024, 4, 7, 0, 0)
	for i := range reqs {
		for step := range 48 {
			at := now.Add(time.Duration(step) * 37 * time.Minute)
			got, err := scheduler.NextOccurrence(&reqs[i], at)
			if err != nil {
				t.Fatalf("req %d: %v", i, err)
			}
			if got.Before(at) {
				t.Fatalf("req %d at %v: next %v is in the past", i, at, got)
			}
		}
	}
}
