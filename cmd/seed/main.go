// seed loads schedule requests from a TOML file straight into the configured
// store. The scheduler arms them the next time it boots.
// Run: go run ./cmd/seed --file seed.toml [--replace]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/ErlanBelekov/notify-scheduler/config"
	"github.com/ErlanBelekov/notify-scheduler/internal/codec"
	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/file"
	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/sqlite"
	"github.com/ErlanBelekov/notify-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
)

type seedFile struct {
	Notification []seedEntry `toml:"notification"`
}

type seedEntry struct {
	ID      int64       `toml:"id"`
	FireAt  time.Time   `toml:"fire_at"`
	Zone    string      `toml:"zone"`
	Tier    string      `toml:"tier"`
	Payload string      `toml:"payload"`
	Repeat  *seedRepeat `toml:"repeat"`
}

type seedRepeat struct {
	Kind    string `toml:"kind"`
	Every   string `toml:"every"`
	Hour    int    `toml:"hour"`
	Minute  int    `toml:"minute"`
	Second  int    `toml:"second"`
	Weekday int    `toml:"weekday"`
	Month   int    `toml:"month"`
	Day     int    `toml:"day"`
	Zone    string `toml:"zone"`
	Match   string `toml:"match"`
}

var (
	seedPath    string
	seedReplace bool
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load schedule requests into the configured store",
	Long: `Reads [[notification]] entries from a TOML file, validates them, computes
their next occurrence, and writes them to the store selected by STORE_DRIVER.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runSeed,
}

func init() {
	rootCmd.Flags().StringVarP(&seedPath, "file", "f", "seed.toml", "TOML file with [[notification]] entries")
	rootCmd.Flags().BoolVar(&seedReplace, "replace", false, "Replace the whole pending set instead of upserting")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	ctx := cmd.Context()

	var sf seedFile
	md, err := toml.DecodeFile(seedPath, &sf)
	if err != nil {
		return fmt.Errorf("read %s: %w", seedPath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", seedPath, undecoded)
	}

	now := time.Now()
	requests := make([]*domain.ScheduleRequest, 0, len(sf.Notification))
	for _, e := range sf.Notification {
		r, err := e.toRequest(now)
		if err != nil {
			return fmt.Errorf("notification %d: %w", e.ID, err)
		}
		requests = append(requests, r)
	}

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeBackend()

	st := store.New(backend, codec.New(), logger)
	if seedReplace {
		err = st.ReplaceAll(ctx, requests)
	} else {
		for _, r := range requests {
			if err = st.Upsert(ctx, r); err != nil {
				break
			}
		}
	}
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Seed complete")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Store:     %s\n", cfg.StoreDriver)
	fmt.Fprintf(out, "  Written:   %d\n", len(requests))
	for _, r := range requests {
		fmt.Fprintf(out, "    %-6d %-14s next %s\n", r.ID, domain.KindOf(r.Repeat), r.NextFireAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Start the scheduler to arm them:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "    go run ./cmd/scheduler")
	return nil
}

func (e seedEntry) toRequest(now time.Time) (*domain.ScheduleRequest, error) {
	r := &domain.ScheduleRequest{
		ID:        e.ID,
		Zone:      e.Zone,
		CreatedAt: now.Truncate(time.Millisecond).UTC(),
		Tier:      domain.PrecisionTier(e.Tier),
	}
	if r.Tier == "" {
		r.Tier = domain.TierExact
	}
	if !e.FireAt.IsZero() {
		r.FireAt = e.FireAt.Truncate(time.Millisecond).UTC()
	}
	if e.Payload != "" {
		r.Payload = []byte(e.Payload)
	}

	if rp := e.Repeat; rp != nil {
		clock := domain.Clock{Hour: rp.Hour, Minute: rp.Minute, Second: rp.Second}
		switch domain.RepeatKind(rp.Kind) {
		case domain.RepeatFixed:
			every, err := time.ParseDuration(rp.Every)
			if err != nil {
				return nil, fmt.Errorf("repeat.every: %w", err)
			}
			r.Repeat = domain.FixedInterval{Every: every}
		case domain.RepeatDaily:
			r.Repeat = domain.DailyAtTime{Clock: clock}
		case domain.RepeatWeekly:
			r.Repeat = domain.WeeklyAtDayAndTime{Day: time.Weekday(rp.Weekday), Clock: clock}
		case domain.RepeatCalendar:
			r.Repeat = domain.CalendarClockWithZone{
				Zone:    rp.Zone,
				Match:   domain.MatchComponents(rp.Match),
				Month:   time.Month(rp.Month),
				Day:     rp.Day,
				Weekday: time.Weekday(rp.Weekday),
				Clock:   clock,
			}
		default:
			return nil, fmt.Errorf("unknown repeat kind %q", rp.Kind)
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	next, err := scheduler.NextOccurrence(r, now)
	if err != nil {
		return nil, err
	}
	r.NextFireAt = next
	return r, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, func(), error) {
	switch cfg.StoreDriver {
	case "file":
		b, err := file.New(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	case "sqlite":
		b, err := sqlite.Open(ctx, cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		b := postgres.NewBackend(pool, logger)
		if err := b.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return b, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("store driver %q cannot be seeded", cfg.StoreDriver)
}
