// Package scheduler accepts schedule requests, keeps them armed with the alarm
// port, and advances or retires them as they fire.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/alarm"
	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/ErlanBelekov/notify-scheduler/internal/metrics"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
)

// ScheduleInput is what a caller supplies. CreatedAt and the bookkeeping
// fields are stamped by the scheduler.
type ScheduleInput struct {
	ID      int64
	FireAt  time.Time
	Repeat  domain.RepeatPolicy
	Zone    string
	Tier    domain.PrecisionTier // empty means exact
	Payload []byte
}

type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type Scheduler struct {
	// mu is held across persist and arm so alarm registration order matches
	// persistence order.
	mu     sync.Mutex
	store  *store.Store
	port   alarm.Port
	logger *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, port alarm.Port, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  st,
		port:   port,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule validates, persists, and arms a request. A request with the same
// id replaces the old one; the old alarm is canceled before the new one is armed.
func (s *Scheduler) Schedule(ctx context.Context, in ScheduleInput) (domain.Summary, error) {
	now := s.now()

	r := &domain.ScheduleRequest{
		ID:        in.ID,
		Repeat:    in.Repeat,
		Zone:      in.Zone,
		CreatedAt: now.Truncate(time.Millisecond).UTC(),
		Tier:      in.Tier,
		Payload:   in.Payload,
	}
	if !in.FireAt.IsZero() {
		r.FireAt = in.FireAt.Truncate(time.Millisecond).UTC()
	}
	if r.Tier == "" {
		r.Tier = domain.TierExact
	}

	if err := r.Validate(); err != nil {
		return domain.Summary{}, fmt.Errorf("schedule request %d: %w", in.ID, err)
	}
	if r.Repeat == nil && !r.FireAt.After(now) {
		return domain.Summary{}, fmt.Errorf("schedule request %d: %w", in.ID,
			&domain.ValidationError{Field: "fireAt", Reason: "must be in the future"})
	}

	next, err := NextOccurrence(r, now)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("schedule request %d: %w: %w", in.ID, domain.ErrValidation, err)
	}
	r.NextFireAt = next

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.store.Mutate(ctx, func(set store.Set) error {
		// A replacement must get a newer generation than the request it
		// replaces, even when both arrive within the same millisecond.
		if prev, ok := set[r.ID]; ok && !r.CreatedAt.After(prev.CreatedAt) {
			r.CreatedAt = prev.CreatedAt.Add(time.Millisecond)
			next, err := NextOccurrence(r, now)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrValidation, err)
			}
			r.NextFireAt = next
		}
		set[r.ID] = r.Clone()
		return nil
	})
	if err != nil {
		return domain.Summary{}, fmt.Errorf("persist request %d: %w", r.ID, err)
	}
	if err := s.port.Cancel(ctx, r.ID); err != nil {
		return domain.Summary{}, fmt.Errorf("cancel previous alarm %d: %w", r.ID, err)
	}
	granted, err := s.arm(ctx, r)
	if err != nil {
		return domain.Summary{}, err
	}

	s.logger.InfoContext(ctx, "request scheduled",
		"schedule_id", r.ID,
		"kind", domain.KindOf(r.Repeat),
		"tier", granted,
		"next_fire_at", r.NextFireAt,
	)
	return r.Summary(), nil
}

// Cancel removes the request and disarms its alarm. Unknown ids are a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove request %d: %w", id, err)
	}
	if err := s.port.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel alarm %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "request canceled", "schedule_id", id)
	return nil
}

// CancelAll empties the store, then disarms every alarm that was pending.
// Alarm cancel failures are logged and do not stop the sweep.
func (s *Scheduler) CancelAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	err := s.store.Mutate(ctx, func(set store.Set) error {
		for id := range set {
			ids = append(ids, id)
		}
		clear(set)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear requests: %w", err)
	}

	slices.Sort(ids)
	for _, id := range ids {
		if err := s.port.Cancel(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "cancel alarm", "schedule_id", id, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "all requests canceled", "count", len(ids))
	return len(ids), nil
}

// ListPending returns a summary of every stored request, ordered by id.
func (s *Scheduler) ListPending(ctx context.Context) ([]domain.Summary, error) {
	rs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]domain.Summary, len(rs))
	for i, r := range rs {
		out[i] = r.Summary()
	}
	return out, nil
}

// OnBootCompleted is the restart entry point.
func (s *Scheduler) OnBootCompleted(ctx context.Context) error {
	s.logger.InfoContext(ctx, "boot completed, rehydrating")
	n, err := s.RehydrateAll(ctx)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "rehydration finished", "armed", n)
	return nil
}

// RehydrateAll recomputes every stored request against the current time,
// persists the refreshed set, and arms each one. Requests whose next
// occurrence cannot be computed are dropped. Returns how many were armed.
func (s *Scheduler) RehydrateAll(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RehydrateDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var pending []*domain.ScheduleRequest
	err := s.store.Mutate(ctx, func(set store.Set) error {
		for id, r := range set {
			next, err := NextOccurrence(r, now)
			if err != nil {
				s.logger.WarnContext(ctx, "dropping request with no next occurrence", "schedule_id", id, "error", err)
				metrics.RehydratedTotal.WithLabelValues("dropped").Inc()
				delete(set, id)
				continue
			}
			r.NextFireAt = next
			pending = append(pending, r.Clone())
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "rehydration failed, nothing recovered this boot", "error", err)
		return 0, fmt.Errorf("rehydrate: %w", err)
	}

	slices.SortFunc(pending, func(a, b *domain.ScheduleRequest) int { return cmp.Compare(a.ID, b.ID) })

	armed := 0
	for _, r := range pending {
		if _, err := s.arm(ctx, r); err != nil {
			s.logger.ErrorContext(ctx, "arm rehydrated request", "schedule_id", r.ID, "error", err)
			metrics.RehydratedTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.RehydratedTotal.WithLabelValues("armed").Inc()
		armed++
	}
	return armed, nil
}

// AdvanceOrRetire runs after a fire has been rendered. One-shots are removed.
// Repeating requests move to their next occurrence after max(now, the fired
// target) and are re-armed. If the request was canceled or replaced in the
// meantime nothing happens.
func (s *Scheduler) AdvanceOrRetire(ctx context.Context, fired *domain.ScheduleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var rearm *domain.ScheduleRequest
	retired := false

	err := s.store.Mutate(ctx, func(set store.Set) error {
		cur, ok := set[fired.ID]
		if !ok || !cur.CreatedAt.Equal(fired.CreatedAt) {
			return store.ErrUnchanged
		}
		if !cur.Repeating() {
			delete(set, cur.ID)
			retired = true
			return nil
		}

		from := now
		if fired.NextFireAt.After(from) {
			from = fired.NextFireAt
		}
		next, err := NextOccurrence(cur, from)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping request with no next occurrence", "schedule_id", cur.ID, "error", err)
			delete(set, cur.ID)
			return nil
		}
		cur.LastFiredAt = now.Truncate(time.Millisecond).UTC()
		cur.FireCount++
		cur.NextFireAt = next
		rearm = cur.Clone()
		return nil
	})
	if err != nil {
		if !fired.Repeating() {
			return fmt.Errorf("advance request %d: %w", fired.ID, err)
		}
		// The fired alarm is spent. Keep the request armed from the copy we
		// hold; the next fire or rehydration persists the advance.
		s.logger.WarnContext(ctx, "advance not persisted, re-arming from fired copy", "schedule_id", fired.ID, "error", err)
		if armErr := s.rearmUnpersisted(ctx, fired, now); armErr != nil {
			return fmt.Errorf("advance request %d: %w", fired.ID, errors.Join(err, armErr))
		}
		return fmt.Errorf("advance request %d: %w", fired.ID, err)
	}

	if retired {
		metrics.RetiredTotal.Inc()
		s.logger.InfoContext(ctx, "request retired", "schedule_id", fired.ID)
		return nil
	}
	if rearm == nil {
		return nil
	}
	if _, err := s.arm(ctx, rearm); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "request advanced", "schedule_id", rearm.ID, "next_fire_at", rearm.NextFireAt, "fire_count", rearm.FireCount)
	return nil
}

func (s *Scheduler) rearmUnpersisted(ctx context.Context, fired *domain.ScheduleRequest, now time.Time) error {
	from := now
	if fired.NextFireAt.After(from) {
		from = fired.NextFireAt
	}
	next, err := NextOccurrence(fired, from)
	if err != nil {
		return err
	}
	r := fired.Clone()
	r.NextFireAt = next
	_, err = s.arm(ctx, r)
	return err
}

// arm registers r at the best tier the port grants and returns that tier.
// Exact tiers fall back to inexactAllowIdle when the capability is missing,
// including when the port revokes it between the check and the register.
func (s *Scheduler) arm(ctx context.Context, r *domain.ScheduleRequest) (domain.PrecisionTier, error) {
	tier := r.Tier
	if tier.RequiresExact() && !s.port.HasExactAlarmCapability() {
		tier = s.downgrade(ctx, r)
	}

	err := s.register(ctx, r, tier)
	if errors.Is(err, domain.ErrCapabilityDenied) && tier.RequiresExact() {
		tier = s.downgrade(ctx, r)
		err = s.register(ctx, r, tier)
	}
	if err != nil {
		return "", fmt.Errorf("arm request %d: %w", r.ID, err)
	}
	return tier, nil
}

func (s *Scheduler) register(ctx context.Context, r *domain.ScheduleRequest, tier domain.PrecisionTier) error {
	if fi, ok := r.Repeat.(domain.FixedInterval); ok && !tier.RequiresExact() {
		if err := s.port.RegisterRepeating(ctx, r.ID, r.Generation(), r.NextFireAt, fi.Every, tier); err != nil {
			return err
		}
		metrics.AlarmsArmedTotal.WithLabelValues(string(tier), "repeating").Inc()
		return nil
	}
	if err := s.port.RegisterOneShot(ctx, r.ID, r.Generation(), r.NextFireAt, tier); err != nil {
		return err
	}
	metrics.AlarmsArmedTotal.WithLabelValues(string(tier), "one_shot").Inc()
	return nil
}

func (s *Scheduler) downgrade(ctx context.Context, r *domain.ScheduleRequest) domain.PrecisionTier {
	metrics.TierDowngradesTotal.WithLabelValues(string(r.Tier)).Inc()
	s.logger.WarnContext(ctx, "exact alarms unavailable, downgrading",
		"schedule_id", r.ID,
		"requested", r.Tier,
		"granted", domain.TierInexactAllowIdle,
	)
	return domain.TierInexactAllowIdle
}
