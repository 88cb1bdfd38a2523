package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	applog "github.com/ErlanBelekov/notify-scheduler/internal/log"
	"github.com/ErlanBelekov/notify-scheduler/internal/metrics"
	"github.com/ErlanBelekov/notify-scheduler/internal/requestid"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
)

// Renderer turns a fired request into something the user sees. The returned
// handle identifies the rendered artifact for logs.
type Renderer interface {
	Render(ctx context.Context, n domain.Notification) (string, error)
}

// Dispatcher is the alarm fire callback.
type Dispatcher struct {
	store     *store.Store
	scheduler *Scheduler
	renderer  Renderer
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(st *store.Store, sched *Scheduler, renderer Renderer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     st,
		scheduler: sched,
		renderer:  renderer,
		logger:    logger.With("component", "dispatcher"),
		now:       sched.now,
	}
}

// OnFire handles one alarm fire for id armed under generation gen. A fire
// whose generation no longer matches the stored request belongs to a replaced
// registration and is dropped. Render failures are logged and counted but do
// not stop the request from advancing; there is no retry.
func (d *Dispatcher) OnFire(ctx context.Context, id, gen int64) {
	ctx, _ = requestid.Ensure(ctx)
	ctx = applog.WithScheduleID(ctx, id)

	r, err := d.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.FiresTotal.WithLabelValues("missing").Inc()
		d.logger.DebugContext(ctx, "fire for unknown request ignored")
		return
	}
	if err != nil {
		metrics.FiresTotal.WithLabelValues("load_failed").Inc()
		d.logger.ErrorContext(ctx, "load fired request", "error", err)
		return
	}

	if r.Generation() != gen {
		metrics.FiresTotal.WithLabelValues("stale").Inc()
		d.logger.DebugContext(ctx, "fire for replaced request ignored", "fired_generation", gen, "current_generation", r.Generation())
		return
	}

	now := d.now()
	if !r.NextFireAt.IsZero() {
		metrics.FireLag.Observe(max(now.Sub(r.NextFireAt), 0).Seconds())
	}

	handle, err := d.renderer.Render(ctx, domain.Notification{
		ID:        r.ID,
		Payload:   r.Payload,
		FiredAt:   now,
		Tier:      r.Tier,
		Kind:      domain.KindOf(r.Repeat),
		FireCount: r.FireCount + 1,
	})
	if err != nil {
		metrics.FiresTotal.WithLabelValues("render_failed").Inc()
		d.logger.ErrorContext(ctx, "render notification", "error", err)
	} else {
		metrics.FiresTotal.WithLabelValues("rendered").Inc()
		d.logger.InfoContext(ctx, "notification rendered", "handle", handle, "target", r.NextFireAt)
	}

	if err := d.scheduler.AdvanceOrRetire(ctx, r); err != nil {
		d.logger.ErrorContext(ctx, "advance fired request", "error", err)
	}
}
