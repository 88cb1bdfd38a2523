package alarm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
)

var ErrClosed = errors.New("alarm port closed")

const (
	DefaultMaxSleep      = 60 * time.Second
	DefaultInexactWindow = time.Minute
)

type TimerConfig struct {
	// ExactAllowed grants the exact-alarm capability.
	ExactAllowed bool
	// InexactWindow is the batching boundary for inexact tiers.
	InexactWindow time.Duration
	// MaxSleep caps every wait so wall-clock steps and suspend are noticed.
	MaxSleep time.Duration
}

type command struct {
	apply func(h *alarmHeap)
	done  chan struct{}
}

// TimerPort is the in-process Port. A single goroutine owns the heap; callers
// talk to it through commands, and every command is applied before the call
// returns.
type TimerPort struct {
	onFire FireFunc
	logger *slog.Logger
	window time.Duration
	sleep  time.Duration
	exact  atomic.Bool

	base     context.Context
	cmds     chan command
	quit     chan struct{}
	stopped  chan struct{}
	inflight sync.WaitGroup
	once     sync.Once
}

// NewTimerPort starts the timer goroutine. Fire callbacks run with a context
// derived from ctx that is not canceled when ctx is.
func NewTimerPort(ctx context.Context, cfg TimerConfig, onFire FireFunc, logger *slog.Logger) *TimerPort {
	if cfg.InexactWindow <= 0 {
		cfg.InexactWindow = DefaultInexactWindow
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = DefaultMaxSleep
	}
	p := &TimerPort{
		onFire:  onFire,
		logger:  logger.With("component", "alarm"),
		window:  cfg.InexactWindow,
		sleep:   cfg.MaxSleep,
		base:    context.WithoutCancel(ctx),
		cmds:    make(chan command),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.exact.Store(cfg.ExactAllowed)
	go p.run()
	return p
}

func (p *TimerPort) HasExactAlarmCapability() bool {
	return p.exact.Load()
}

// SetExactAllowed grants or revokes the exact-alarm capability at runtime.
// Alarms already armed keep their tier.
func (p *TimerPort) SetExactAllowed(allowed bool) {
	p.exact.Store(allowed)
}

func (p *TimerPort) RegisterOneShot(ctx context.Context, id, gen int64, at time.Time, tier domain.PrecisionTier) error {
	if tier.RequiresExact() && !p.HasExactAlarmCapability() {
		return fmt.Errorf("register alarm %d at tier %s: %w", id, tier, domain.ErrCapabilityDenied)
	}
	e := &entry{id: id, gen: gen, base: at, at: p.align(at, tier), tier: tier}
	return p.do(ctx, func(h *alarmHeap) { h.put(e) })
}

func (p *TimerPort) RegisterRepeating(ctx context.Context, id, gen int64, first time.Time, every time.Duration, tier domain.PrecisionTier) error {
	if every <= 0 {
		return fmt.Errorf("register repeating alarm %d: interval must be positive", id)
	}
	if tier.RequiresExact() || !tier.Valid() {
		return fmt.Errorf("register repeating alarm %d: tier %q cannot repeat natively", id, tier)
	}
	e := &entry{id: id, gen: gen, base: first, at: p.align(first, tier), tier: tier, every: every}
	return p.do(ctx, func(h *alarmHeap) { h.put(e) })
}

func (p *TimerPort) Cancel(ctx context.Context, id int64) error {
	return p.do(ctx, func(h *alarmHeap) { h.remove(id) })
}

// Armed lists every alarm currently held, earliest first.
func (p *TimerPort) Armed(ctx context.Context) ([]Armed, error) {
	var out []Armed
	err := p.do(ctx, func(h *alarmHeap) {
		out = make([]Armed, 0, h.Len())
		for _, e := range h.items {
			out = append(out, Armed{ID: e.id, Generation: e.gen, Target: e.base, At: e.at, Tier: e.tier, Every: e.every})
		}
		slices.SortFunc(out, byFireTime)
	})
	return out, err
}

// Close stops the timer goroutine and waits for in-flight fire callbacks.
func (p *TimerPort) Close() error {
	p.once.Do(func() { close(p.quit) })
	<-p.stopped
	p.inflight.Wait()
	return nil
}

func (p *TimerPort) do(ctx context.Context, apply func(h *alarmHeap)) error {
	c := command{apply: apply, done: make(chan struct{})}
	select {
	case p.cmds <- c:
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// align defers inexact tiers to the next window boundary. Never earlier than at.
func (p *TimerPort) align(at time.Time, tier domain.PrecisionTier) time.Time {
	if tier.RequiresExact() {
		return at
	}
	t := at.Truncate(p.window)
	if t.Before(at) {
		t = t.Add(p.window)
	}
	return t
}

func (p *TimerPort) run() {
	defer close(p.stopped)

	h := newAlarmHeap()
	timer := time.NewTimer(p.sleep)
	defer timer.Stop()

	for {
		p.reset(timer, h)

		select {
		case <-p.quit:
			p.logger.Info("alarm port stopped", "armed", h.Len())
			return
		case c := <-p.cmds:
			c.apply(h)
			close(c.done)
		case <-timer.C:
			p.fireDue(h, time.Now())
		}
	}
}

func (p *TimerPort) reset(timer *time.Timer, h *alarmHeap) {
	d := p.sleep
	if next := h.peek(); next != nil {
		d = min(max(time.Until(next.at), 0), p.sleep)
	}
	timer.Reset(d)
}

func (p *TimerPort) fireDue(h *alarmHeap, now time.Time) {
	for {
		e := h.peek()
		if e == nil || e.at.After(now) {
			return
		}
		h.pop()

		if e.every > 0 {
			next := e.base.Add(e.every)
			if !next.After(now) {
				skipped := now.Sub(next)/e.every + 1
				next = next.Add(skipped * e.every)
			}
			h.put(&entry{id: e.id, gen: e.gen, base: next, at: p.align(next, e.tier), tier: e.tier, every: e.every})
		}

		p.dispatch(e)
	}
}

func (p *TimerPort) dispatch(e *entry) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("fire callback panicked", "schedule_id", e.id, "panic", r)
			}
		}()
		p.onFire(p.base, e.id, e.gen)
	}()
}

func byFireTime(a, b Armed) int {
	if c := a.At.Compare(b.At); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
