package alarm_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/alarm"
	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
)

type fireLog struct {
	mu    sync.Mutex
	fires []fire
	ch    chan int64
}

type fire struct {
	id  int64
	gen int64
	at  time.Time
}

func newFireLog() *fireLog {
	return &fireLog{ch: make(chan int64, 64)}
}

func (l *fireLog) onFire(_ context.Context, id, gen int64) {
	l.mu.Lock()
	l.fires = append(l.fires, fire{id: id, gen: gen, at: time.Now()})
	l.mu.Unlock()
	l.ch <- id
}

func (l *fireLog) wait(t *testing.T, timeout time.Duration) int64 {
	t.Helper()
	select {
	case id := <-l.ch:
		return id
	case <-time.After(timeout):
		t.Fatal("timed out waiting for fire")
		return 0
	}
}

func (l *fireLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fires)
}

func newPort(t *testing.T, cfg alarm.TimerConfig, l *fireLog) *alarm.TimerPort {
	t.Helper()
	p := alarm.NewTimerPort(context.Background(), cfg, l.onFire, slog.Default())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestRegisterOneShot_FiresAtTarget(t *testing.T) {
	l := newFireLog()
	p := newPort(t, alarm.TimerConfig{ExactAllowed: true}, l)

	target := time.Now().Add(50 * time.Millisecond)
	if err := p.RegisterOneShot(context.Background(), 1, 1, target, domain.TierExact); err != nil {
		t.Fatalf("register: %v", err)
	}

	if id := l.wait(t, 2*time.Second); id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	l.mu.Lock()
	firedAt := l.fires[0].at
	l.mu.Unlock()
	if firedAt.Before(target) {
		t.Fatalf("fired early: %v before %v", firedAt, target)
	}

	armed, err := p.Armed(context.Background())
	if err != nil {
		t.Fatalf("armed: %v", err)
	}
	if len(armed) != 0 {
		t.Fatalf("one-shot still armed: %+v", armed)
	}
}

func TestRegisterOneShot_ExactDeniedWithoutCapability(t *testing.T) {
	p := newPort(t, alarm.TimerConfig{ExactAllowed: false}, newFireLog())

	for _, tier := range []domain.PrecisionTier{domain.TierExactAlarmClock, domain.TierExact, domain.TierExactAllowIdle} {
		err := p.RegisterOneShot(context.Background(), 1, 1, time.Now().Add(time.Hour), tier)
		if !errors.Is(err, domain.ErrCapabilityDenied) {
			t.Fatalf("tier %s: expected ErrCapabilityDenied, got %v", tier, err)
		}
	}

	if err := p.RegisterOneShot(context.Background(), 1, 1, time.Now().Add(time.Hour), domain.TierInexactAllowIdle); err != nil {
		t.Fatalf("inexact register: %v", err)
	}
}

func TestSetExactAllowed(t *testing.T) {
	p := newPort(t, alarm.TimerConfig{}, newFireLog())
	if p.HasExactAlarmCapability() {
		t.Fatal("expected no exact capability")
	}
	p.SetExactAllowed(true)
	if !p.HasExactAlarmCapability() {
		t.Fatal("expected exact capability after grant")
	}
}

func TestRegister_ReplacesSameID(t *testing.T) {
	l := newFireLog()
	p := newPort(t, alarm.TimerConfig{ExactAllowed: true}, l)
	ctx := context.Background()

	if err := p.RegisterOneShot(ctx, 1, 1, time.Now().Add(time.Hour), domain.TierExact); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.RegisterOneShot(ctx, 1, 1, time.Now().Add(30*time.Millisecond), domain.TierExact); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	armed, err := p.Armed(ctx)
	if err != nil {
		t.Fatalf("armed: %v", err)
	}
	if len(armed) != 1 {
		t.Fatalf("expected one alarm for id 1, got %d", len(armed))
	}

	l.wait(t, 2*time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := l.count(); n != 1 {
		t.Fatalf("expected exactly one fire, got %d", n)
	}
}

func TestCancel(t *testing.T) {
	l := newFireLog()
	p := newPort(t, alarm.TimerConfig{ExactAllowed: true}, l)
	ctx := context.Background()

	if err := p.RegisterOneShot(ctx, 1, 1, time.Now().Add(40*time.Millisecond), domain.TierExact); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Cancel(ctx, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := p.Cancel(ctx, 1); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if err := p.Cancel(ctx, 404); err != nil {
		t.Fatalf("cancel unknown: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if n := l.count(); n != 0 {
		t.Fatalf("canceled alarm fired %d times", n)
	}
}

func TestInexact_AlignedToWindow(t *testing.T) {
	l := newFireLog()
	window := 200 * time.Millisecond
	p := newPort(t, alarm.TimerConfig{InexactWindow: window}, l)
	ctx := context.Background()

	target := time.Now().Add(10 * time.Millisecond)
	if err := p.RegisterOneShot(ctx, 5, 1, target, domain.TierInexact); err != nil {
		t.Fatalf("register: %v", err)
	}

	armed, err := p.Armed(ctx)
	if err != nil {
		t.Fatalf("armed: %v", err)
	}
	if len(armed) != 1 {
		t.Fatalf("expected one alarm, got %d", len(armed))
	}
	a := armed[0]
	if a.At.Before(target) {
		t.Fatalf("aligned %v earlier than target %v", a.At, target)
	}
	if !a.At.Equal(a.At.Truncate(window)) {
		t.Fatalf("at %v not on a window boundary", a.At)
	}
	if !a.Target.Equal(target) {
		t.Fatalf("expected target %v, got %v", target, a.Target)
	}

	l.wait(t, 2*time.Second)
}

func TestRegisterRepeating_RearmsNatively(t *testing.T) {
	l := newFireLog()
	p := newPort(t, alarm.TimerConfig{InexactWindow: 10 * time.Millisecond}, l)
	ctx := context.Background()

	every := 60 * time.Millisecond
	if err := p.RegisterRepeating(ctx, 9, 1, time.Now().Add(20*time.Millisecond), every, domain.TierInexact); err != nil {
		t.Fatalf("register: %v", err)
	}

	for range 3 {
		if id := l.wait(t, 2*time.Second); id != 9 {
			t.Fatalf("expected id 9, got %d", id)
		}
	}

	armed, err := p.Armed(ctx)
	if err != nil {
		t.Fatalf("armed: %v", err)
	}
	if len(armed) != 1 || armed[0].Every != every || armed[0].Tier != domain.TierInexact {
		t.Fatalf("expected repeating alarm still armed, got %+v", armed)
	}

	if err := p.Cancel(ctx, 9); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestRegisterRepeating_KeepsGrantedTier(t *testing.T) {
	p := newPort(t, alarm.TimerConfig{}, newFireLog())
	ctx := context.Background()

	if err := p.RegisterRepeating(ctx, 2, 1, time.Now().Add(time.Hour), time.Minute, domain.TierInexactAllowIdle); err != nil {
		t.Fatalf("register: %v", err)
	}
	armed, err := p.Armed(ctx)
	if err != nil {
		t.Fatalf("armed: %v", err)
	}
	if len(armed) != 1 || armed[0].Tier != domain.TierInexactAllowIdle {
		t.Fatalf("expected inexactAllowIdle repeating alarm, got %+v", armed)
	}
}

func TestRegisterRepeating_RejectsExactTier(t *testing.T) {
	p := newPort(t, alarm.TimerConfig{ExactAllowed: true}, newFireLog())
	if err := p.RegisterRepeating(context.Background(), 1, 1, time.Now().Add(time.Hour), time.Minute, domain.TierExact); err == nil {
		t.Fatal("expected error for exact repeating alarm")
	}
}

func TestFire_CarriesRegistrationGeneration(t *testing.T) {
	l := newFireLog()
	p := newPort(t, alarm.TimerConfig{ExactAllowed: true}, l)
	ctx := context.Background()

	if err := p.RegisterOneShot(ctx, 1, 100, time.Now().Add(time.Hour), domain.TierExact); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.RegisterOneShot(ctx, 1, 200, time.Now().Add(20*time.Millisecond), domain.TierExact); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	l.wait(t, 2*time.Second)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fires[0].gen != 200 {
		t.Fatalf("expected generation 200, got %d", l.fires[0].gen)
	}
}

func TestRegisterRepeating_RejectsNonPositiveInterval(t *testing.T) {
	p := newPort(t, alarm.TimerConfig{}, newFireLog())
	if err := p.RegisterRepeating(context.Background(), 1, 1, time.Now(), 0, domain.TierInexact); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestMaxSleep_CapsLongWaits(t *testing.T) {
	l := newFireLog()
	p := newPort(t, alarm.TimerConfig{ExactAllowed: true, MaxSleep: 20 * time.Millisecond}, l)

	if err := p.RegisterOneShot(context.Background(), 3, 1, time.Now().Add(120*time.Millisecond), domain.TierExact); err != nil {
		t.Fatalf("register: %v", err)
	}
	if id := l.wait(t, 2*time.Second); id != 3 {
		t.Fatalf("expected id 3, got %d", id)
	}
}

func TestClose_WaitsForInflightCallbacks(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished bool
	var mu sync.Mutex

	onFire := func(ctx context.Context, _, _ int64) {
		close(started)
		<-release
		if ctx.Err() != nil {
			t.Errorf("fire context canceled: %v", ctx.Err())
		}
		mu.Lock()
		finished = true
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := alarm.NewTimerPort(ctx, alarm.TimerConfig{ExactAllowed: true}, onFire, slog.Default())
	if err := p.RegisterOneShot(ctx, 1, 1, time.Now(), domain.TierExact); err != nil {
		t.Fatalf("register: %v", err)
	}
	<-started
	cancel()

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before callback finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-closed

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Fatal("callback did not finish")
	}

	if err := p.RegisterOneShot(context.Background(), 2, 1, time.Now(), domain.TierExact); !errors.Is(err, alarm.ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}
