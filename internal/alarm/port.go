// Package alarm abstracts the timer facility that wakes the scheduler.
package alarm

import (
	"context"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
)

// Port is the boundary to the alarm service. Registering an id that is
// already armed replaces the previous alarm. gen identifies the registration
// and is echoed back on every fire it produces, so a fire that was already in
// flight when the id was replaced can be told apart from the replacement.
type Port interface {
	// RegisterOneShot arms a single fire at at. Exact tiers fail with
	// domain.ErrCapabilityDenied when HasExactAlarmCapability is false.
	RegisterOneShot(ctx context.Context, id, gen int64, at time.Time, tier domain.PrecisionTier) error

	// RegisterRepeating arms an alarm that re-arms itself every interval
	// starting at first. Only inexact tiers repeat natively.
	RegisterRepeating(ctx context.Context, id, gen int64, first time.Time, every time.Duration, tier domain.PrecisionTier) error

	// Cancel disarms id. Canceling an unknown id is not an error.
	Cancel(ctx context.Context, id int64) error

	HasExactAlarmCapability() bool
}

// FireFunc is invoked once per alarm fire with the generation the alarm was
// registered under.
type FireFunc func(ctx context.Context, id, gen int64)

// Armed describes an alarm currently held by a TimerPort.
type Armed struct {
	ID         int64
	Generation int64
	Target     time.Time
	At         time.Time
	Tier       domain.PrecisionTier
	Every      time.Duration
}
