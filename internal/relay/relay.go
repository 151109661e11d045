package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
)

// Policy constants of the actuator. The router stays unpowered for
// holdDuration; settleDuration gives it time to boot before the caller
// resumes probing.
const (
	holdDuration   = 5 * time.Second
	settleDuration = 5 * time.Second
)

// Actuator is the single owner of the relay line. Automatic and manual power
// cycles serialize on its mutex and never overlap.
//
// A write failure on the line is fatal: it latches, the failed cycle is not
// retried, and every later PowerCycle reports the same error. The relay
// cannot fulfil its purpose with broken hardware access.
type Actuator struct {
	mu        sync.Mutex
	pin       gpio.PinIO
	activeLow bool
	hwErr     error

	hold   time.Duration
	settle time.Duration
}

// New takes ownership of pin and drives it to the deasserted (router powered)
// level before returning.
func New(pin gpio.PinIO, activeLow bool) (*Actuator, error) {
	a := &Actuator{
		pin:       pin,
		activeLow: activeLow,
		hold:      holdDuration,
		settle:    settleDuration,
	}
	if err := a.write(false); err != nil {
		return nil, fmt.Errorf("deassert relay at startup: %w", err)
	}
	return a, nil
}

// PowerCycle asserts the relay line, holds it for the fixed interval and
// deasserts it. The hold is not cancellable once started; ctx only shortens
// the settle wait after power is restored. Callers block while another cycle
// is in progress.
func (a *Actuator) PowerCycle(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hwErr != nil {
		return a.hwErr
	}

	log.Warn().Str("pin", a.pin.Name()).Msg("power cycling router")

	if err := a.write(true); err != nil {
		a.hwErr = fmt.Errorf("assert relay line: %w", err)
		log.Error().Err(a.hwErr).Msg("relay write failed")
		return a.hwErr
	}

	time.Sleep(a.hold)

	if err := a.write(false); err != nil {
		a.hwErr = fmt.Errorf("deassert relay line: %w", err)
		log.Error().Err(a.hwErr).Msg("relay write failed")
		return a.hwErr
	}

	log.Info().Msg("router power restored")

	select {
	case <-time.After(a.settle):
	case <-ctx.Done():
	}
	return nil
}

// Close forces the line to the deasserted level so the router is powered when
// the process exits, even after a latched hardware error.
func (a *Actuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.write(false)
}

func (a *Actuator) write(asserted bool) error {
	// asserted means "router power cut". Active-low boards invert the
	// physical level, not the logical sequence.
	return a.pin.Out(gpio.Level(asserted != a.activeLow))
}
