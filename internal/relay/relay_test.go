package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// recordingPin captures every level written to the line, in order.
type recordingPin struct {
	gpiotest.Pin
	mu     sync.Mutex
	levels []gpio.Level
}

func (p *recordingPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, l)
	return p.Pin.Out(l)
}

func (p *recordingPin) recorded() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]gpio.Level, len(p.levels))
	copy(out, p.levels)
	return out
}

// flakyPin starts failing after okWrites successful writes.
type flakyPin struct {
	gpiotest.Pin
	okWrites int
	writes   int
}

func (p *flakyPin) Out(l gpio.Level) error {
	p.writes++
	if p.writes > p.okWrites {
		return errors.New("write failed")
	}
	return p.Pin.Out(l)
}

func newTestActuator(t *testing.T, pin gpio.PinIO, activeLow bool) *Actuator {
	t.Helper()
	a, err := New(pin, activeLow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.hold = 10 * time.Millisecond
	a.settle = 0
	return a
}

func TestPowerCycleSequence(t *testing.T) {
	pin := &recordingPin{Pin: gpiotest.Pin{N: "GPIO17"}}
	a := newTestActuator(t, pin, false)

	if err := a.PowerCycle(context.Background()); err != nil {
		t.Fatalf("PowerCycle: %v", err)
	}

	want := []gpio.Level{gpio.Low, gpio.High, gpio.Low}
	got := pin.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected %d writes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestActiveLowInvertsLevels(t *testing.T) {
	pin := &recordingPin{Pin: gpiotest.Pin{N: "GPIO17"}}
	a := newTestActuator(t, pin, true)

	if err := a.PowerCycle(context.Background()); err != nil {
		t.Fatalf("PowerCycle: %v", err)
	}

	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	got := pin.recorded()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestConcurrentCyclesNeverOverlap(t *testing.T) {
	pin := &recordingPin{Pin: gpiotest.Pin{N: "GPIO17"}}
	a := newTestActuator(t, pin, false)
	a.hold = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.PowerCycle(context.Background()); err != nil {
				t.Errorf("PowerCycle: %v", err)
			}
		}()
	}
	wg.Wait()

	// init write plus two full assert/deassert pairs, strictly alternating:
	// overlapping cycles would produce two consecutive High writes
	got := pin.recorded()
	want := []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High, gpio.Low}
	if len(got) != len(want) {
		t.Fatalf("expected %d writes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d: expected %v, got %v (sequence %v)", i, want[i], got[i], got)
		}
	}
}

func TestHardwareErrorLatches(t *testing.T) {
	pin := &flakyPin{okWrites: 1} // startup deassert succeeds, assert fails
	a := newTestActuator(t, pin, false)

	err := a.PowerCycle(context.Background())
	if err == nil {
		t.Fatal("expected hardware error")
	}

	writesAfterFailure := pin.writes
	second := a.PowerCycle(context.Background())
	if !errors.Is(second, err) {
		t.Errorf("expected latched error, got %v", second)
	}
	if pin.writes != writesAfterFailure {
		t.Error("latched actuator must not touch the line again")
	}
}

func TestNewFailsWhenLineUnwritable(t *testing.T) {
	pin := &flakyPin{okWrites: 0}
	if _, err := New(pin, false); err == nil {
		t.Fatal("expected error when the startup deassert fails")
	}
}

func TestCloseDeasserts(t *testing.T) {
	pin := &recordingPin{Pin: gpiotest.Pin{N: "GPIO17"}}
	a := newTestActuator(t, pin, false)

	if err := a.PowerCycle(context.Background()); err != nil {
		t.Fatalf("PowerCycle: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := pin.recorded()
	if got[len(got)-1] != gpio.Low {
		t.Error("line must be deasserted on close")
	}
}
