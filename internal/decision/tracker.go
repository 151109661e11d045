package decision

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bilal/router-rebooter/internal/probe"
)

// State is the tracked connectivity state.
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateOnline  State = "ONLINE"
	StateOffline State = "OFFLINE"
)

// RebootReason distinguishes automatic reboots from operator-triggered ones.
type RebootReason string

const (
	ReasonAuto   RebootReason = "auto"
	ReasonManual RebootReason = "manual"
)

type EventKind string

const (
	EventOnline  EventKind = "online"
	EventOffline EventKind = "offline"
	EventReboot  EventKind = "reboot"
)

// Event is an append-only record in the bounded event log.
type Event struct {
	ID      string       `json:"id"`
	Time    time.Time    `json:"time"`
	Kind    EventKind    `json:"kind"`
	Reason  RebootReason `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
}

// OutageRecord exists only while the state is Offline. RebootFired guards the
// at-most-one automatic reboot per outage invariant.
type OutageRecord struct {
	EnteredOfflineAt time.Time `json:"entered_offline_at"`
	RebootFired      bool      `json:"reboot_fired"`
}

// Status is a read-only snapshot of the tracker.
type Status struct {
	State          State         `json:"state"`
	LastTransition time.Time     `json:"last_transition"`
	Outage         *OutageRecord `json:"outage,omitempty"`
	Events         []Event       `json:"recent_events"`
}

// Tracker owns all shared monitoring state: connectivity state, the current
// outage record and the event log. Every read and write goes through its
// mutex; neither the monitor loop nor the control surface keeps a local copy.
type Tracker struct {
	mu             sync.Mutex
	state          State
	outage         *OutageRecord
	lastTransition time.Time
	events         []Event
	maxEvents      int

	now func() time.Time
}

func NewTracker(maxEvents int) *Tracker {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Tracker{
		state:     StateUnknown,
		maxEvents: maxEvents,
		now:       time.Now,
	}
}

// Apply runs the outage transition for one probe outcome and reports the new
// state plus whether a reboot must fire. A reboot fires on the first failed
// probe of an outage and never again until a success re-arms the record.
func (t *Tracker) Apply(out probe.Outcome) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if out.Success {
		if t.state != StateOnline {
			restored := t.state == StateOffline
			t.state = StateOnline
			t.lastTransition = now
			t.outage = nil
			msg := "internet reachable"
			if restored {
				msg = "internet connection restored"
			}
			t.appendLocked(Event{Kind: EventOnline, Message: msg})
		}
		return t.state, false
	}

	if t.state != StateOffline {
		t.state = StateOffline
		t.lastTransition = now
		t.outage = &OutageRecord{EnteredOfflineAt: now}
		t.appendLocked(Event{Kind: EventOffline, Message: "internet connection lost"})
	}

	if t.outage != nil && !t.outage.RebootFired {
		t.outage.RebootFired = true
		return t.state, true
	}
	return t.state, false
}

// MarkManualReboot debounces the automatic path after an operator reboot: the
// current outage, if any, is marked as already rebooted. While Online there is
// no record to mark and a later real outage still gets its one auto reboot.
func (t *Tracker) MarkManualReboot() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateOffline && t.outage != nil {
		t.outage.RebootFired = true
	}
}

// RecordReboot appends a reboot event to the log.
func (t *Tracker) RecordReboot(reason RebootReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.appendLocked(Event{Kind: EventReboot, Reason: reason, Message: "router power cycled"})
}

// Snapshot returns a copy of the current state. Mutating the returned events
// slice has no effect on the tracker.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		State:          t.state,
		LastTransition: t.lastTransition,
		Events:         t.eventsLocked(0),
	}
	if t.outage != nil {
		outage := *t.outage
		st.Outage = &outage
	}
	return st
}

// Events returns up to limit most recent events, newest last. limit <= 0
// returns everything retained.
func (t *Tracker) Events(limit int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eventsLocked(limit)
}

// ClearEvents empties the event log. State and outage record are untouched.
func (t *Tracker) ClearEvents() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) appendLocked(e Event) {
	e.ID = uuid.New().String()
	e.Time = t.now()
	t.events = append(t.events, e)
	if len(t.events) > t.maxEvents {
		t.events = t.events[len(t.events)-t.maxEvents:]
	}
}

func (t *Tracker) eventsLocked(limit int) []Event {
	events := t.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	if len(events) == 0 {
		return nil
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
