package monitor

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bilal/router-rebooter/internal/config"
	"github.com/bilal/router-rebooter/internal/decision"
	"github.com/bilal/router-rebooter/internal/metrics"
	"github.com/bilal/router-rebooter/internal/probe"
	"github.com/bilal/router-rebooter/internal/telemetry"
)

// Prober is what the loop needs from the reachability prober.
type Prober interface {
	Probe(ctx context.Context) probe.Outcome
}

// Actuator is what the loop needs from the relay.
type Actuator interface {
	PowerCycle(ctx context.Context) error
}

// Monitor runs the probe → transition → power-cycle loop. One instance, one
// goroutine; it never handles external requests itself.
type Monitor struct {
	prober   Prober
	tracker  *decision.Tracker
	actuator Actuator
	fw       *telemetry.Forwarder // may be nil

	onlineInterval  time.Duration
	offlineInterval time.Duration
}

func New(cfg *config.Config, prober Prober, tracker *decision.Tracker, actuator Actuator, fw *telemetry.Forwarder) *Monitor {
	return &Monitor{
		prober:          prober,
		tracker:         tracker,
		actuator:        actuator,
		fw:              fw,
		onlineInterval:  cfg.Network.OnlineInterval(),
		offlineInterval: cfg.Network.OfflineInterval(),
	}
}

// Run loops until ctx is done. Probe failures are data and never stop the
// loop; a relay hardware error does, and the returned error should take the
// process down non-zero.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().
		Dur("online_interval", m.onlineInterval).
		Dur("offline_interval", m.offlineInterval).
		Msg("monitor started")

	lastState := decision.StateUnknown
	for {
		if ctx.Err() != nil {
			log.Info().Msg("monitor stopping")
			return nil
		}

		started := time.Now()
		outcome := m.prober.Probe(ctx)
		metrics.ProbeDuration.Observe(time.Since(started).Seconds())
		metrics.ProbeAttempts.Observe(float64(outcome.Attempts))
		if outcome.Success {
			metrics.ProbesTotal.WithLabelValues("success").Inc()
		} else {
			metrics.ProbesTotal.WithLabelValues("failure").Inc()
		}

		if ctx.Err() != nil {
			log.Info().Msg("monitor stopping")
			return nil
		}

		state, rebootNeeded := m.tracker.Apply(outcome)
		metrics.SetState(state)

		if state != lastState {
			switch state {
			case decision.StateOffline:
				log.Warn().Str("host", outcome.Host).Msg("internet connection lost")
			case decision.StateOnline:
				if lastState == decision.StateOffline {
					log.Info().Msg("internet connection restored")
				} else {
					log.Info().Msg("internet reachable, monitoring")
				}
			}
			lastState = state
		}

		log.Debug().
			Bool("success", outcome.Success).
			Int("attempts", outcome.Attempts).
			Float64("loss_ratio", outcome.LossRatio).
			Str("host", outcome.Host).
			Str("state", string(state)).
			Msg("probe applied")

		if rebootNeeded {
			if err := m.actuator.PowerCycle(ctx); err != nil {
				metrics.HardwareErrors.Inc()
				log.Error().Err(err).Msg("relay hardware failure, monitor halting")
				return err
			}
			m.tracker.RecordReboot(decision.ReasonAuto)
			metrics.RebootsTotal.WithLabelValues(string(decision.ReasonAuto)).Inc()
			m.forward(decision.ReasonAuto, state)
		}

		interval := m.onlineInterval
		if state != decision.StateOnline {
			interval = m.offlineInterval
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			log.Info().Msg("monitor stopping")
			return nil
		}
	}
}

func (m *Monitor) forward(reason decision.RebootReason, state decision.State) {
	if m.fw == nil {
		return
	}
	hostname, _ := os.Hostname()
	m.fw.Send(telemetry.EventPayload{
		Host:      hostname,
		Timestamp: time.Now(),
		Kind:      string(decision.EventReboot),
		Reason:    string(reason),
		State:     string(state),
		Message:   "router power cycled",
	})
}
