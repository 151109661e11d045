package probe

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// retryBackoff is the fixed wait between failed attempts. It is a contract of
// the prober, not a tunable.
const retryBackoff = time.Second

// Outcome is the result of one Probe invocation. It is created fresh per call
// and never mutated afterwards.
type Outcome struct {
	Success   bool    `json:"success"`
	Attempts  int     `json:"attempts"`
	LossRatio float64 `json:"loss_ratio"`
	Host      string  `json:"host"`
}

// Pinger sends a single echo request to host and returns nil when a reply
// arrives within timeout. Timeouts and unreachable networks are the same
// failure: a non-nil error.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration, size int) error
}

// Prober checks internet reachability against a set of candidate hosts with
// bounded retries. It is not safe for concurrent use; the monitor loop is its
// only caller.
type Prober struct {
	hosts   []string
	retries int
	timeout time.Duration
	size    int
	pinger  Pinger
	rng     *rand.Rand
	backoff time.Duration
}

func New(hosts []string, retries int, timeout time.Duration, packetSize int) (*Prober, error) {
	return NewWithPinger(hosts, retries, timeout, packetSize, icmpPinger{}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithPinger injects the pinger and random source. Tests use it to supply
// deterministic attempt sequences.
func NewWithPinger(hosts []string, retries int, timeout time.Duration, packetSize int, pinger Pinger, rng *rand.Rand) (*Prober, error) {
	if len(hosts) == 0 {
		return nil, errors.New("probe: no hosts configured")
	}
	if retries < 1 {
		return nil, errors.New("probe: retries must be >= 1")
	}
	return &Prober{
		hosts:   hosts,
		retries: retries,
		timeout: timeout,
		size:    packetSize,
		pinger:  pinger,
		rng:     rng,
		backoff: retryBackoff,
	}, nil
}

// Probe performs up to retries sequential attempts, each against a host drawn
// uniformly at random (with replacement), and stops on the first success.
// Failure is data, not an error: an all-fail run returns Success=false with
// LossRatio 1.0.
func (p *Prober) Probe(ctx context.Context) Outcome {
	var host string
	for attempt := 1; attempt <= p.retries; attempt++ {
		host = p.hosts[p.rng.Intn(len(p.hosts))]
		err := p.pinger.Ping(ctx, host, p.timeout, p.size)
		if err == nil {
			out := Outcome{
				Success:   true,
				Attempts:  attempt,
				LossRatio: float64(attempt-1) / float64(attempt),
				Host:      host,
			}
			if attempt > 1 {
				log.Warn().
					Int("attempts", attempt).
					Float64("loss_ratio", out.LossRatio).
					Str("host", host).
					Msg("packet loss before successful probe")
			}
			return out
		}
		log.Debug().Err(err).Str("host", host).Int("attempt", attempt).Int("retries", p.retries).Msg("probe attempt failed")

		if attempt < p.retries {
			select {
			case <-time.After(p.backoff):
			case <-ctx.Done():
				return Outcome{Success: false, Attempts: attempt, LossRatio: 1.0, Host: host}
			}
		}
	}
	return Outcome{Success: false, Attempts: p.retries, LossRatio: 1.0, Host: host}
}
