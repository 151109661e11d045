package probe

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("host unreachable")

// scriptedPinger replays a fixed sequence of attempt results.
type scriptedPinger struct {
	results []error
	calls   int
	hosts   []string
}

func (s *scriptedPinger) Ping(_ context.Context, host string, _ time.Duration, _ int) error {
	var err error
	if s.calls < len(s.results) {
		err = s.results[s.calls]
	}
	s.calls++
	s.hosts = append(s.hosts, host)
	return err
}

func newTestProber(t *testing.T, hosts []string, retries int, pinger Pinger) *Prober {
	t.Helper()
	p, err := NewWithPinger(hosts, retries, time.Second, 0, pinger, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	p.backoff = 0
	return p
}

func TestProbeFirstAttemptSucceeds(t *testing.T) {
	pinger := &scriptedPinger{results: []error{nil}}
	p := newTestProber(t, []string{"8.8.8.8"}, 5, pinger)

	out := p.Probe(context.Background())

	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0.0, out.LossRatio)
	assert.Equal(t, "8.8.8.8", out.Host)
	assert.Equal(t, 1, pinger.calls)
}

func TestProbeSucceedsAfterRetries(t *testing.T) {
	// fail, fail, succeed with retries=3
	pinger := &scriptedPinger{results: []error{errUnreachable, errUnreachable, nil}}
	p := newTestProber(t, []string{"8.8.8.8"}, 3, pinger)

	out := p.Probe(context.Background())

	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.InDelta(t, 2.0/3.0, out.LossRatio, 1e-9)
}

func TestProbeStopsOnFirstSuccess(t *testing.T) {
	pinger := &scriptedPinger{results: []error{errUnreachable, nil, errUnreachable}}
	p := newTestProber(t, []string{"8.8.8.8"}, 5, pinger)

	out := p.Probe(context.Background())

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, pinger.calls, "no attempts after the first success")
}

func TestProbeAllAttemptsFail(t *testing.T) {
	pinger := &scriptedPinger{results: []error{errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable}}
	p := newTestProber(t, []string{"8.8.8.8"}, 5, pinger)

	out := p.Probe(context.Background())

	assert.False(t, out.Success)
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, 1.0, out.LossRatio)
	assert.Equal(t, 5, pinger.calls)
}

func TestProbeSelectsHostsFromSet(t *testing.T) {
	hosts := []string{"8.8.8.8", "1.1.1.1", "9.9.9.9"}
	pinger := &scriptedPinger{results: []error{errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable}}
	p := newTestProber(t, hosts, 8, pinger)

	p.Probe(context.Background())

	require.Len(t, pinger.hosts, 8)
	valid := map[string]bool{"8.8.8.8": true, "1.1.1.1": true, "9.9.9.9": true}
	seen := map[string]bool{}
	for _, h := range pinger.hosts {
		assert.True(t, valid[h], "unexpected host %q", h)
		seen[h] = true
	}
	// selection is with replacement, so over 8 draws from 3 hosts at least
	// one must repeat
	assert.Less(t, len(seen), len(pinger.hosts))
}

func TestProbeCancelledDuringBackoff(t *testing.T) {
	pinger := &scriptedPinger{results: []error{errUnreachable, errUnreachable}}
	p, err := NewWithPinger([]string{"8.8.8.8"}, 5, time.Second, 0, pinger, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	p.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := p.Probe(ctx)

	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1.0, out.LossRatio)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, 5, time.Second, 0)
	assert.Error(t, err, "empty host list must fail fast")

	_, err = New([]string{"8.8.8.8"}, 0, time.Second, 0)
	assert.Error(t, err, "retries below 1 must fail fast")
}
