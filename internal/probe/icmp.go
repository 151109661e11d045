package probe

import (
	"context"
	"errors"
	"time"

	"github.com/go-ping/ping"
)

var errNoReply = errors.New("no echo reply within timeout")

// icmpPinger sends one ICMP echo request per call. Privileged mode is
// required on Linux unless ping_group_range covers the process.
type icmpPinger struct{}

func (icmpPinger) Ping(ctx context.Context, host string, timeout time.Duration, size int) error {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	if size > 0 {
		pinger.Size = size
	}
	pinger.SetPrivileged(true)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return ctx.Err()
	}

	if pinger.Statistics().PacketsRecv == 0 {
		return errNoReply
	}
	return nil
}
