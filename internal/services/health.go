package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"projectctl/pkg/logging"
)

// TCPProber checks that something accepts connections on a local port.
type TCPProber struct {
	Host string
}

// ProbePort dials host:port once.
func (p TCPProber) ProbePort(ctx context.Context, port int) error {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	address := net.JoinHostPort(host, fmt.Sprint(port))

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("port %d not accepting connections: %w", port, err)
	}
	defer conn.Close()

	logging.Debug("Health", "connection successful to %s", address)
	return nil
}

// errProbeFatal marks a probe failure that retrying cannot fix, such as the
// process having exited.
type errProbeFatal struct{ err error }

func (e errProbeFatal) Error() string { return e.err.Error() }
func (e errProbeFatal) Unwrap() error { return e.err }

// backoff produces the doubling, capped delays between health probes.
type backoff struct {
	next time.Duration
	max  time.Duration
}

func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// pollUntilHealthy runs check with backoff until it succeeds, returns a
// fatal error, or timeout elapses. The returned error is the last probe
// error, wrapped in context.DeadlineExceeded on timeout.
func pollUntilHealthy(ctx context.Context, timeout, initial, max time.Duration, check func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	b := &backoff{next: initial, max: max}

	var last error
	for {
		err := check(ctx)
		if err == nil {
			return nil
		}
		last = err
		var fatal errProbeFatal
		if errors.As(err, &fatal) {
			return fatal.err
		}

		wait := b.Next()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, last)
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
