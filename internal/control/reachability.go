package control

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/nodepool/internal/core/config"
	"github.com/vietddude/nodepool/internal/core/observable"
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Reachability tracks whether the network is reachable by dialling a set of
// well-known targets. The network counts as reachable when any target
// accepts a TCP connection.
type Reachability struct {
	targets  []string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	clock    clock.Clock

	value *observable.Value[bool]
}

// ReachabilityOption configures a Reachability monitor.
type ReachabilityOption func(*Reachability)

func WithDialer(dial DialFunc) ReachabilityOption {
	return func(r *Reachability) { r.dial = dial }
}

func WithReachabilityClock(clk clock.Clock) ReachabilityOption {
	return func(r *Reachability) { r.clock = clk }
}

// NewReachability starts out reachable.
func NewReachability(cfg config.ReachabilityConfig, opts ...ReachabilityOption) *Reachability {
	r := &Reachability{
		targets:  cfg.Targets,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		dial:     (&net.Dialer{}).DialContext,
		clock:    clock.New(),
		value:    observable.New(true),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Value publishes the current reachability.
func (r *Reachability) Value() observable.Readable[bool] {
	return r.value
}

// Check dials the targets once and publishes the result.
func (r *Reachability) Check(ctx context.Context) bool {
	reachable := r.probe(ctx)
	if ctx.Err() != nil {
		return r.value.Get()
	}
	if r.value.Set(reachable) {
		if reachable {
			slog.Info("Network reachable")
		} else {
			slog.Warn("Network unreachable", "targets", r.targets)
		}
	}
	return reachable
}

// Run checks every interval until ctx is done. Without targets it returns
// immediately.
func (r *Reachability) Run(ctx context.Context) {
	if len(r.targets) == 0 || r.interval <= 0 {
		return
	}
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

func (r *Reachability) probe(ctx context.Context) bool {
	if len(r.targets) == 0 {
		return true
	}
	for _, target := range r.targets {
		dialCtx := ctx
		var cancel context.CancelFunc = func() {}
		if r.timeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		conn, err := r.dial(dialCtx, "tcp", target)
		cancel()
		if err == nil {
			_ = conn.Close()
			return true
		}
		slog.Debug("Reachability target failed", "target", target, "error", err)
	}
	return false
}
