package health

import (
	"context"
	"log/slog"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/core/observable"
	"github.com/vietddude/nodepool/internal/metrics"
)

// CallFunc performs one call against one node.
type CallFunc[T, S any] func(ctx context.Context, service S, node domain.Node) (T, error)

// Request calls fn against the allowed nodes of c until one succeeds.
//
// A non-network error or a cancellation is returned as is, without trying
// further nodes. When the projection is empty or every node fails with a
// network error, Request starts one health check and returns the policy's
// no-endpoints error.
func Request[T, S any](ctx context.Context, c *Controller[S], fn CallFunc[T, S]) (T, error) {
	res, exhausted, err := request(ctx, c, fn)
	if exhausted {
		c.healthCheck("exhausted")
	}
	return res, err
}

// WaitingRequest is Request for calls that must not fail only because no
// node is allowed right now. It waits for the projection to become non-empty,
// and after an exhausted attempt waits for the projection to change (or the
// retry delay to pass) before trying again. Only ctx bounds the wait.
func WaitingRequest[T, S any](ctx context.Context, c *Controller[S], fn CallFunc[T, S]) (T, error) {
	var zero T
	for {
		tried, err := observable.Wait(ctx, c.allowed, func(nodes []domain.Node) bool {
			return len(nodes) > 0
		})
		if err != nil {
			return zero, err
		}

		res, exhausted, err := request(ctx, c, fn)
		if !exhausted {
			return res, err
		}
		c.healthCheck("exhausted")

		if err := c.waitChange(ctx, tried); err != nil {
			return zero, err
		}
	}
}

func request[T, S any](ctx context.Context, c *Controller[S], fn CallFunc[T, S]) (T, bool, error) {
	var zero T
	group := string(c.group.ID)

	for _, node := range c.candidates() {
		if err := ctx.Err(); err != nil {
			metrics.RequestsTotal.WithLabelValues(group, "cancelled").Inc()
			return zero, false, err
		}

		res, err := fn(ctx, c.service, node)
		if err == nil {
			metrics.RequestAttempts.WithLabelValues(group, "success").Inc()
			metrics.RequestsTotal.WithLabelValues(group, "success").Inc()
			return res, false, nil
		}

		if c.policy.IsCancelled(err) {
			metrics.RequestsTotal.WithLabelValues(group, "cancelled").Inc()
			return zero, false, err
		}
		if !c.policy.IsNetworkError(err) {
			metrics.RequestAttempts.WithLabelValues(group, "error").Inc()
			metrics.RequestsTotal.WithLabelValues(group, "error").Inc()
			return zero, false, err
		}

		metrics.RequestAttempts.WithLabelValues(group, "network_error").Inc()
		slog.Debug("Node failed, trying next", "group", group, "node", node.ID, "host", node.Main.Host, "error", err)
	}

	metrics.RequestsTotal.WithLabelValues(group, "exhausted").Inc()
	return zero, true, c.policy.NoEndpoints(c.group.Name)
}

// waitChange blocks until the projection differs from seen, the retry delay
// passes, or ctx is done.
func (c *Controller[S]) waitChange(ctx context.Context, seen []domain.Node) error {
	changed := make(chan struct{}, 1)
	sub := c.allowed.Subscribe(func(nodes []domain.Node) {
		if !domain.NodesEqual(nodes, seen) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Cancel()

	timer := c.clock.Timer(c.retryDelay)
	defer timer.Stop()

	select {
	case <-changed:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
