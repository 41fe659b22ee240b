// Package blockchain probes the nodes of a chain group and grades them by
// version and by agreement on chain height.
package blockchain

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/health"
	"github.com/vietddude/nodepool/internal/health/quorum"
	"github.com/vietddude/nodepool/internal/metrics"
)

// Prober fetches the status of a node origin.
type Prober interface {
	Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error)
}

// Registry is the part of nodes.Registry the checker writes to.
type Registry interface {
	UpdateNode(id string, mutate func(*domain.Node)) (bool, error)
	UpdateNodes(group domain.GroupID, fn func(nodes []domain.Node)) (bool, error)
}

// Checker implements health.Checker for chain groups.
type Checker struct {
	group    domain.NodeGroup
	registry Registry
	prober   Prober
	policy   health.ErrorPolicy
	clock    clock.Clock

	// Keyed by node id; a node already being probed is not probed again,
	// later callers wait for the running probe instead.
	inFlight singleflight.Group
	limit    int
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock sets the clock used to measure ping when the prober reports none.
func WithClock(clk clock.Clock) Option {
	return func(c *Checker) { c.clock = clk }
}

// WithConcurrency caps parallel probes per round. 0 means unlimited.
func WithConcurrency(n int) Option {
	return func(c *Checker) { c.limit = n }
}

func NewChecker(group domain.NodeGroup, registry Registry, prober Prober, policy health.ErrorPolicy, opts ...Option) *Checker {
	c := &Checker{
		group:    group,
		registry: registry,
		prober:   prober,
		policy:   policy,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check probes every enabled node, waits for all of them and grades the group.
func (c *Checker) Check(ctx context.Context, nodes []domain.Node) {
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}

	for _, n := range nodes {
		if !n.IsEnabled {
			continue
		}
		node := n.Clone()
		g.Go(func() error {
			c.inFlight.Do(node.ID, func() (any, error) {
				c.probeNode(ctx, node)
				return nil, nil
			})
			return nil
		})
	}
	_ = g.Wait()

	c.grade(ctx, "")
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeCancelled
)

type attempt struct {
	origin      domain.Origin
	markOffline bool
	// PreferMain values recorded on success and on failure; nil keeps it.
	preferOnSuccess *bool
	preferOnFailure *bool
}

// probeNode applies the dual-origin policy. A node with a recorded preference
// is probed once on that origin. Otherwise main is tried without consequence,
// then once more with the failure counted.
func (c *Checker) probeNode(ctx context.Context, node domain.Node) {
	if node.PreferMain != nil {
		c.attempt(ctx, node, attempt{
			origin:      node.PreferredOrigin(),
			markOffline: true,
		})
		return
	}

	switch c.attempt(ctx, node, attempt{
		origin:          node.Main,
		preferOnSuccess: domain.Ptr(true),
	}) {
	case outcomeSuccess, outcomeCancelled:
		return
	}

	c.attempt(ctx, node, attempt{
		origin:          node.Main,
		markOffline:     true,
		preferOnSuccess: domain.Ptr(true),
		preferOnFailure: domain.Ptr(false),
	})
}

func (c *Checker) attempt(ctx context.Context, node domain.Node, a attempt) outcome {
	probeCtx := ctx
	if c.group.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, c.group.ProbeTimeout)
		defer cancel()
	}

	start := c.clock.Now()
	info, err := c.prober.Probe(probeCtx, a.origin)
	elapsed := c.clock.Since(start)

	if ctx.Err() != nil || (err != nil && c.policy.IsCancelled(err)) {
		return outcomeCancelled
	}

	group := string(c.group.ID)
	if err != nil {
		metrics.ProbeDuration.WithLabelValues(group, "failure").Observe(elapsed.Seconds())
		slog.Debug("Probe failed", "group", group, "node", node.ID, "origin", a.origin.String(), "offline", a.markOffline, "error", err)

		if a.markOffline || a.preferOnFailure != nil {
			c.update(node.ID, func(n *domain.Node) {
				if a.markOffline {
					n.Status = domain.StatusOffline
				}
				if a.preferOnFailure != nil {
					n.PreferMain = domain.Ptr(*a.preferOnFailure)
				}
			})
		}
		return outcomeFailure
	}

	metrics.ProbeDuration.WithLabelValues(group, "success").Observe(elapsed.Seconds())
	if info.Ping <= 0 {
		info.Ping = elapsed
	}

	c.update(node.ID, func(n *domain.Node) {
		applyStatus(n, info, c.group)
		if a.preferOnSuccess != nil {
			n.PreferMain = domain.Ptr(*a.preferOnSuccess)
		}
	})
	c.grade(ctx, node.ID)
	return outcomeSuccess
}

func (c *Checker) update(id string, mutate func(*domain.Node)) {
	if _, err := c.registry.UpdateNode(id, mutate); err != nil {
		// The node was removed while it was being probed.
		slog.Debug("Dropping probe result", "group", c.group.ID, "node", id, "error", err)
	}
}

// applyStatus copies a successful probe result onto n. An outdated version
// rejects the node right away.
func applyStatus(n *domain.Node, info domain.StatusInfo, group domain.NodeGroup) {
	n.WSEnabled = info.WSEnabled
	n.WSPort = info.WSPort
	n.Version = info.Version
	n.Height = info.Height
	n.Ping = domain.Ptr(info.Ping)

	if group.IsOutdated(info.Version) {
		n.Status = domain.StatusOutdated
	}
}

// grade recomputes the status of every node in the working set in one
// registry transaction. force joins the working set whatever its status.
func (c *Checker) grade(ctx context.Context, force string) {
	if ctx.Err() != nil {
		return
	}
	_, err := c.registry.UpdateNodes(c.group.ID, func(nodes []domain.Node) {
		Grade(nodes, c.group, force)
	})
	if err != nil {
		slog.Debug("Grading skipped", "group", c.group.ID, "error", err)
	}
}

// Grade assigns statuses to the working set of nodes in place.
//
// The working set is every enabled node that is unknown, allowed or
// synchronizing, plus the node with id force. Outdated nodes are rejected;
// nodes inside the quorum height range are allowed, the others are
// synchronizing. A node without height keeps its status. Groups with
// HeightEpsilon 0 have no height quorum and allow every working node that
// reported in.
func Grade(nodes []domain.Node, group domain.NodeGroup, force string) {
	var (
		working []int
		heights []int
	)
	for i, n := range nodes {
		if !n.IsEnabled {
			continue
		}
		switch {
		case n.ID == force && force != "":
		case n.Status.State == domain.StateUnknown,
			n.Status.State == domain.StateAllowed,
			n.Status.State == domain.StateSynchronizing:
		default:
			continue
		}
		working = append(working, i)
		if n.Height != nil {
			heights = append(heights, *n.Height)
		}
	}

	var rng *quorum.Range
	if group.HeightEpsilon > 0 {
		rng = quorum.ActualHeightsRange(heights, group.HeightEpsilon)
	}

	for _, i := range working {
		n := &nodes[i]
		switch {
		case group.IsOutdated(n.Version):
			n.Status = domain.StatusOutdated
		case group.HeightEpsilon <= 0:
			if n.ID == force || n.Status.State != domain.StateUnknown {
				n.Status = domain.StatusAllowed
			}
		case n.Height == nil:
		case rng != nil && rng.Contains(*n.Height):
			n.Status = domain.StatusAllowed
		default:
			n.Status = domain.StatusSynchronizing
		}
	}
}
