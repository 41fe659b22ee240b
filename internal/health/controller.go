// Package health keeps the set of usable nodes of a group up to date and
// routes calls through it.
package health

import (
	"cmp"
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/core/observable"
	"github.com/vietddude/nodepool/internal/core/scheduler"
	"github.com/vietddude/nodepool/internal/metrics"
)

// ErrNoEndpoints matches the exhaustion error of every policy that builds it
// from domain.NoEndpointsError.
var ErrNoEndpoints = domain.ErrNoEndpoints

// NoEndpointsError is the canonical exhaustion error.
type NoEndpointsError = domain.NoEndpointsError

// ErrorPolicy tells the controller what a service error means.
type ErrorPolicy interface {
	IsNetworkError(err error) bool
	IsCancelled(err error) bool
	NoEndpoints(group string) error
}

// Checker runs one probing round over a snapshot of the group's nodes and
// writes the outcome back to the registry. Results must be dropped once ctx
// is done.
type Checker interface {
	Check(ctx context.Context, nodes []domain.Node)
}

// NodeSource publishes the node list of a group.
type NodeSource interface {
	NodesPublisher(group domain.GroupID) observable.Readable[[]domain.Node]
}

// Options are the optional collaborators of a Controller.
type Options struct {
	Clock clock.Clock

	// FastestMode pins routing to ping order instead of shuffling.
	FastestMode observable.Readable[bool]
	// Reachability triggers a check on every false -> true edge.
	Reachability observable.Readable[bool]
	// Foreground triggers a check when the process returns after being in
	// the background for at least a third of the normal interval.
	Foreground observable.Readable[bool]

	// RetryDelay bounds how long WaitingRequest waits for the projection to
	// change after an exhausted attempt. Defaults to the crucial interval.
	RetryDelay time.Duration
}

// Controller owns the allowed projection of one group, schedules health
// checks and routes calls. S is the service handed to request functions.
type Controller[S any] struct {
	group   domain.NodeGroup
	service S
	policy  ErrorPolicy
	checker Checker
	clock   clock.Clock
	sched   *scheduler.Scheduler

	retryDelay time.Duration

	mu           sync.Mutex
	nodes        []domain.Node
	seenNodes    bool
	reachable    *bool
	backgroundAt time.Time
	closed       bool

	allowed *observable.Value[[]domain.Node]
	fastest atomic.Bool

	subs   []*observable.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	checks sync.WaitGroup
}

// NewController subscribes to source and starts scheduling checks for group.
func NewController[S any](
	source NodeSource,
	group domain.NodeGroup,
	service S,
	checker Checker,
	policy ErrorPolicy,
	opts Options,
) *Controller[S] {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = group.CrucialUpdateInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller[S]{
		group:      group,
		service:    service,
		policy:     policy,
		checker:    checker,
		clock:      clk,
		retryDelay: retryDelay,
		allowed:    observable.NewWithEqual[[]domain.Node](nil, domain.NodesEqual),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.sched = scheduler.New(clk, scheduler.Intervals{
		Normal:  group.NormalUpdateInterval,
		Crucial: group.CrucialUpdateInterval,
	}, c.tick)

	if opts.FastestMode != nil {
		c.subs = append(c.subs, opts.FastestMode.Subscribe(func(on bool) {
			c.fastest.Store(on)
		}))
	}
	c.subs = append(c.subs, c.allowed.Subscribe(c.onAllowed))
	c.subs = append(c.subs, source.NodesPublisher(group.ID).Subscribe(c.onNodes))
	if opts.Reachability != nil {
		c.subs = append(c.subs, opts.Reachability.Subscribe(c.onReachability))
	}
	if opts.Foreground != nil {
		c.subs = append(c.subs, opts.Foreground.Subscribe(c.onForeground))
	}
	return c
}

// Group returns the policy of the controlled group.
func (c *Controller[S]) Group() domain.NodeGroup {
	return c.group
}

// Allowed publishes the allowed projection, sorted by ping.
func (c *Controller[S]) Allowed() observable.Readable[[]domain.Node] {
	return c.allowed
}

// HealthCheck starts one probing round in the background and restarts the
// timer, so the next automatic round is a full interval away.
func (c *Controller[S]) HealthCheck() {
	c.healthCheck("manual")
}

func (c *Controller[S]) healthCheck(reason string) {
	c.sched.Reset()
	c.startCheck(reason)
}

// PreferredNodeIDs returns the id of the fastest allowed node while fastest
// mode is on, and nothing otherwise.
func (c *Controller[S]) PreferredNodeIDs() []string {
	if !c.fastest.Load() {
		return nil
	}
	allowed := c.allowed.Get()
	if len(allowed) == 0 {
		return nil
	}
	return []string{allowed[0].ID}
}

// CurrentInterval returns the armed health check interval.
func (c *Controller[S]) CurrentInterval() time.Duration {
	return c.sched.CurrentInterval()
}

// Mode returns the scheduler mode.
func (c *Controller[S]) Mode() scheduler.Mode {
	return c.sched.Mode()
}

// Close stops the timer and drops subscriptions. Probes still in flight run
// to completion with a cancelled context, so their results are discarded.
func (c *Controller[S]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	for _, sub := range c.subs {
		sub.Cancel()
	}
	c.sched.Stop()
	c.cancel()
	c.checks.Wait()
}

func (c *Controller[S]) tick() {
	c.startCheck("scheduled")
}

func (c *Controller[S]) startCheck(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	nodes := c.nodes
	c.checks.Add(1)
	c.mu.Unlock()

	slog.Debug("Health check", "group", c.group.ID, "reason", reason, "nodes", len(nodes))
	metrics.HealthChecksTotal.WithLabelValues(string(c.group.ID)).Inc()

	go func() {
		defer c.checks.Done()
		c.checker.Check(c.ctx, nodes)
	}()
}

// onNodes runs on the registry actor of the group.
func (c *Controller[S]) onNodes(nodes []domain.Node) {
	c.mu.Lock()
	edited := (c.seenNodes && domain.EndpointsChanged(c.nodes, nodes)) || (!c.seenNodes && len(nodes) > 0)
	c.nodes = nodes
	c.seenNodes = true
	c.mu.Unlock()

	c.allowed.Set(projection(nodes))

	if edited {
		c.healthCheck("nodes changed")
	}
}

func (c *Controller[S]) onAllowed(allowed []domain.Node) {
	mode := scheduler.ModeNormal
	if len(allowed) == 0 {
		mode = scheduler.ModeCrucial
	}
	if err := c.sched.Enter(mode); err != nil {
		return
	}
	metrics.AllowedNodes.WithLabelValues(string(c.group.ID)).Set(float64(len(allowed)))
	metrics.SchedulerInterval.WithLabelValues(string(c.group.ID)).Set(c.sched.CurrentInterval().Seconds())
}

func (c *Controller[S]) onReachability(reachable bool) {
	c.mu.Lock()
	recovered := c.reachable != nil && !*c.reachable && reachable
	c.reachable = &reachable
	c.mu.Unlock()

	if recovered {
		slog.Info("Network reachable again", "group", c.group.ID)
		c.healthCheck("reachable")
	}
}

func (c *Controller[S]) onForeground(foreground bool) {
	c.mu.Lock()
	if !foreground {
		if c.backgroundAt.IsZero() {
			c.backgroundAt = c.clock.Now()
		}
		c.mu.Unlock()
		return
	}
	since := c.backgroundAt
	c.backgroundAt = time.Time{}
	c.mu.Unlock()

	if since.IsZero() {
		return
	}
	if c.clock.Since(since) >= c.group.NormalUpdateInterval/3 {
		c.healthCheck("foreground")
	}
}

// projection keeps enabled, allowed nodes ordered by ping; nodes without a
// ping go last.
func projection(nodes []domain.Node) []domain.Node {
	var out []domain.Node
	for _, n := range nodes {
		if n.IsEnabled && n.Status.State == domain.StateAllowed {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Node) int {
		switch {
		case a.Ping == nil && b.Ping == nil:
			return 0
		case a.Ping == nil:
			return 1
		case b.Ping == nil:
			return -1
		default:
			return cmp.Compare(*a.Ping, *b.Ping)
		}
	})
	return out
}

// candidates returns the nodes to try, in order.
func (c *Controller[S]) candidates() []domain.Node {
	nodes := slices.Clone(c.allowed.Get())
	if !c.fastest.Load() {
		rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	}
	return nodes
}
