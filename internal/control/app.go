// Package control wires the node registry, health controllers and their
// collaborators into a running service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/vietddude/nodepool/internal/core/config"
	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/core/observable"
	"github.com/vietddude/nodepool/internal/health"
	"github.com/vietddude/nodepool/internal/health/blockchain"
	"github.com/vietddude/nodepool/internal/infra/events"
	"github.com/vietddude/nodepool/internal/infra/probe"
	"github.com/vietddude/nodepool/internal/infra/rpc"
	"github.com/vietddude/nodepool/internal/monitor"
	"github.com/vietddude/nodepool/internal/nodes"
	"github.com/vietddude/nodepool/internal/server"
)

// ErrUnknownGroup is returned for a group that is not configured.
var ErrUnknownGroup = errors.New("unknown group")

// Controller is the health controller of a group. Requests go through an
// rpc.Client against the chosen node.
type Controller = health.Controller[*rpc.Client]

// group holds the per-group collaborators.
type group struct {
	cfg        config.GroupConfig
	policy     domain.NodeGroup
	prober     probe.Prober
	service    *rpc.Client
	checker    *blockchain.Checker
	controller *Controller
}

// App is the nodepool service.
type App struct {
	cfg      *config.AppConfig
	registry *nodes.Registry
	store    *Store
	emitter  events.Emitter
	monitor  *monitor.Monitor
	reach    *Reachability
	server   *server.Server

	groups map[domain.GroupID]*group
	order  []domain.GroupID

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New loads the registry and builds the probers of every configured group.
// Nothing is probed until StartControllers or Check is called.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	registry, store, err := OpenRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		registry: registry,
		store:    store,
		emitter:  events.Nop{},
		reach:    NewReachability(cfg.Reachability),
		groups:   make(map[domain.GroupID]*group, len(cfg.Groups)),
	}

	for _, gc := range cfg.Groups {
		g, err := newGroup(gc, registry)
		if err != nil {
			a.closeGroups()
			_ = registry.Close()
			_ = store.Close()
			return nil, err
		}
		a.groups[gc.ID] = g
		a.order = append(a.order, gc.ID)
	}
	return a, nil
}

func newGroup(gc config.GroupConfig, registry *nodes.Registry) (*group, error) {
	policy := gc.Policy()
	prober, err := probe.New(gc.Probe, gc.ProbeOptions())
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", gc.ID, err)
	}

	var opts []rpc.ClientOption
	if gc.Probe == probe.KindLisk {
		opts = append(opts, rpc.WithPath(probe.LiskRPCPath))
	}

	return &group{
		cfg:     gc,
		policy:  policy,
		prober:  prober,
		service: rpc.NewClient(policy.ProbeTimeout, opts...),
		checker: blockchain.NewChecker(policy, registry, prober, rpc.ErrorPolicy{},
			blockchain.WithConcurrency(gc.Concurrency)),
	}, nil
}

// Registry returns the node registry.
func (a *App) Registry() *nodes.Registry {
	return a.registry
}

// Groups returns the configured groups in configuration order.
func (a *App) Groups() []domain.GroupID {
	return a.order
}

// Controller returns the controller of id once StartControllers has run.
func (a *App) Controller(id domain.GroupID) (*Controller, bool) {
	g, ok := a.groups[id]
	if !ok || g.controller == nil {
		return nil, false
	}
	return g.controller, true
}

// Check runs one probing round over the current nodes of id and waits for it.
func (a *App) Check(ctx context.Context, id domain.GroupID) error {
	g, ok := a.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	g.checker.Check(ctx, a.registry.Nodes(id))
	return ctx.Err()
}

// StartControllers creates the controller of every group. Each controller
// starts probing as soon as it sees its nodes.
func (a *App) StartControllers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	for _, id := range a.order {
		g := a.groups[id]
		g.controller = health.NewController(a.registry, g.policy, g.service, g.checker, rpc.ErrorPolicy{}, health.Options{
			FastestMode:  observable.New(g.cfg.FastestMode),
			Reachability: a.reach.Value(),
			RetryDelay:   g.cfg.RetryDelay,
		})
	}
}

// Start runs the full service: event publishing, the transition monitor,
// reachability checks, the controllers and the status server.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Events.Enabled {
		emitter, err := events.NewNATSEmitter(a.cfg.Events.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.emitter = emitter
	}
	a.monitor = monitor.New(a.registry, a.emitter)
	a.monitor.Start()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reach.Run(ctx)
	}()

	if db := a.store.DB(); db != nil {
		db.StartMetricsCollector(ctx)
	}

	a.StartControllers()

	controllers := make(map[domain.GroupID]server.Controller, len(a.groups))
	for id, g := range a.groups {
		controllers[id] = g.controller
	}
	a.server = server.New(a.registry, controllers, ":"+strconv.Itoa(a.cfg.Server.Port))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Start(); err != nil {
			slog.Error("Status server failed", "error", err)
		}
	}()

	slog.Info("Nodepool started", "groups", len(a.order), "storage", a.cfg.Storage.Driver)
	return nil
}

// Stop shuts everything down and saves the final snapshot.
func (a *App) Stop(ctx context.Context) error {
	slog.Info("Stopping nodepool...")

	var errs []error
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}
	for _, id := range a.order {
		if c := a.groups[id].controller; c != nil {
			c.Close()
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.monitor != nil {
		a.monitor.Close()
	}
	if err := a.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.emitter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close events: %w", err))
	}
	a.closeGroups()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) closeGroups() {
	for _, g := range a.groups {
		if err := g.prober.Close(); err != nil {
			slog.Warn("Failed to close prober", "group", g.cfg.ID, "error", err)
		}
		_ = g.service.Close()
	}
}
