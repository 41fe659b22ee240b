// Package monitor watches registry snapshots and reports node changes as
// metrics, log lines and events.
package monitor

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/core/observable"
	"github.com/vietddude/nodepool/internal/infra/events"
	"github.com/vietddude/nodepool/internal/metrics"
)

var states = []domain.ConnectionState{
	domain.StateUnknown,
	domain.StateAllowed,
	domain.StateSynchronizing,
	domain.StateOffline,
	domain.StateNotAllowed,
}

// Source publishes every (group, node) pair.
type Source interface {
	NodesWithGroupsPublisher() observable.Readable[[]domain.NodeWithGroup]
}

// Monitor diffs consecutive snapshots. Snapshot callbacks run on registry
// actors, so events are handed to a separate goroutine for emitting.
type Monitor struct {
	source      Source
	emitter     events.Emitter
	clock       clock.Clock
	emitTimeout time.Duration

	mu     sync.Mutex
	last   map[string]domain.NodeWithGroup
	seeded bool
	closed bool

	queue chan domain.NodeEvent
	sub   *observable.Subscription
	wg    sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

// WithQueueSize sets how many events may wait for the emitter before new
// ones are dropped.
func WithQueueSize(n int) Option {
	return func(m *Monitor) { m.queue = make(chan domain.NodeEvent, n) }
}

func New(source Source, emitter events.Emitter, opts ...Option) *Monitor {
	if emitter == nil {
		emitter = events.Nop{}
	}
	m := &Monitor{
		source:      source,
		emitter:     emitter,
		clock:       clock.New(),
		emitTimeout: 5 * time.Second,
		last:        make(map[string]domain.NodeWithGroup),
		queue:       make(chan domain.NodeEvent, 256),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the source. The current snapshot seeds the monitor
// without producing events.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.sub = m.source.NodesWithGroupsPublisher().Subscribe(m.onSnapshot)
}

// Close stops watching and waits for queued events to be emitted.
func (m *Monitor) Close() {
	if m.sub != nil {
		m.sub.Cancel()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) onSnapshot(pairs []domain.NodeWithGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	cur := make(map[string]domain.NodeWithGroup, len(pairs))
	for _, p := range pairs {
		cur[p.Node.ID] = p
		record(p)
	}
	for id, p := range m.last {
		if _, ok := cur[id]; !ok {
			forget(p)
		}
	}

	if m.seeded {
		for _, ev := range Diff(m.last, pairs, m.clock.Now()) {
			m.report(ev)
		}
	}
	m.last = cur
	m.seeded = true
}

func (m *Monitor) report(ev domain.NodeEvent) {
	switch ev.Type {
	case domain.EventTypeStatusChanged:
		metrics.StatusTransitions.WithLabelValues(string(ev.Group), string(ev.From.State), string(ev.To.State)).Inc()
		if !domain.CanTransition(ev.From.State, ev.To.State) {
			slog.Warn("Unexpected node status transition", "group", ev.Group, "node", ev.NodeID, "from", ev.From, "to", ev.To)
		} else {
			slog.Info("Node status changed", "group", ev.Group, "node", ev.NodeID, "origin", ev.Origin, "from", ev.From, "to", ev.To)
		}
	case domain.EventTypeNodeAdded:
		slog.Info("Node added", "group", ev.Group, "node", ev.NodeID, "origin", ev.Origin)
	case domain.EventTypeNodeRemoved:
		slog.Info("Node removed", "group", ev.Group, "node", ev.NodeID, "origin", ev.Origin)
	}

	select {
	case m.queue <- ev:
	default:
		slog.Warn("Event queue full, dropping event", "group", ev.Group, "node", ev.NodeID, "type", ev.Type)
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for ev := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.emitTimeout)
		if err := m.emitter.Emit(ctx, ev); err != nil {
			slog.Warn("Failed to emit node event", "group", ev.Group, "node", ev.NodeID, "error", err)
		}
		cancel()
	}
}

// Diff returns the events that turn prev into cur, in the order of cur
// followed by removals.
func Diff(prev map[string]domain.NodeWithGroup, cur []domain.NodeWithGroup, at time.Time) []domain.NodeEvent {
	var out []domain.NodeEvent
	seen := make(map[string]struct{}, len(cur))

	for _, p := range cur {
		seen[p.Node.ID] = struct{}{}
		old, ok := prev[p.Node.ID]
		switch {
		case !ok:
			out = append(out, event(domain.EventTypeNodeAdded, p, domain.ConnectionStatus{}, at))
		case old.Node.Status != p.Node.Status:
			out = append(out, event(domain.EventTypeStatusChanged, p, old.Node.Status, at))
		}
	}

	var removed []domain.NodeWithGroup
	for id, p := range prev {
		if _, ok := seen[id]; !ok {
			removed = append(removed, p)
		}
	}
	slices.SortFunc(removed, func(a, b domain.NodeWithGroup) int {
		return strings.Compare(a.Node.ID, b.Node.ID)
	})
	for _, p := range removed {
		ev := event(domain.EventTypeNodeRemoved, p, p.Node.Status, at)
		ev.To = domain.ConnectionStatus{}
		out = append(out, ev)
	}
	return out
}

func event(typ domain.EventType, p domain.NodeWithGroup, from domain.ConnectionStatus, at time.Time) domain.NodeEvent {
	return domain.NodeEvent{
		Type:   typ,
		Group:  p.Group,
		NodeID: p.Node.ID,
		Origin: p.Node.Main.String(),
		From:   from,
		To:     p.Node.Status,
		Height: p.Node.Height,
		At:     at,
	}
}

func record(p domain.NodeWithGroup) {
	group, id, host := string(p.Group), p.Node.ID, p.Node.Main.Host
	for _, st := range states {
		v := 0.0
		if p.Node.Status.State == st {
			v = 1
		}
		metrics.NodeStatus.WithLabelValues(group, id, host, string(st)).Set(v)
	}
	if p.Node.Height != nil {
		metrics.NodeHeight.WithLabelValues(group, id, host).Set(float64(*p.Node.Height))
	}
	if p.Node.Ping != nil {
		metrics.NodePing.WithLabelValues(group, id, host).Set(p.Node.Ping.Seconds())
	}
}

func forget(p domain.NodeWithGroup) {
	labels := prometheus.Labels{"node": p.Node.ID}
	metrics.NodeStatus.DeletePartialMatch(labels)
	metrics.NodeHeight.DeletePartialMatch(labels)
	metrics.NodePing.DeletePartialMatch(labels)
}
