// Package nodes owns the persisted list of nodes per group.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/core/observable"
)

var (
	ErrClosed       = errors.New("registry closed")
	ErrNodeNotFound = errors.New("node not found")
	ErrDuplicateID  = errors.New("duplicate node id")
)

// Store persists registry snapshots.
type Store interface {
	// Load returns nil, nil when nothing was saved in the current schema.
	Load(ctx context.Context) ([]domain.NodeDTO, error)
	// LoadLegacy returns rows of the previous schema, if any.
	LoadLegacy(ctx context.Context) ([]domain.LegacyNodeDTO, error)
	Save(ctx context.Context, nodes []domain.NodeDTO) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaults replaces the compiled-in default node lists.
func WithDefaults(defaults map[domain.GroupID][]domain.Node) Option {
	return func(r *Registry) { r.defaults = defaults }
}

// WithSaveTimeout bounds each background save.
func WithSaveTimeout(d time.Duration) Option {
	return func(r *Registry) { r.saveTimeout = d }
}

// Registry is the single source of truth for (group, node) pairs.
//
// Each group is owned by one actor goroutine. Mutations and the change
// notifications they cause run on that goroutine, so observers of a group
// see changes in program order. Saving happens on a separate goroutine that
// coalesces change signals.
type Registry struct {
	store       Store
	defaults    map[domain.GroupID][]domain.Node
	saveTimeout time.Duration

	mu     sync.RWMutex
	groups map[domain.GroupID]*groupActor
	order  []domain.GroupID
	index  map[string]domain.GroupID
	closed bool

	all *observable.Value[[]domain.NodeWithGroup]

	saveMu    sync.Mutex
	lastSaved []domain.NodeWithGroup
	saveCh    chan struct{}
	stop      chan struct{}
	actors    sync.WaitGroup
	saver     sync.WaitGroup
}

// NewRegistry creates an empty registry and starts its saver. Call Load to
// populate it from the store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		defaults:    Defaults,
		saveTimeout: 10 * time.Second,
		groups:      make(map[domain.GroupID]*groupActor),
		index:       make(map[string]domain.GroupID),
		all:         observable.NewWithEqual[[]domain.NodeWithGroup](nil, pairsEqual),
		saveCh:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.saver.Add(1)
	go r.runSaver()
	return r
}

// Load fills the registry from the store, migrating the legacy schema when
// the current one is absent, and appends default nodes whose host is missing
// from their group.
func (r *Registry) Load(ctx context.Context) error {
	dtos, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}

	var pairs []domain.NodeWithGroup
	if dtos != nil {
		for _, dto := range dtos {
			pairs = append(pairs, domain.FromDTO(dto))
		}
	} else {
		legacy, err := r.store.LoadLegacy(ctx)
		if err != nil {
			slog.Warn("Legacy node migration failed", "error", err)
		}
		for _, old := range legacy {
			pairs = append(pairs, domain.MigrateLegacy(old))
		}
		if len(legacy) > 0 {
			slog.Info("Migrated legacy nodes", "count", len(legacy))
		}
	}

	pairs = dedupeIDs(pairs)
	if dtos != nil {
		r.saveMu.Lock()
		r.lastSaved = canonicalOrder(pairs)
		r.saveMu.Unlock()
	}
	pairs = mergeDefaults(pairs, r.defaults)

	byGroup := make(map[domain.GroupID][]domain.Node)
	var groupOrder []domain.GroupID
	for _, p := range pairs {
		if _, ok := byGroup[p.Group]; !ok {
			groupOrder = append(groupOrder, p.Group)
		}
		byGroup[p.Group] = append(byGroup[p.Group], p.Node)
	}

	for _, id := range groupOrder {
		nodes := byGroup[id]
		g, err := r.actor(id)
		if err != nil {
			return err
		}
		if _, err := g.do(func(cur []domain.Node) []domain.Node {
			r.mu.Lock()
			for _, n := range cur {
				delete(r.index, n.ID)
			}
			for _, n := range nodes {
				r.index[n.ID] = id
			}
			r.mu.Unlock()
			return domain.CloneNodes(nodes)
		}); err != nil {
			return err
		}
	}

	slog.Info("Nodes loaded", "nodes", len(pairs), "groups", len(groupOrder))
	return nil
}

// AddNode appends node to group. A missing id is generated.
func (r *Registry) AddNode(node domain.Node, group domain.GroupID) (domain.Node, error) {
	n := node.Clone()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	r.mu.Lock()
	if _, dup := r.index[n.ID]; dup {
		r.mu.Unlock()
		return domain.Node{}, fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}
	g, err := r.actorLocked(group)
	if err != nil {
		r.mu.Unlock()
		return domain.Node{}, err
	}
	r.index[n.ID] = group
	r.mu.Unlock()

	if _, err := g.do(func(cur []domain.Node) []domain.Node {
		return append(cur, n)
	}); err != nil {
		return domain.Node{}, err
	}
	return n.Clone(), nil
}

// RemoveNode removes the node with id. Unknown ids are ignored.
func (r *Registry) RemoveNode(id string) error {
	g, ok, err := r.lookup(id)
	if err != nil || !ok {
		return err
	}

	_, err = g.do(func(cur []domain.Node) []domain.Node {
		i := indexOf(cur, id)
		if i < 0 {
			return cur
		}
		r.mu.Lock()
		delete(r.index, id)
		r.mu.Unlock()
		return slices.Delete(cur, i, i+1)
	})
	return err
}

// UpdateNode applies mutate to a copy of the node and commits it only when
// something changed. The id cannot be changed.
func (r *Registry) UpdateNode(id string, mutate func(*domain.Node)) (bool, error) {
	g, ok, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	found := false
	changed, err := g.do(func(cur []domain.Node) []domain.Node {
		i := indexOf(cur, id)
		if i < 0 {
			return cur
		}
		found = true
		mutate(&cur[i])
		cur[i].ID = id
		return cur
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return changed, nil
}

// UpdateNodes runs fn over a copy of all nodes of group as one transaction.
// fn may change node fields but not the list itself.
func (r *Registry) UpdateNodes(group domain.GroupID, fn func(nodes []domain.Node)) (bool, error) {
	g, err := r.actor(group)
	if err != nil {
		return false, err
	}
	return g.do(func(cur []domain.Node) []domain.Node {
		ids := make([]string, len(cur))
		for i, n := range cur {
			ids[i] = n.ID
		}
		fn(cur)
		for i := range cur {
			cur[i].ID = ids[i]
		}
		return cur
	})
}

// ResetNodes replaces the nodes of group with fresh copies of its defaults.
func (r *Registry) ResetNodes(group domain.GroupID) error {
	fresh := instantiate(r.defaults[group])

	g, err := r.actor(group)
	if err != nil {
		return err
	}
	_, err = g.do(func(cur []domain.Node) []domain.Node {
		r.mu.Lock()
		for _, n := range cur {
			delete(r.index, n.ID)
		}
		for _, n := range fresh {
			r.index[n.ID] = group
		}
		r.mu.Unlock()
		return fresh
	})
	return err
}

// NodesPublisher returns the de-duplicating node list stream of group.
// Subscribers get the current list immediately. Lists are shared; do not modify them.
func (r *Registry) NodesPublisher(group domain.GroupID) observable.Readable[[]domain.Node] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureActorLocked(group).nodes
}

// NodesWithGroupsPublisher streams every (group, node) pair.
func (r *Registry) NodesWithGroupsPublisher() observable.Readable[[]domain.NodeWithGroup] {
	return r.all
}

// Nodes returns a copy of the nodes of group.
func (r *Registry) Nodes(group domain.GroupID) []domain.Node {
	r.mu.RLock()
	g, ok := r.groups[group]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return domain.CloneNodes(g.nodes.Get())
}

// NodesWithGroups returns a copy of every pair.
func (r *Registry) NodesWithGroups() []domain.NodeWithGroup {
	pairs := r.collect()
	for i := range pairs {
		pairs[i].Node = pairs[i].Node.Clone()
	}
	return pairs
}

// Node returns the node with id and its group.
func (r *Registry) Node(id string) (domain.NodeWithGroup, bool) {
	r.mu.RLock()
	group, ok := r.index[id]
	g := r.groups[group]
	r.mu.RUnlock()
	if !ok || g == nil {
		return domain.NodeWithGroup{}, false
	}
	nodes := g.nodes.Get()
	if i := indexOf(nodes, id); i >= 0 {
		return domain.NodeWithGroup{Group: group, Node: nodes[i].Clone()}, true
	}
	return domain.NodeWithGroup{}, false
}

// Groups lists known groups in creation order.
func (r *Registry) Groups() []domain.GroupID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// HaveActiveNode reports whether group has an enabled, allowed node.
func (r *Registry) HaveActiveNode(group domain.GroupID) bool {
	r.mu.RLock()
	g, ok := r.groups[group]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	for _, n := range g.nodes.Get() {
		if n.IsEnabled && n.Status.State == domain.StateAllowed {
			return true
		}
	}
	return false
}

// Flush saves the current snapshot synchronously.
func (r *Registry) Flush(ctx context.Context) error {
	return r.save(ctx)
}

// Close stops every group actor and the saver, then writes a final snapshot.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, g := range r.groups {
		close(g.quit)
	}
	r.mu.Unlock()

	r.actors.Wait()
	close(r.stop)
	r.saver.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()
	return r.save(ctx)
}

func (r *Registry) lookup(id string) (*groupActor, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	group, ok := r.index[id]
	if !ok {
		return nil, false, nil
	}
	return r.groups[group], true, nil
}

func (r *Registry) actor(group domain.GroupID) (*groupActor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actorLocked(group)
}

func (r *Registry) actorLocked(group domain.GroupID) (*groupActor, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.ensureActorLocked(group), nil
}

func (r *Registry) ensureActorLocked(group domain.GroupID) *groupActor {
	if g, ok := r.groups[group]; ok {
		return g
	}

	g := &groupActor{
		id:       group,
		nodes:    observable.NewWithEqual[[]domain.Node](nil, domain.NodesEqual),
		ops:      make(chan op),
		quit:     make(chan struct{}),
		onChange: r.changed,
	}
	r.groups[group] = g
	r.order = append(r.order, group)

	if r.closed {
		close(g.quit)
		return g
	}
	r.actors.Add(1)
	go g.run(&r.actors)
	return g
}

func (r *Registry) collect() []domain.NodeWithGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pairs []domain.NodeWithGroup
	for _, id := range r.order {
		for _, n := range r.groups[id].nodes.Get() {
			pairs = append(pairs, domain.NodeWithGroup{Group: id, Node: n})
		}
	}
	return pairs
}

// changed runs on the actor of the group that changed.
func (r *Registry) changed() {
	r.all.Update(func([]domain.NodeWithGroup) []domain.NodeWithGroup {
		return r.collect()
	})

	select {
	case r.saveCh <- struct{}{}:
	default:
	}
}

func (r *Registry) runSaver() {
	defer r.saver.Done()
	for {
		select {
		case <-r.stop:
			return
		case <-r.saveCh:
			ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
			if err := r.save(ctx); err != nil {
				slog.Error("Failed to save nodes", "error", err)
			}
			cancel()
		}
	}
}

func (r *Registry) save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snapshot := r.all.Get()
	if pairsEqual(snapshot, r.lastSaved) {
		return nil
	}

	dtos := make([]domain.NodeDTO, 0, len(snapshot))
	for _, p := range snapshot {
		dtos = append(dtos, domain.ToDTO(p))
	}
	if err := r.store.Save(ctx, dtos); err != nil {
		return fmt.Errorf("save nodes: %w", err)
	}
	r.lastSaved = snapshot
	slog.Debug("Nodes saved", "nodes", len(dtos))
	return nil
}

type op struct {
	fn   func(cur []domain.Node) []domain.Node
	done chan bool
}

type groupActor struct {
	id       domain.GroupID
	nodes    *observable.Value[[]domain.Node]
	ops      chan op
	quit     chan struct{}
	onChange func()
}

func (g *groupActor) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case o := <-g.ops:
			o.done <- g.apply(o.fn)
		case <-g.quit:
			return
		}
	}
}

func (g *groupActor) apply(fn func([]domain.Node) []domain.Node) bool {
	next := fn(domain.CloneNodes(g.nodes.Get()))
	if !g.nodes.Set(next) {
		return false
	}
	g.onChange()
	return true
}

// do runs fn on the actor and reports whether the node list changed.
func (g *groupActor) do(fn func([]domain.Node) []domain.Node) (bool, error) {
	o := op{fn: fn, done: make(chan bool, 1)}
	select {
	case g.ops <- o:
	case <-g.quit:
		return false, ErrClosed
	}
	return <-o.done, nil
}

func indexOf(nodes []domain.Node, id string) int {
	return slices.IndexFunc(nodes, func(n domain.Node) bool { return n.ID == id })
}

func pairsEqual(a, b []domain.NodeWithGroup) bool {
	return slices.EqualFunc(a, b, func(x, y domain.NodeWithGroup) bool {
		return x.Group == y.Group && x.Node.Equal(y.Node)
	})
}

func dedupeIDs(pairs []domain.NodeWithGroup) []domain.NodeWithGroup {
	seen := make(map[string]bool, len(pairs))
	out := pairs[:0:0]
	for _, p := range pairs {
		if seen[p.Node.ID] {
			slog.Warn("Dropping node with duplicate id", "node", p.Node.ID, "group", p.Group)
			continue
		}
		seen[p.Node.ID] = true
		out = append(out, p)
	}
	return out
}

// canonicalOrder groups pairs by first appearance of their group, matching
// the order the registry publishes.
func canonicalOrder(pairs []domain.NodeWithGroup) []domain.NodeWithGroup {
	var order []domain.GroupID
	byGroup := make(map[domain.GroupID][]domain.NodeWithGroup)
	for _, p := range pairs {
		if _, ok := byGroup[p.Group]; !ok {
			order = append(order, p.Group)
		}
		byGroup[p.Group] = append(byGroup[p.Group], p)
	}
	out := make([]domain.NodeWithGroup, 0, len(pairs))
	for _, g := range order {
		out = append(out, byGroup[g]...)
	}
	return out
}

// mergeDefaults appends every default node whose main host is not already
// present in the same group.
func mergeDefaults(pairs []domain.NodeWithGroup, defaults map[domain.GroupID][]domain.Node) []domain.NodeWithGroup {
	hosts := make(map[domain.GroupID]map[string]bool)
	for _, p := range pairs {
		if hosts[p.Group] == nil {
			hosts[p.Group] = make(map[string]bool)
		}
		hosts[p.Group][p.Node.Main.Host] = true
	}

	groups := make([]domain.GroupID, 0, len(defaults))
	for g := range defaults {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	out := canonicalOrder(pairs)
	for _, g := range groups {
		for _, n := range instantiate(defaults[g]) {
			if hosts[g][n.Main.Host] {
				continue
			}
			out = append(out, domain.NodeWithGroup{Group: g, Node: n})
		}
	}
	return canonicalOrder(out)
}
