package blockchain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/storage/memory"
	"github.com/vietddude/nodepool/internal/nodes"
)

var errUnreachable = errors.New("connection refused")

type testPolicy struct{}

func (testPolicy) IsNetworkError(err error) bool { return errors.Is(err, errUnreachable) }
func (testPolicy) IsCancelled(err error) bool    { return errors.Is(err, context.Canceled) }
func (testPolicy) NoEndpoints(group string) error {
	return &domain.NoEndpointsError{Group: group}
}

// fakeProber answers per host. respond receives the 1-based call number for
// that host.
type fakeProber struct {
	mu      sync.Mutex
	calls   map[string]int
	respond map[string]func(call int) (domain.StatusInfo, error)

	started chan string
	release chan struct{}
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		calls:   make(map[string]int),
		respond: make(map[string]func(int) (domain.StatusInfo, error)),
	}
}

func (p *fakeProber) on(host string, fn func(call int) (domain.StatusInfo, error)) {
	p.mu.Lock()
	p.respond[host] = fn
	p.mu.Unlock()
}

func (p *fakeProber) Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error) {
	p.mu.Lock()
	p.calls[origin.Host]++
	call := p.calls[origin.Host]
	fn := p.respond[origin.Host]
	p.mu.Unlock()

	if p.started != nil {
		p.started <- origin.Host
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return domain.StatusInfo{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.StatusInfo{}, err
	}
	if fn == nil {
		return domain.StatusInfo{}, errUnreachable
	}
	return fn(call)
}

func (p *fakeProber) count(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[host]
}

func healthy(height int, version string) func(int) (domain.StatusInfo, error) {
	return func(int) (domain.StatusInfo, error) {
		return domain.StatusInfo{Height: domain.Ptr(height), Version: version, Ping: 20 * time.Millisecond}, nil
	}
}

var testGroup = domain.NodeGroup{
	ID:                    "chain",
	Name:                  "Chain",
	MinVersion:            "0.8.0",
	HeightEpsilon:         5,
	NormalUpdateInterval:  time.Minute,
	CrucialUpdateInterval: 10 * time.Second,
	ProbeTimeout:          time.Second,
}

type fixture struct {
	registry *nodes.Registry
	prober   *fakeProber
	checker  *Checker
}

func newFixture(t *testing.T, group domain.NodeGroup) *fixture {
	t.Helper()
	f := &fixture{
		registry: nodes.NewRegistry(memory.NewNodeStore(), nodes.WithDefaults(nil)),
		prober:   newFakeProber(),
	}
	f.checker = NewChecker(group, f.registry, f.prober, testPolicy{})
	t.Cleanup(func() { _ = f.registry.Close() })
	return f
}

func (f *fixture) add(t *testing.T, n domain.Node) string {
	t.Helper()
	added, err := f.registry.AddNode(n, testGroup.ID)
	require.NoError(t, err)
	return added.ID
}

func (f *fixture) node(t *testing.T, id string) domain.Node {
	t.Helper()
	n, ok := f.registry.Node(id)
	require.True(t, ok, "node %s missing", id)
	return n.Node
}

func (f *fixture) check(ctx context.Context) {
	f.checker.Check(ctx, f.registry.Nodes(testGroup.ID))
}

func hostNode(host string) domain.Node {
	return domain.NewNode(domain.Origin{Scheme: "https", Host: host}, nil)
}

func TestChecker_ExploratoryFailureDoesNotMarkOffline(t *testing.T) {
	f := newFixture(t, testGroup)
	id := f.add(t, hostNode("flaky.example"))

	f.prober.on("flaky.example", func(call int) (domain.StatusInfo, error) {
		if call == 1 {
			return domain.StatusInfo{}, errUnreachable
		}
		return healthy(100, "0.8.1")(call)
	})

	f.check(context.Background())

	n := f.node(t, id)
	assert.Equal(t, 2, f.prober.count("flaky.example"))
	assert.Equal(t, domain.StatusAllowed, n.Status)
	require.NotNil(t, n.PreferMain)
	assert.True(t, *n.PreferMain)
	require.NotNil(t, n.Height)
	assert.Equal(t, 100, *n.Height)
}

func TestChecker_SecondFailureMarksOffline(t *testing.T) {
	f := newFixture(t, testGroup)
	id := f.add(t, hostNode("down.example"))

	f.check(context.Background())

	n := f.node(t, id)
	assert.Equal(t, 2, f.prober.count("down.example"))
	assert.Equal(t, domain.StatusOffline, n.Status)
	require.NotNil(t, n.PreferMain)
	assert.False(t, *n.PreferMain)
}

func TestChecker_RecordedPreferenceProbesOnce(t *testing.T) {
	f := newFixture(t, testGroup)

	n := domain.NewNode(domain.Origin{Scheme: "https", Host: "main.example"},
		&domain.Origin{Scheme: "https", Host: "gw.example"})
	n.PreferMain = domain.Ptr(false)
	id := f.add(t, n)

	f.prober.on("main.example", healthy(100, "0.8.1"))

	f.check(context.Background())

	got := f.node(t, id)
	assert.Equal(t, 0, f.prober.count("main.example"), "main must not be tried as a fallback")
	assert.Equal(t, 1, f.prober.count("gw.example"))
	assert.Equal(t, domain.StatusOffline, got.Status)
	require.NotNil(t, got.PreferMain)
	assert.False(t, *got.PreferMain)
}

func TestChecker_SteadyStateSingleProbe(t *testing.T) {
	f := newFixture(t, testGroup)
	n := hostNode("steady.example")
	n.PreferMain = domain.Ptr(true)
	id := f.add(t, n)

	f.prober.on("steady.example", healthy(100, "0.8.1"))
	f.check(context.Background())

	assert.Equal(t, 1, f.prober.count("steady.example"))
	assert.Equal(t, domain.StatusAllowed, f.node(t, id).Status)
}

func TestChecker_CancelledProbeKeepsState(t *testing.T) {
	f := newFixture(t, testGroup)
	id := f.add(t, hostNode("slow.example"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.check(ctx)

	n := f.node(t, id)
	assert.Equal(t, 1, f.prober.count("slow.example"), "cancellation must end the policy")
	assert.Equal(t, domain.StatusUnknown, n.Status)
	assert.Nil(t, n.PreferMain)
}

func TestChecker_CancelledErrorFromProberKeepsState(t *testing.T) {
	f := newFixture(t, testGroup)
	n := hostNode("a.example")
	n.Status = domain.StatusAllowed
	n.PreferMain = domain.Ptr(true)
	id := f.add(t, n)

	f.prober.on("a.example", func(int) (domain.StatusInfo, error) {
		return domain.StatusInfo{}, context.Canceled
	})
	f.check(context.Background())

	assert.Equal(t, domain.StatusAllowed, f.node(t, id).Status)
}

func TestChecker_OutdatedVersionRejected(t *testing.T) {
	f := newFixture(t, testGroup)
	id := f.add(t, hostNode("old.example"))
	f.prober.on("old.example", healthy(100, "v0.7.9"))

	f.check(context.Background())

	n := f.node(t, id)
	assert.Equal(t, domain.StatusOutdated, n.Status)
	assert.Equal(t, "v0.7.9", n.Version)
}

func TestChecker_QuorumGrading(t *testing.T) {
	f := newFixture(t, testGroup)
	a := f.add(t, hostNode("a.example"))
	b := f.add(t, hostNode("b.example"))
	c := f.add(t, hostNode("c.example"))

	f.prober.on("a.example", healthy(1000, "0.8.1"))
	f.prober.on("b.example", healthy(1002, "0.8.1"))
	f.prober.on("c.example", healthy(900, "0.8.1"))

	f.check(context.Background())

	assert.Equal(t, domain.StatusAllowed, f.node(t, a).Status)
	assert.Equal(t, domain.StatusAllowed, f.node(t, b).Status)
	assert.Equal(t, domain.StatusSynchronizing, f.node(t, c).Status)
	assert.True(t, f.registry.HaveActiveNode(testGroup.ID))
}

func TestChecker_DisabledNodesNotProbed(t *testing.T) {
	f := newFixture(t, testGroup)
	n := hostNode("off.example")
	n.IsEnabled = false
	id := f.add(t, n)
	f.prober.on("off.example", healthy(100, "0.8.1"))

	f.check(context.Background())

	assert.Equal(t, 0, f.prober.count("off.example"))
	assert.Equal(t, domain.StatusUnknown, f.node(t, id).Status)
}

func TestChecker_NodeInFlightNotProbedTwice(t *testing.T) {
	f := newFixture(t, testGroup)
	n := hostNode("busy.example")
	n.PreferMain = domain.Ptr(true)
	f.add(t, n)

	f.prober.on("busy.example", healthy(100, "0.8.1"))
	f.prober.started = make(chan string, 4)
	f.prober.release = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.check(context.Background())
	}()
	<-f.prober.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.check(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.prober.release)
	wg.Wait()

	assert.Equal(t, 1, f.prober.count("busy.example"))
}

func TestChecker_ResultDroppedForRemovedNode(t *testing.T) {
	f := newFixture(t, testGroup)
	id := f.add(t, hostNode("gone.example"))
	f.prober.on("gone.example", healthy(100, "0.8.1"))
	f.prober.started = make(chan string, 4)
	f.prober.release = make(chan struct{})

	snapshot := f.registry.Nodes(testGroup.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.checker.Check(context.Background(), snapshot)
	}()
	<-f.prober.started
	require.NoError(t, f.registry.RemoveNode(id))
	close(f.prober.release)
	<-done

	_, ok := f.registry.Node(id)
	assert.False(t, ok)
	assert.Empty(t, f.registry.Nodes(testGroup.ID))
}

func gradeNode(id string, st domain.ConnectionStatus, height *int) domain.Node {
	return domain.Node{
		ID:        id,
		Main:      domain.Origin{Scheme: "https", Host: id + ".example"},
		IsEnabled: true,
		Status:    st,
		Height:    height,
		Version:   "0.8.1",
	}
}

func statuses(ns []domain.Node) map[string]domain.ConnectionStatus {
	out := make(map[string]domain.ConnectionStatus, len(ns))
	for _, n := range ns {
		out[n.ID] = n.Status
	}
	return out
}

func TestGrade(t *testing.T) {
	h := domain.Ptr[int]

	tests := []struct {
		name  string
		group domain.NodeGroup
		nodes func() []domain.Node
		force string
		want  map[string]domain.ConnectionStatus
	}{
		{
			name:  "offline nodes outside working set",
			group: testGroup,
			nodes: func() []domain.Node {
				return []domain.Node{
					gradeNode("a", domain.StatusUnknown, h(100)),
					gradeNode("b", domain.StatusOffline, h(100)),
				}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusAllowed,
				"b": domain.StatusOffline,
			},
		},
		{
			name:  "force includes offline node",
			group: testGroup,
			force: "b",
			nodes: func() []domain.Node {
				return []domain.Node{
					gradeNode("a", domain.StatusAllowed, h(100)),
					gradeNode("b", domain.StatusOffline, h(101)),
				}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusAllowed,
				"b": domain.StatusAllowed,
			},
		},
		{
			name:  "lagging minority synchronizing",
			group: testGroup,
			nodes: func() []domain.Node {
				return []domain.Node{
					gradeNode("a", domain.StatusAllowed, h(100)),
					gradeNode("b", domain.StatusAllowed, h(103)),
					gradeNode("c", domain.StatusAllowed, h(80)),
				}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusAllowed,
				"b": domain.StatusAllowed,
				"c": domain.StatusSynchronizing,
			},
		},
		{
			name:  "missing height keeps status",
			group: testGroup,
			force: "c",
			nodes: func() []domain.Node {
				return []domain.Node{
					gradeNode("a", domain.StatusAllowed, h(100)),
					gradeNode("b", domain.StatusSynchronizing, nil),
					gradeNode("c", domain.StatusOffline, nil),
				}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusAllowed,
				"b": domain.StatusSynchronizing,
				"c": domain.StatusOffline,
			},
		},
		{
			name:  "disabled untouched",
			group: testGroup,
			nodes: func() []domain.Node {
				d := gradeNode("d", domain.StatusSynchronizing, h(100))
				d.IsEnabled = false
				return []domain.Node{gradeNode("a", domain.StatusUnknown, h(100)), d}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusAllowed,
				"d": domain.StatusSynchronizing,
			},
		},
		{
			name:  "outdated in working set",
			group: testGroup,
			nodes: func() []domain.Node {
				o := gradeNode("o", domain.StatusAllowed, h(100))
				o.Version = "0.5.0"
				return []domain.Node{gradeNode("a", domain.StatusAllowed, h(100)), o}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusAllowed,
				"o": domain.StatusOutdated,
			},
		},
		{
			name: "heightless group",
			group: domain.NodeGroup{
				ID:            "svc",
				HeightEpsilon: 0,
			},
			force: "c",
			nodes: func() []domain.Node {
				return []domain.Node{
					gradeNode("a", domain.StatusUnknown, nil),
					gradeNode("b", domain.StatusSynchronizing, nil),
					gradeNode("c", domain.StatusOffline, nil),
				}
			},
			want: map[string]domain.ConnectionStatus{
				"a": domain.StatusUnknown,
				"b": domain.StatusAllowed,
				"c": domain.StatusAllowed,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := tt.nodes()
			Grade(ns, tt.group, tt.force)
			assert.Equal(t, tt.want, statuses(ns))
		})
	}
}
