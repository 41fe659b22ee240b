package control

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vietddude/nodepool/internal/core/config"
)

type fakeDialer struct {
	mu   sync.Mutex
	up   map[string]bool
	seen []string
}

func (d *fakeDialer) set(addr string, up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up[addr] = up
}

func (d *fakeDialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, addr)
	if !d.up[addr] {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestReachabilityCheck(t *testing.T) {
	d := &fakeDialer{up: map[string]bool{}}
	r := NewReachability(config.ReachabilityConfig{
		Targets: []string{"a:443", "b:443"},
		Timeout: time.Second,
	}, WithDialer(d.dial))

	assert.True(t, r.Value().Get(), "starts reachable")

	var got []bool
	sub := r.Value().Subscribe(func(v bool) { got = append(got, v) })
	defer sub.Cancel()

	assert.False(t, r.Check(context.Background()))
	assert.Equal(t, []string{"a:443", "b:443"}, d.seen)

	d.set("b:443", true)
	assert.True(t, r.Check(context.Background()))
	assert.True(t, r.Check(context.Background()))

	assert.Equal(t, []bool{true, false, true}, got)
}

func TestReachabilityWithoutTargets(t *testing.T) {
	r := NewReachability(config.ReachabilityConfig{Interval: time.Second})
	assert.True(t, r.Check(context.Background()))

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without targets should return")
	}
}

func TestReachabilityCancelledCheckKeepsValue(t *testing.T) {
	d := &fakeDialer{up: map[string]bool{}}
	r := NewReachability(config.ReachabilityConfig{Targets: []string{"a:443"}}, WithDialer(d.dial))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Check(ctx)
	assert.True(t, r.Value().Get())
}
