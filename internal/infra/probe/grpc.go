package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/nodepool/internal/core/domain"
)

// GRPCProber probes services exposing the standard gRPC health service.
// It reports no height, so its group grades without a height quorum.
type GRPCProber struct {
	service string

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCProber(service string) *GRPCProber {
	return &GRPCProber{
		service: service,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (p *GRPCProber) Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error) {
	conn, err := p.conn(origin)
	if err != nil {
		return domain.StatusInfo{}, err
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return domain.StatusInfo{}, fmt.Errorf("health check %s: %w", origin, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return domain.StatusInfo{}, fmt.Errorf("%w: %s reports %s", ErrNotServing, origin, resp.GetStatus())
	}
	return domain.StatusInfo{}, nil
}

func (p *GRPCProber) conn(origin domain.Origin) (*grpc.ClientConn, error) {
	target := hostPort(origin)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[target]; ok {
		return c, nil
	}

	creds := insecure.NewCredentials()
	if secure(origin) {
		creds = credentials.NewTLS(&tls.Config{})
	}
	c, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	p.conns[target] = c
	return c, nil
}

func (p *GRPCProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for target, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, target)
	}
	return firstErr
}
