// Package probe implements the per-protocol status probes used by the
// blockchain health checker.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/rpc"
)

// Kind selects a prober implementation in configuration.
type Kind string

const (
	KindStatus  Kind = "status"
	KindEVM     Kind = "evm"
	KindBitcoin Kind = "bitcoin"
	KindLisk    Kind = "lisk"
	KindGRPC    Kind = "grpc"
)

var (
	ErrUnknownKind = errors.New("unknown probe kind")
	ErrNotServing  = errors.New("service not serving")
)

// Prober is implemented by every probe in this package.
type Prober interface {
	Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error)
	Close() error
}

// Options tune the probers built by New.
type Options struct {
	Timeout time.Duration
	// RateLimit caps probe requests per second across all nodes of a group.
	RateLimit float64
	// WSPort, when set, is dialled to check WebSocket support.
	WSPort int
	// GRPCService is the service name sent in gRPC health checks.
	GRPCService string
}

// New builds the prober for kind.
func New(kind Kind, opts Options) (Prober, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	switch kind {
	case KindStatus, "":
		return NewStatusProber(rpc.NewClient(opts.Timeout, rpc.WithRateLimit(opts.RateLimit, 1))), nil
	case KindEVM:
		return NewEVMProber(opts.WSPort), nil
	case KindBitcoin:
		return NewBitcoinProber(rpc.NewClient(opts.Timeout, rpc.WithRateLimit(opts.RateLimit, 1))), nil
	case KindLisk:
		return NewLiskProber(rpc.NewClient(opts.Timeout, rpc.WithRateLimit(opts.RateLimit, 1), rpc.WithPath(LiskRPCPath))), nil
	case KindGRPC:
		return NewGRPCProber(opts.GRPCService), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// hostPort returns the dial address of origin, filling in the scheme default port.
func hostPort(origin domain.Origin) string {
	port := origin.Port
	if port == 0 {
		switch origin.Scheme {
		case "http", "ws":
			port = 80
		default:
			port = 443
		}
	}
	return net.JoinHostPort(origin.Host, strconv.Itoa(port))
}

func secure(origin domain.Origin) bool {
	return origin.Scheme == "" || origin.Scheme == "https" || origin.Scheme == "wss"
}

// dialWebSocket reports whether a WebSocket handshake on host:port succeeds.
func dialWebSocket(ctx context.Context, origin domain.Origin, port int) bool {
	scheme := "ws"
	if secure(origin) {
		scheme = "wss"
	}
	url := scheme + "://" + net.JoinHostPort(origin.Host, strconv.Itoa(port))

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	return true
}
