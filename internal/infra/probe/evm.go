package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vietddude/nodepool/internal/core/domain"
)

// EVMProber probes Ethereum JSON-RPC nodes through ethclient.
type EVMProber struct {
	wsPort int

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewEVMProber returns a prober that also checks WebSocket support on wsPort
// when wsPort is non-zero.
func NewEVMProber(wsPort int) *EVMProber {
	return &EVMProber{
		wsPort:  wsPort,
		clients: make(map[string]*ethclient.Client),
	}
}

func (p *EVMProber) Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error) {
	client, err := p.client(ctx, origin)
	if err != nil {
		return domain.StatusInfo{}, err
	}

	height, err := client.BlockNumber(ctx)
	if err != nil {
		return domain.StatusInfo{}, fmt.Errorf("eth_blockNumber %s: %w", origin, err)
	}
	info := domain.StatusInfo{Height: domain.Ptr(int(height))}

	var version string
	if err := client.Client().CallContext(ctx, &version, "web3_clientVersion"); err == nil {
		info.Version = version
	}

	if p.wsPort > 0 && dialWebSocket(ctx, origin, p.wsPort) {
		info.WSEnabled = true
		info.WSPort = domain.Ptr(p.wsPort)
	}
	return info, nil
}

func (p *EVMProber) client(ctx context.Context, origin domain.Origin) (*ethclient.Client, error) {
	url := origin.URL()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	p.clients[url] = c
	return c, nil
}

func (p *EVMProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
	return nil
}
