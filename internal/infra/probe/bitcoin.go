package probe

import (
	"context"
	"fmt"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/rpc"
)

// BitcoinProber probes bitcoind-compatible nodes (BTC, DOGE, DASH).
type BitcoinProber struct {
	client *rpc.Client
}

func NewBitcoinProber(client *rpc.Client) *BitcoinProber {
	return &BitcoinProber{client: client}
}

type blockchainInfo struct {
	Blocks int `json:"blocks"`
}

type networkInfo struct {
	Version    int    `json:"version"`
	Subversion string `json:"subversion"`
}

func (p *BitcoinProber) Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error) {
	var chain blockchainInfo
	if err := p.client.Call10(ctx, origin, "getblockchaininfo", &chain); err != nil {
		return domain.StatusInfo{}, err
	}

	info := domain.StatusInfo{Height: domain.Ptr(chain.Blocks)}

	var network networkInfo
	if err := p.client.Call10(ctx, origin, "getnetworkinfo", &network); err != nil {
		// Height alone is enough to grade the node.
		return info, nil
	}
	info.Version = clientVersion(network)
	return info, nil
}

func (p *BitcoinProber) Close() error {
	return p.client.Close()
}

// clientVersion prefers the user agent ("/Satoshi:25.0.0/") and falls back to
// the numeric version (250000 -> 25.0.0).
func clientVersion(n networkInfo) string {
	if _, ok := domain.ParseVersion(n.Subversion); ok {
		return n.Subversion
	}
	if n.Version <= 0 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", n.Version/10000, n.Version/100%100, n.Version%100)
}
