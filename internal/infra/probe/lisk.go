package probe

import (
	"context"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/rpc"
)

// LiskRPCPath is where Lisk v4 nodes serve JSON-RPC over HTTP.
const LiskRPCPath = "/rpc"

// LiskProber probes Lisk core nodes with system_getNodeInfo.
type LiskProber struct {
	client *rpc.Client
}

// NewLiskProber expects a client posting to LiskRPCPath.
func NewLiskProber(client *rpc.Client) *LiskProber {
	return &LiskProber{client: client}
}

type liskNodeInfo struct {
	Height  int    `json:"height"`
	Version string `json:"version"`
}

func (p *LiskProber) Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error) {
	var info liskNodeInfo
	if err := p.client.Call(ctx, origin, "system_getNodeInfo", nil, &info); err != nil {
		return domain.StatusInfo{}, err
	}
	return domain.StatusInfo{Height: domain.Ptr(info.Height), Version: info.Version}, nil
}

func (p *LiskProber) Close() error {
	return p.client.Close()
}
