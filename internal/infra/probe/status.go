package probe

import (
	"context"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/rpc"
)

// StatusPath is the node status endpoint of the application network.
const StatusPath = "/api/node/status"

var parsers fastjson.ParserPool

// StatusProber reads GET /api/node/status:
//
//	{"success":true,"network":{"height":123},"version":{"version":"0.8.1"},
//	 "wsClient":{"enabled":true,"port":36668}}
type StatusProber struct {
	client *rpc.Client
}

func NewStatusProber(client *rpc.Client) *StatusProber {
	return &StatusProber{client: client}
}

func (p *StatusProber) Probe(ctx context.Context, origin domain.Origin) (domain.StatusInfo, error) {
	raw, err := p.client.Get(ctx, origin, StatusPath)
	if err != nil {
		return domain.StatusInfo{}, err
	}
	return parseStatus(raw)
}

func (p *StatusProber) Close() error {
	return p.client.Close()
}

func parseStatus(raw []byte) (domain.StatusInfo, error) {
	parser := parsers.Get()
	defer parsers.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		return domain.StatusInfo{}, fmt.Errorf("node status: %w: %v", rpc.ErrBadResponse, err)
	}
	if s := v.Get("success"); s != nil && s.Type() == fastjson.TypeFalse {
		return domain.StatusInfo{}, fmt.Errorf("node status: %w: success=false", rpc.ErrBadResponse)
	}

	var info domain.StatusInfo
	if h := v.Get("network", "height"); h != nil {
		height, err := h.Int()
		if err != nil {
			return domain.StatusInfo{}, fmt.Errorf("node status: height: %w: %v", rpc.ErrBadResponse, err)
		}
		info.Height = domain.Ptr(height)
	}
	info.Version = string(v.GetStringBytes("version", "version"))
	info.WSEnabled = v.GetBool("wsClient", "enabled")
	if p := v.Get("wsClient", "port"); p != nil {
		if port, err := p.Int(); err == nil && port > 0 {
			info.WSPort = domain.Ptr(port)
		}
	}
	return info, nil
}
