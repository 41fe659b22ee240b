package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/health"
	"github.com/vietddude/nodepool/internal/infra/probe"
	"github.com/vietddude/nodepool/internal/infra/rpc"
)

// Call sends a JSON-RPC request to an allowed node of id, waiting for one to
// become available. Bitcoin-family groups speak JSON-RPC 1.0.
func (a *App) Call(ctx context.Context, id domain.GroupID, method string, params []any) (json.RawMessage, error) {
	g, ok := a.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	if g.controller == nil {
		return nil, fmt.Errorf("group %s: controllers not started", id)
	}

	legacy := g.cfg.Probe == probe.KindBitcoin
	return health.WaitingRequest(ctx, g.controller, func(ctx context.Context, client *rpc.Client, node domain.Node) (json.RawMessage, error) {
		var (
			out    json.RawMessage
			err    error
			origin = node.PreferredOrigin()
		)
		if legacy {
			err = client.Call10(ctx, origin, method, &out, params...)
		} else {
			var p any = params
			if params == nil {
				p = []any{}
			}
			err = client.Call(ctx, origin, method, p, &out)
		}
		return out, err
	})
}
