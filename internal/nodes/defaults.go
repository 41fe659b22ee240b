package nodes

import (
	"github.com/google/uuid"

	"github.com/vietddude/nodepool/internal/core/domain"
)

func origin(scheme, host string, port int) domain.Origin {
	return domain.Origin{Scheme: scheme, Host: host, Port: port}
}

func node(main domain.Origin) domain.Node {
	return domain.Node{Main: main, IsEnabled: true, Status: domain.StatusUnknown}
}

func dualNode(main, service domain.Origin) domain.Node {
	n := node(main)
	n.Service = &service
	return n
}

// Defaults is the compiled-in node list per group. IDs are assigned when the
// nodes are instantiated.
var Defaults = map[domain.GroupID][]domain.Node{
	domain.GroupADM: {
		node(origin("https", "clown.adamant.im", 0)),
		node(origin("https", "lake.adamant.im", 0)),
		dualNode(origin("https", "endless.adamant.im", 0), origin("http", "149.102.157.15", 36666)),
		node(origin("https", "bid.adamant.im", 0)),
		node(origin("https", "unusual.adamant.im", 0)),
		node(origin("https", "debate.adamant.im", 0)),
		node(origin("http", "78.47.205.206", 36666)),
		node(origin("http", "5.161.53.74", 36666)),
	},
	domain.GroupETH: {
		node(origin("https", "ethnode2.adamant.im", 0)),
		node(origin("https", "ethnode3.adamant.im", 0)),
	},
	domain.GroupBTC: {
		node(origin("https", "btcnode1.adamant.im", 0)),
		node(origin("https", "btcnode3.adamant.im", 0)),
	},
	domain.GroupDOGE: {
		node(origin("https", "dogenode1.adamant.im", 0)),
		node(origin("https", "dogenode2.adamant.im", 0)),
	},
	domain.GroupDASH: {
		node(origin("https", "dashnode1.adamant.im", 0)),
		node(origin("https", "dashnode2.adamant.im", 0)),
	},
	domain.GroupLSK: {
		dualNode(origin("https", "lisknode3.adamant.im", 0), origin("https", "liskservice3.adamant.im", 0)),
		dualNode(origin("https", "lisknode4.adamant.im", 0), origin("https", "liskservice4.adamant.im", 0)),
	},
}

// instantiate clones template nodes and gives each a fresh id.
func instantiate(templates []domain.Node) []domain.Node {
	out := make([]domain.Node, 0, len(templates))
	for _, t := range templates {
		n := t.Clone()
		n.ID = uuid.NewString()
		out = append(out, n)
	}
	return out
}
