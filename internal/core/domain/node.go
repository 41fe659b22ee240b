package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Origin is a scheme/host/port triple a node answers on.
type Origin struct {
	Scheme string `json:"scheme" yaml:"scheme"`
	Host   string `json:"host"   yaml:"host"`
	Port   int    `json:"port"   yaml:"port"` // 0 = scheme default
}

// URL renders the origin as a base URL without trailing slash.
func (o Origin) URL() string {
	scheme := o.Scheme
	if scheme == "" {
		scheme = "https"
	}
	if o.Port == 0 {
		return scheme + "://" + o.Host
	}
	return scheme + "://" + net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// String implements fmt.Stringer.
func (o Origin) String() string {
	return o.URL()
}

// ParseOrigin parses "https://host:port" into an Origin.
func ParseOrigin(raw string) (Origin, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("parse origin %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Origin{}, fmt.Errorf("parse origin %q: scheme and host are required", raw)
	}

	o := Origin{Scheme: u.Scheme, Host: u.Hostname()}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Origin{}, fmt.Errorf("parse origin %q: bad port: %w", raw, err)
		}
		o.Port = port
	}
	return o, nil
}

// Node is a single endpoint candidate with its mutable health metadata.
type Node struct {
	ID      string  `json:"id"`
	Main    Origin  `json:"main"`
	Service *Origin `json:"service,omitempty"`

	// PreferMain remembers which origin answered last time: nil = unknown.
	PreferMain *bool `json:"prefer_main,omitempty"`

	IsEnabled bool             `json:"enabled"`
	Status    ConnectionStatus `json:"status"`
	Height    *int             `json:"height,omitempty"`
	Version   string           `json:"version,omitempty"`
	Ping      *time.Duration   `json:"ping,omitempty"`
	WSEnabled bool             `json:"ws_enabled"`
	WSPort    *int             `json:"ws_port,omitempty"`
}

// NewNode creates an enabled node with a fresh id and unknown status.
func NewNode(main Origin, service *Origin) Node {
	return Node{
		ID:        uuid.NewString(),
		Main:      main,
		Service:   service,
		IsEnabled: true,
		Status:    StatusUnknown,
	}
}

// PreferredOrigin returns the origin recorded as preferred. Nodes without a
// service origin always resolve to Main.
func (n Node) PreferredOrigin() Origin {
	if n.PreferMain != nil && !*n.PreferMain && n.Service != nil {
		return *n.Service
	}
	return n.Main
}

// Clone returns a deep copy, so pointer fields can be mutated safely.
func (n Node) Clone() Node {
	c := n
	if n.Service != nil {
		s := *n.Service
		c.Service = &s
	}
	c.PreferMain = clonePtr(n.PreferMain)
	c.Height = clonePtr(n.Height)
	c.Ping = clonePtr(n.Ping)
	c.WSPort = clonePtr(n.WSPort)
	return c
}

// Equal reports full structural equality. Used to gate change notifications
// and persistence writes.
func (n Node) Equal(o Node) bool {
	return n.ID == o.ID &&
		n.Main == o.Main &&
		ptrEqual(n.Service, o.Service) &&
		ptrEqual(n.PreferMain, o.PreferMain) &&
		n.IsEnabled == o.IsEnabled &&
		n.Status == o.Status &&
		ptrEqual(n.Height, o.Height) &&
		n.Version == o.Version &&
		ptrEqual(n.Ping, o.Ping) &&
		n.WSEnabled == o.WSEnabled &&
		ptrEqual(n.WSPort, o.WSPort)
}

// SameEndpoint compares only what a user can edit: id, origin and enabled flag.
func (n Node) SameEndpoint(o Node) bool {
	return n.ID == o.ID &&
		n.Main == o.Main &&
		ptrEqual(n.Service, o.Service) &&
		n.IsEnabled == o.IsEnabled
}

// NodesEqual compares two lists with Node.Equal, order-sensitive.
func NodesEqual(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// EndpointsChanged reports whether the editable part of a node list differs.
func EndpointsChanged(a, b []Node) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if !a[i].SameEndpoint(b[i]) {
			return true
		}
	}
	return false
}

// CloneNodes deep-copies a node list.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// NodeWithGroup pairs a node with the logical group that owns it.
type NodeWithGroup struct {
	Group GroupID `json:"group"`
	Node  Node    `json:"node"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
