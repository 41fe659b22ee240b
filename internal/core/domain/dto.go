package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeDTO is the persisted form of a (group, node) pair.
type NodeDTO struct {
	ID    string `json:"id"    db:"id"`
	Group string `json:"group" db:"group_id"`

	MainScheme string `json:"main_scheme" db:"main_scheme"`
	MainHost   string `json:"main_host"   db:"main_host"`
	MainPort   int    `json:"main_port"   db:"main_port"`

	ServiceScheme *string `json:"service_scheme,omitempty" db:"service_scheme"`
	ServiceHost   *string `json:"service_host,omitempty"   db:"service_host"`
	ServicePort   *int    `json:"service_port,omitempty"   db:"service_port"`

	PreferMain *bool  `json:"prefer_main,omitempty" db:"prefer_main"`
	Enabled    bool   `json:"enabled"               db:"enabled"`
	Status     string `json:"status"                db:"status"`
	Height     *int   `json:"height,omitempty"      db:"height"`
	Version    string `json:"version"               db:"version"`
	PingNanos  *int64 `json:"ping_ns,omitempty"     db:"ping_ns"`
	WSEnabled  bool   `json:"ws_enabled"            db:"ws_enabled"`
	WSPort     *int   `json:"ws_port,omitempty"     db:"ws_port"`
}

// LegacyNodeDTO is the v1 schema: one origin, no health metadata.
type LegacyNodeDTO struct {
	ID      string `json:"id,omitempty" db:"id"`
	Group   string `json:"group"        db:"group_id"`
	Scheme  string `json:"scheme"       db:"scheme"`
	Host    string `json:"host"         db:"host"`
	Port    int    `json:"port"         db:"port"`
	Enabled bool   `json:"enabled"      db:"enabled"`
}

// ToDTO converts a pair to its persisted form.
func ToDTO(p NodeWithGroup) NodeDTO {
	n := p.Node
	dto := NodeDTO{
		ID:         n.ID,
		Group:      string(p.Group),
		MainScheme: n.Main.Scheme,
		MainHost:   n.Main.Host,
		MainPort:   n.Main.Port,
		PreferMain: clonePtr(n.PreferMain),
		Enabled:    n.IsEnabled,
		Status:     n.Status.String(),
		Height:     clonePtr(n.Height),
		Version:    n.Version,
		WSEnabled:  n.WSEnabled,
		WSPort:     clonePtr(n.WSPort),
	}
	if n.Service != nil {
		dto.ServiceScheme = Ptr(n.Service.Scheme)
		dto.ServiceHost = Ptr(n.Service.Host)
		dto.ServicePort = Ptr(n.Service.Port)
	}
	if n.Ping != nil {
		dto.PingNanos = Ptr(int64(*n.Ping))
	}
	return dto
}

// FromDTO converts a persisted row back. Unknown status strings degrade to unknown.
func FromDTO(dto NodeDTO) NodeWithGroup {
	status, err := ParseConnectionStatus(dto.Status)
	if err != nil {
		status = StatusUnknown
	}
	n := Node{
		ID:         dto.ID,
		Main:       Origin{Scheme: dto.MainScheme, Host: dto.MainHost, Port: dto.MainPort},
		PreferMain: clonePtr(dto.PreferMain),
		IsEnabled:  dto.Enabled,
		Status:     status,
		Height:     clonePtr(dto.Height),
		Version:    dto.Version,
		WSEnabled:  dto.WSEnabled,
		WSPort:     clonePtr(dto.WSPort),
	}
	if dto.ServiceHost != nil {
		svc := Origin{Host: *dto.ServiceHost}
		if dto.ServiceScheme != nil {
			svc.Scheme = *dto.ServiceScheme
		}
		if dto.ServicePort != nil {
			svc.Port = *dto.ServicePort
		}
		n.Service = &svc
	}
	if dto.PingNanos != nil {
		n.Ping = Ptr(time.Duration(*dto.PingNanos))
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return NodeWithGroup{Group: GroupID(dto.Group), Node: n}
}

// MigrateLegacy upgrades a v1 row. Health metadata starts from scratch.
func MigrateLegacy(old LegacyNodeDTO) NodeWithGroup {
	n := NewNode(Origin{Scheme: old.Scheme, Host: old.Host, Port: old.Port}, nil)
	if old.ID != "" {
		n.ID = old.ID
	}
	n.IsEnabled = old.Enabled
	return NodeWithGroup{Group: GroupID(old.Group), Node: n}
}
