package config

import (
	"fmt"
	"time"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/events"
	"github.com/vietddude/nodepool/internal/infra/probe"
	redisclient "github.com/vietddude/nodepool/internal/infra/redis"
	"github.com/vietddude/nodepool/internal/infra/storage/postgres"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Events       EventsConfig       `yaml:"events"`
	Reachability ReachabilityConfig `yaml:"reachability"`
	Groups       []GroupConfig      `yaml:"groups"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StorageConfig selects where the node list is persisted.
type StorageConfig struct {
	Driver      string        `yaml:"driver"` // memory, redis, postgres
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

// EventsConfig enables publishing of node status transitions to NATS.
type EventsConfig struct {
	Enabled       bool `yaml:"enabled"`
	events.Config `yaml:",inline"`
}

// ReachabilityConfig drives the network reachability monitor. Without
// targets the network is assumed reachable.
type ReachabilityConfig struct {
	Targets  []string      `yaml:"targets"` // host:port
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GroupConfig overrides the compiled-in policy of one group. Unset fields
// keep the default.
type GroupConfig struct {
	ID         domain.GroupID `yaml:"id"`
	Name       string         `yaml:"name"`
	Probe      probe.Kind     `yaml:"probe"`
	MinVersion string         `yaml:"min_version"`
	// HeightEpsilon is a pointer so that 0 (no height quorum) can be set.
	HeightEpsilon *int `yaml:"height_epsilon"`

	NormalInterval  time.Duration `yaml:"normal_interval"`
	CrucialInterval time.Duration `yaml:"crucial_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay"`

	FastestMode bool    `yaml:"fastest_mode"`
	RateLimit   float64 `yaml:"rate_limit"` // probes per second, 0 = unlimited
	Concurrency int     `yaml:"concurrency"`
	WSPort      int     `yaml:"ws_port"`
	GRPCService string  `yaml:"grpc_service"`

	Nodes []NodeConfig `yaml:"nodes"`
}

// NodeConfig is an extra node added to a group on top of the defaults.
type NodeConfig struct {
	URL     string `yaml:"url"`
	Service string `yaml:"service"`
	Enabled *bool  `yaml:"enabled"`
}

// Node builds the domain node. The id is assigned by the registry.
func (n NodeConfig) Node() (domain.Node, error) {
	main, err := domain.ParseOrigin(n.URL)
	if err != nil {
		return domain.Node{}, err
	}
	node := domain.Node{Main: main, IsEnabled: true, Status: domain.StatusUnknown}
	if n.Service != "" {
		service, err := domain.ParseOrigin(n.Service)
		if err != nil {
			return domain.Node{}, err
		}
		node.Service = &service
	}
	if n.Enabled != nil {
		node.IsEnabled = *n.Enabled
	}
	return node, nil
}

// Policy merges the overrides onto the compiled-in policy of the group.
func (g GroupConfig) Policy() domain.NodeGroup {
	p, ok := domain.DefaultGroups[g.ID]
	if !ok {
		p = domain.NodeGroup{
			ID:                    g.ID,
			Name:                  string(g.ID),
			NormalUpdateInterval:  5 * time.Minute,
			CrucialUpdateInterval: 30 * time.Second,
			ProbeTimeout:          15 * time.Second,
		}
	}
	if g.Name != "" {
		p.Name = g.Name
	}
	if g.MinVersion != "" {
		p.MinVersion = g.MinVersion
	}
	if g.HeightEpsilon != nil {
		p.HeightEpsilon = *g.HeightEpsilon
	}
	if g.NormalInterval > 0 {
		p.NormalUpdateInterval = g.NormalInterval
	}
	if g.CrucialInterval > 0 {
		p.CrucialUpdateInterval = g.CrucialInterval
	}
	if g.ProbeTimeout > 0 {
		p.ProbeTimeout = g.ProbeTimeout
	}
	return p
}

// ProbeOptions returns the prober settings of the group.
func (g GroupConfig) ProbeOptions() probe.Options {
	return probe.Options{
		Timeout:     g.Policy().ProbeTimeout,
		RateLimit:   g.RateLimit,
		WSPort:      g.WSPort,
		GRPCService: g.GRPCService,
	}
}

// Group returns the configuration of id.
func (c *AppConfig) Group(id domain.GroupID) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// Validate checks the parts of the configuration Load cannot default.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage driver %q: redis.url is required", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("storage driver %q: database.url is required", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events enabled: events.url is required")
	}

	seen := make(map[domain.GroupID]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("group without id")
		}
		if seen[g.ID] {
			return fmt.Errorf("group %q configured twice", g.ID)
		}
		seen[g.ID] = true
		switch g.Probe {
		case probe.KindStatus, probe.KindEVM, probe.KindBitcoin, probe.KindLisk, probe.KindGRPC:
		default:
			return fmt.Errorf("group %q: %w: %q", g.ID, probe.ErrUnknownKind, g.Probe)
		}
		for _, n := range g.Nodes {
			if _, err := n.Node(); err != nil {
				return fmt.Errorf("group %q: %w", g.ID, err)
			}
		}
	}
	return nil
}

// DefaultProbe is the prober kind of each compiled-in group.
var DefaultProbe = map[domain.GroupID]probe.Kind{
	domain.GroupADM:  probe.KindStatus,
	domain.GroupETH:  probe.KindEVM,
	domain.GroupBTC:  probe.KindBitcoin,
	domain.GroupDOGE: probe.KindBitcoin,
	domain.GroupDASH: probe.KindBitcoin,
	domain.GroupLSK:  probe.KindLisk,
}
