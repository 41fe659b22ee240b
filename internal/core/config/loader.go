package config

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/infra/probe"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables and
// filling in defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.setDefaults()
	return &cfg
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.SaveTimeout == 0 {
		c.Storage.SaveTimeout = 5 * time.Second
	}
	if c.Reachability.Interval == 0 {
		c.Reachability.Interval = 15 * time.Second
	}
	if c.Reachability.Timeout == 0 {
		c.Reachability.Timeout = 3 * time.Second
	}

	// Every compiled-in group runs unless the file lists groups itself.
	if len(c.Groups) == 0 {
		for id := range domain.DefaultGroups {
			c.Groups = append(c.Groups, GroupConfig{ID: id})
		}
		slices.SortFunc(c.Groups, func(a, b GroupConfig) int {
			return cmp.Compare(a.ID, b.ID)
		})
	}
	for i := range c.Groups {
		if c.Groups[i].Probe == "" {
			c.Groups[i].Probe = DefaultProbe[c.Groups[i].ID]
		}
		if c.Groups[i].Probe == "" {
			c.Groups[i].Probe = probe.KindStatus
		}
	}
}
