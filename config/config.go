// Package config reads the cluster configuration file that tells the
// client which master owns which slice of each table's key-hash space.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jinzhu/copier"

	"github.com/stormspirit/RAMCloud/cluster"
)

const (
	// DefaultPath is the file path of the cluster configuration.
	DefaultPath = "config/cluster-config.json"
)

// TabletEntry describes one tablet in the configuration file.
type TabletEntry struct {
	Table          uint64 `json:"table"`
	StartKeyHash   uint64 `json:"startKeyHash"`
	EndKeyHash     uint64 `json:"endKeyHash"`
	ServiceLocator string `json:"serviceLocator"`
}

// Config is the parsed cluster configuration.
type Config struct {
	Tablets []TabletEntry `json:"tablets"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err = json.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Source exposes a configuration as a cluster.TabletSource.
type Source struct {
	tablets map[uint64][]cluster.Tablet
}

// NewSource indexes the configuration by table.
func NewSource(c *Config) *Source {
	s := &Source{tablets: make(map[uint64][]cluster.Tablet)}
	for _, t := range c.Tablets {
		s.tablets[t.Table] = append(s.tablets[t.Table], cluster.Tablet{
			TableID:        t.Table,
			StartKeyHash:   t.StartKeyHash,
			EndKeyHash:     t.EndKeyHash,
			ServiceLocator: t.ServiceLocator,
		})
	}
	return s
}

// TabletMap returns a copy of the tablet map for tableID; callers own the
// returned slice.
func (s *Source) TabletMap(tableID uint64) ([]cluster.Tablet, error) {
	tablets, ok := s.tablets[tableID]
	if !ok {
		return nil, nil
	}
	var out []cluster.Tablet
	if err := copier.Copy(&out, &tablets); err != nil {
		return nil, fmt.Errorf("unable to copy tablet map: %s", err)
	}
	return out, nil
}
