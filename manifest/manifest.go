// Package manifest implements the ambient configuration loader used by
// components ABOVE core — the demo launcher and test harness — to
// describe which ROM modules to spawn and with what session routing
// policy. Core itself reads no configuration, per §6.5; this package
// exists entirely outside core's own boundary.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ErrNoChildren is returned when a manifest names no children to spawn.
var ErrNoChildren = errors.New("manifest: no children configured")

// Route describes one routing rule: requests for ServiceName are
// resolved to Target, which is either "parent" (forward) or the name of
// a sibling child.
type Route struct {
	ServiceName string `yaml:"service"`
	Target      string `yaml:"target"`
}

// Child describes one component the launcher should spawn.
type Child struct {
	Name      string   `yaml:"name"`
	ROMModule string   `yaml:"rom"`
	RAMQuota  uint64   `yaml:"ram_quota"`
	CapQuota  uint64   `yaml:"cap_quota"`
	Provides  []string `yaml:"provides"`
	Routes    []Route  `yaml:"routes"`
}

// Manifest is the top-level launcher configuration.
type Manifest struct {
	Children []Child `yaml:"children"`
	LogLevel string  `yaml:"log_level"`
}

func (m *Manifest) applyDefaults() {
	if m.LogLevel == "" {
		m.LogLevel = "INFO"
	}
	for i := range m.Children {
		if m.Children[i].RAMQuota == 0 {
			m.Children[i].RAMQuota = 1 << 20 // 1 MiB default, matching a small Genode component's footprint
		}
	}
}

func (m *Manifest) validate() error {
	if len(m.Children) == 0 {
		return ErrNoChildren
	}
	seen := make(map[string]bool)
	for _, c := range m.Children {
		if c.Name == "" {
			return fmt.Errorf("manifest: child with empty name")
		}
		if seen[c.Name] {
			return fmt.Errorf("manifest: duplicate child name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Parse decodes a manifest from YAML bytes, applying defaults and
// validating the result.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a manifest file from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
