package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes a whisperd plugin package.
type Manifest struct {
	Metadata     Metadata     `yaml:"metadata"`
	Runtime      RuntimeSpec  `yaml:"runtime"`
	Capabilities Capabilities `yaml:"capabilities"`
	Permissions  []string     `yaml:"permissions"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

type RuntimeSpec struct {
	Mode        string `yaml:"mode"`
	Module      string `yaml:"module"`
	Entrypoint  string `yaml:"entrypoint"`
	HostVersion string `yaml:"host_version"`
}

type Capabilities struct {
	Bus BusSpec `yaml:"bus"`
}

type BusSpec struct {
	Publish   []string `yaml:"publish,omitempty"`
	Subscribe []string `yaml:"subscribe,omitempty"`
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate ensures manifest contains required fields.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if m.Runtime.Mode == "" {
		return fmt.Errorf("runtime.mode is required")
	}
	switch m.Runtime.Mode {
	case "wasm":
		if m.Runtime.Module == "" {
			return fmt.Errorf("runtime.module is required for wasm")
		}
		if m.Runtime.Entrypoint == "" {
			return fmt.Errorf("runtime.entrypoint is required for wasm")
		}
	default:
		return fmt.Errorf("runtime.mode %q not supported", m.Runtime.Mode)
	}
	if len(m.Capabilities.Bus.Publish) == 0 && len(m.Capabilities.Bus.Subscribe) == 0 {
		return fmt.Errorf("capabilities.bus must declare publish or subscribe subjects")
	}
	if len(m.Permissions) == 0 {
		return fmt.Errorf("permissions must include at least one entry")
	}
	return nil
}
