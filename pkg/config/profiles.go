package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named backend configuration inside a profiles file, so one
// machine can switch between coordination targets without editing its
// environment.
type Profile struct {
	BackendURL       string  `yaml:"backend_url"`
	Prefix           string  `yaml:"prefix"`
	HeartbeatSeconds float64 `yaml:"heartbeat_seconds"`
}

type profilesFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML profiles file.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("profiles file %s defines no profiles", path)
	}
	return file.Profiles, nil
}

// ApplyProfile overlays the profile's set fields onto the config.
func (c *Config) ApplyProfile(p Profile) {
	if p.BackendURL != "" {
		c.BackendURL = p.BackendURL
	}
	if p.Prefix != "" {
		c.Prefix = p.Prefix
	}
	if p.HeartbeatSeconds > 0 {
		c.HeartbeatInterval = time.Duration(p.HeartbeatSeconds * float64(time.Second))
	}
}
