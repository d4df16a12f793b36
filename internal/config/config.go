// Package config provides configuration loading for the grid hub. It
// supports JSON-based configuration with safe defaults for every tunable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every tunable knob for a hub process. The struct is loaded
// once at startup and then shared read-only across goroutines.
type Config struct {
	// ListenAddr is the address the downstream HTTP router listens on.
	ListenAddr string `json:"listen_addr"`

	// RegistrationSecret is the value a node must present on every
	// heartbeat; mismatches are rejected.
	RegistrationSecret string `json:"registration_secret"`

	// HeartbeatInterval is the cadence of expected node heartbeats.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// UnhealthyAfter is the staleness threshold before a node becomes
	// eligible for eviction.
	UnhealthyAfter time.Duration `json:"unhealthy_after"`

	// NewSessionTimeout is the end-to-end budget for one POST /session.
	NewSessionTimeout time.Duration `json:"new_session_timeout"`

	// NodeRPCTimeout is the per-call budget for upstream node RPCs.
	NodeRPCTimeout time.Duration `json:"node_rpc_timeout"`

	// HealthProbeTimeout is the per-call budget for GET /status probes.
	HealthProbeTimeout time.Duration `json:"health_probe_timeout"`

	// MaxPlacementAttempts is the retry ceiling for lost-race reservations.
	MaxPlacementAttempts int `json:"max_placement_attempts"`

	// JanitorInterval is the frequency of the orphan-reservation sweep.
	JanitorInterval time.Duration `json:"janitor_interval"`

	// HealthProbeWorkers bounds how many health probes may be in flight
	// concurrently regardless of fleet size.
	HealthProbeWorkers int `json:"health_probe_workers"`

	// InformationalCapabilities lists capability keys that are "don't
	// care" when absent from a stereotype; browserVersion is always
	// informational and need not be listed here.
	InformationalCapabilities []string `json:"informational_capabilities"`
}

// Load reads a JSON file at filename and deserializes it into a Config.
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// Default returns a *Config pre-filled with conservative defaults. Each
// call returns a fresh independent copy.
func Default() *Config {
	return &Config{
		ListenAddr:                ":4444",
		RegistrationSecret:        "",
		HeartbeatInterval:         30 * time.Second,
		UnhealthyAfter:            90 * time.Second,
		NewSessionTimeout:         300 * time.Second,
		NodeRPCTimeout:            180 * time.Second,
		HealthProbeTimeout:        10 * time.Second,
		MaxPlacementAttempts:      3,
		JanitorInterval:           30 * time.Second,
		HealthProbeWorkers:        16,
		InformationalCapabilities: nil,
	}
}

// InformationalSet returns InformationalCapabilities as a lookup set, always
// including "browserVersion" since it is informational unconditionally.
func (c *Config) InformationalSet() map[string]bool {
	set := make(map[string]bool, len(c.InformationalCapabilities)+1)
	set["browserVersion"] = true
	for _, k := range c.InformationalCapabilities {
		set[k] = true
	}
	return set
}
