// Package config loads the YAML runtime configuration for the
// netsentryd daemon, covering every knob named in spec.md §6 plus the
// ambient listen/metrics/log/TUN settings the daemon itself needs.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Tun       TunConfig       `yaml:"tun"`
	Ensemble  EnsembleConfig  `yaml:"ensemble"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	BufferPool BufferPoolConfig `yaml:"buffer_pool"`
	Profile   ProfileConfig   `yaml:"profile"`
	Log       LogConfig       `yaml:"log"`
	Sink      SinkConfig      `yaml:"sink"`
}

// ListenConfig holds the ambient network-facing addresses.
type ListenConfig struct {
	Metrics string `yaml:"metrics"` // e.g. ":9100", empty disables
}

// TunConfig describes the TUN interface the VPN Orchestrator manages.
type TunConfig struct {
	Device   string `yaml:"device"`
	Address  string `yaml:"address"`
	MTU      int    `yaml:"mtu"`
	OutIface string `yaml:"out_iface"`
	Fwmark   uint32 `yaml:"fwmark"`
}

// EnsembleConfig configures the Anomaly Ensemble's scorer weights and
// severity thresholds, per spec.md §6.
type EnsembleConfig struct {
	WeightTemporal    float64 `yaml:"weight_temporal"`
	WeightVolume      float64 `yaml:"weight_volume"`
	WeightDestination float64 `yaml:"weight_destination"`

	ThresholdLow    float64 `yaml:"threshold_low"`
	ThresholdMedium float64 `yaml:"threshold_medium"`
	ThresholdHigh   float64 `yaml:"threshold_high"`
}

// TimeoutConfig configures the session/flow idle windows from spec.md §6.
type TimeoutConfig struct {
	TCPSessionIdle time.Duration `yaml:"tcp_session_idle"`
	UDPSessionIdle time.Duration `yaml:"udp_session_idle"`
	FlowIdle       time.Duration `yaml:"flow_idle"`
}

// BufferPoolConfig holds the Buffer Pool's steady-state sizing. Load
// parses and defaults it, but nothing applies it: the VPN Orchestrator
// builds its pool with its own fixed buffer size and capacity.
type BufferPoolConfig struct {
	Capacity   int `yaml:"capacity"`
	BufferSize int `yaml:"buffer_size"`
}

// ProfileConfig holds the App Profile Store's maturity gates. Load
// parses and defaults it, but nothing applies it: the profile package
// uses its own fixed learning and mature thresholds.
type ProfileConfig struct {
	LearningFlowThreshold int `yaml:"learning_flow_threshold"`
	MatureFlowThreshold   int `yaml:"mature_flow_threshold"`
}

// LogConfig configures the structured logger's verbosity.
type LogConfig struct {
	Level string `yaml:"level"` // debug/info/warn/error
}

// SinkConfig names the persistence/alert sink implementation.
// "memory" is the only in-process option the core ships; cmd/netsentryd
// does not read this value and always wires the in-memory sinks.
type SinkConfig struct {
	Persistence string `yaml:"persistence"`
	Alert       string `yaml:"alert"`
}

// Load reads and parses the YAML config at path, filling every unset
// field with spec.md §6's defaults (mirroring the teacher's
// LoadConfig back-fill style).
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Tun.MTU == 0 {
		c.Tun.MTU = 1500
	}
	if c.Tun.Address == "" {
		c.Tun.Address = "10.0.0.2/32"
	}

	if c.Ensemble.WeightTemporal == 0 && c.Ensemble.WeightVolume == 0 && c.Ensemble.WeightDestination == 0 {
		c.Ensemble.WeightTemporal = 0.25
		c.Ensemble.WeightVolume = 0.35
		c.Ensemble.WeightDestination = 0.40
	}
	if c.Ensemble.ThresholdLow == 0 {
		c.Ensemble.ThresholdLow = 0.3
	}
	if c.Ensemble.ThresholdMedium == 0 {
		c.Ensemble.ThresholdMedium = 0.5
	}
	if c.Ensemble.ThresholdHigh == 0 {
		c.Ensemble.ThresholdHigh = 0.7
	}

	if c.Timeouts.TCPSessionIdle == 0 {
		c.Timeouts.TCPSessionIdle = 120 * time.Second
	}
	if c.Timeouts.UDPSessionIdle == 0 {
		c.Timeouts.UDPSessionIdle = 60 * time.Second
	}
	if c.Timeouts.FlowIdle == 0 {
		c.Timeouts.FlowIdle = 30 * time.Second
	}

	if c.BufferPool.Capacity == 0 {
		c.BufferPool.Capacity = 64
	}
	if c.BufferPool.BufferSize == 0 {
		c.BufferPool.BufferSize = 32 * 1024
	}

	if c.Profile.LearningFlowThreshold == 0 {
		c.Profile.LearningFlowThreshold = 30
	}
	if c.Profile.MatureFlowThreshold == 0 {
		c.Profile.MatureFlowThreshold = 200
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Sink.Persistence == "" {
		c.Sink.Persistence = "memory"
	}
	if c.Sink.Alert == "" {
		c.Sink.Alert = "memory"
	}
}
