// Package config manages siitperfgo configuration using koanf/v2.
//
// Supports a YAML file, environment variables, and CLI positional
// arguments/flags layered on top, per SPEC_FULL.md section 6.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete siitperfgo run configuration, the
// "configuration surface" of spec.md section 6.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`

	Left  SideConfig `koanf:"left"`
	Right SideConfig `koanf:"right"`

	// Run holds the command-line positional inputs of spec.md section 6.
	Run RunConfig `koanf:"run"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// SideConfig holds one direction's (left or right) endpoint
// configuration, per spec.md section 6's configuration surface.
type SideConfig struct {
	// Enabled is the per-direction enable flag.
	Enabled bool `koanf:"enabled"`

	// IPVersion is 4 or 6 for this side's real address family.
	IPVersion int `koanf:"ip_version"`

	// RealIP and VirtualIP are the real and virtual addresses of this
	// side (the pair a translator/NAT rewrites between).
	RealIP    string `koanf:"real_ip"`
	VirtualIP string `koanf:"virtual_ip"`

	// TesterMAC and DUTMAC are the Ethernet addresses used on this
	// side's wire.
	TesterMAC string `koanf:"tester_mac"`
	DUTMAC    string `koanf:"dut_mac"`

	// Interface is the network interface this side sends/receives on.
	Interface string `koanf:"interface"`

	// Promiscuous enables promiscuous-mode capture on Interface.
	Promiscuous bool `koanf:"promiscuous"`

	// CPUCore pins this side's sender/receiver goroutines, per
	// SPEC_FULL.md section 5.A.
	CPUCore int `koanf:"cpu_core"`

	// Subnets is the number of destination subnets (1-256), per
	// spec.md section 6.
	Subnets int `koanf:"subnets"`

	SrcPort PortVariation `koanf:"src_port"`
	DstPort PortVariation `koanf:"dst_port"`

	IPSlice IPSliceVariation `koanf:"ip_slice"`

	// BgRealIP and BgVirtualIP are this side's real and virtual IPv6
	// addresses used to build the background-traffic template, per
	// spec.md section 3: background templates are always IPv6,
	// regardless of IPVersion. Unused when IPVersion is already 6, in
	// which case RealIP/VirtualIP serve double duty.
	BgRealIP    string `koanf:"bg_real_ip"`
	BgVirtualIP string `koanf:"bg_virtual_ip"`
}

// PortVariation describes one direction's port-variation mode and
// range, per spec.md section 6.
type PortVariation struct {
	// Mode is 0 fixed, 1 increasing, 2 decreasing, 3 random.
	Mode int    `koanf:"mode"`
	Min  uint16 `koanf:"min"`
	Max  uint16 `koanf:"max"`
}

// IPSliceVariation describes the per-version, per-side IP-slice
// variation mode, range, and byte offset.
type IPSliceVariation struct {
	Mode   int    `koanf:"mode"`
	Min    uint16 `koanf:"min"`
	Max    uint16 `koanf:"max"`
	Offset int    `koanf:"offset"`
}

// RunConfig holds the command-line positional inputs of spec.md
// section 6, plus the optional stateful and latency extensions.
type RunConfig struct {
	// StartDelayMS is the lead time the orchestrator adds to "now" to
	// compute the common start timestamp T0 (spec.md section 2),
	// defaulting to original_source/defines.h's START_DELAY.
	StartDelayMS int `koanf:"start_delay_ms"`

	IPv6FrameSize int `koanf:"ipv6_frame_size"`
	Rate          int `koanf:"rate"`
	Duration      int `koanf:"duration"`
	TimeoutMS     int `koanf:"timeout_ms"`
	Mod           int `koanf:"n"`
	Threshold     int `koanf:"m"`

	// Stateful selects 0 stateless, 1 Initiator-left, 2 Initiator-right.
	Stateful int `koanf:"stateful"`

	// ResponderTupleMode is 0-3, per spec.md section 6.
	ResponderTupleMode int `koanf:"responder_tuple_mode"`

	// EnumeratePorts and EnumerateIPs are 0 none, 1 increasing,
	// 2 decreasing, 3 random-permutation.
	EnumeratePorts int `koanf:"enumerate_ports"`
	EnumerateIPs   int `koanf:"enumerate_ips"`

	// Preliminary-phase parameters, required when Stateful != 0.
	PrelimFrames    int `koanf:"prelim_frames"`    // N
	StateTableSize  int `koanf:"state_table_size"` // M
	PrelimRate      int `koanf:"prelim_rate"`      // R
	PrelimTimeoutMS int `koanf:"prelim_timeout_ms"` // T
	PrelimDelayMS   int `koanf:"prelim_delay_ms"`   // D

	// Latency-mode parameters. Latency is enabled when K > 0.
	DelaySeconds int `koanf:"delay_seconds"`
	K            int `koanf:"k"`

	// Format selects the reported-output format: "text" (default) or
	// "yaml", per SPEC_FULL.md section 6.A.
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
// The TOLERANCE constant lives in internal/sender, not here, and the
// preliminary-phase fields have no default: this package only
// supplies defaults for ambient/config-surface fields.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Left:  SideConfig{Enabled: true, IPVersion: 6, Subnets: 1},
		Right: SideConfig{Enabled: true, IPVersion: 4, Subnets: 1},
		Run: RunConfig{
			StartDelayMS: 4000,
			TimeoutMS:    0,
			Mod:          2,
			Threshold:    1,
			Format:       "text",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for siitperfgo
// configuration. Variables are named SIITPERF_<section>_<key>, e.g.
// SIITPERF_METRICS_ADDR.
const envPrefix = "SIITPERF_"

// Load reads configuration from an optional YAML file at path (an
// empty path skips the file layer), overlays environment variable
// overrides (SIITPERF_ prefix), overlays overrides (typically CLI
// flags/positional arguments already reduced to a flat map by the
// caller), and merges all three on top of DefaultConfig(). Missing
// fields inherit defaults.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms SIITPERF_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":      defaults.Log.Level,
		"log.format":     defaults.Log.Format,
		"metrics.addr":   defaults.Metrics.Addr,
		"metrics.path":   defaults.Metrics.Path,
		"left.enabled":   defaults.Left.Enabled,
		"left.subnets":   defaults.Left.Subnets,
		"right.enabled":  defaults.Right.Enabled,
		"right.subnets":  defaults.Right.Subnets,
		"run.start_delay_ms": defaults.Run.StartDelayMS,
		"run.n":          defaults.Run.Mod,
		"run.m":          defaults.Run.Threshold,
		"run.timeout_ms": defaults.Run.TimeoutMS,
		"run.format":     defaults.Run.Format,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors, corresponding to spec.md section 7's
// InvalidConfiguration error kind.
var (
	ErrInvalidFrameSize    = errors.New("ipv6_frame_size must be in [84, 1538]")
	ErrInvalidRate         = errors.New("rate must be in [1, 14880952]")
	ErrInvalidDuration     = errors.New("duration must be in [1, 3600]")
	ErrInvalidTimeout      = errors.New("timeout_ms must be in [0, 60000]")
	ErrInvalidMod          = errors.New("n must be >= 2")
	ErrInvalidThreshold    = errors.New("m must be <= n")
	ErrInvalidSubnets      = errors.New("subnets must be in [1, 256]")
	ErrInvalidStateful     = errors.New("stateful must be 0, 1, or 2")
	ErrPrelimBudget        = errors.New("preliminary timing violates 1000*N/R + T <= D")
	ErrPrelimUnderfill     = errors.New("preliminary phase cannot fill the state table: N - N*(n-m)/n < M")
	ErrInvalidDelay        = errors.New("delay must be in [0, 3600] and less than duration")
	ErrInvalidK            = errors.New("k must be in [1, 50000] and satisfy (duration-delay)*rate >= k")
	ErrInvalidPortMode     = errors.New("port variation mode must be 0-3")
	ErrInvalidResponderMux = errors.New("responder_tuple_mode must be 0-3")
)

// Validate checks the configuration against spec.md section 6's
// range/constraint table. Returns the first violation found.
func Validate(cfg *Config) error {
	r := cfg.Run

	if r.IPv6FrameSize < 84 || r.IPv6FrameSize > 1538 {
		return ErrInvalidFrameSize
	}
	if r.Rate < 1 || r.Rate > 14_880_952 {
		return ErrInvalidRate
	}
	if r.Duration < 1 || r.Duration > 3600 {
		return ErrInvalidDuration
	}
	if r.TimeoutMS < 0 || r.TimeoutMS > 60_000 {
		return ErrInvalidTimeout
	}
	if r.Mod < 2 {
		return ErrInvalidMod
	}
	if r.Threshold > r.Mod {
		return ErrInvalidThreshold
	}

	for _, side := range []SideConfig{cfg.Left, cfg.Right} {
		if side.Subnets < 1 || side.Subnets > 256 {
			return ErrInvalidSubnets
		}
		if side.SrcPort.Mode < 0 || side.SrcPort.Mode > 3 || side.DstPort.Mode < 0 || side.DstPort.Mode > 3 {
			return ErrInvalidPortMode
		}
	}

	if r.Stateful < 0 || r.Stateful > 2 {
		return ErrInvalidStateful
	}
	if r.ResponderTupleMode < 0 || r.ResponderTupleMode > 3 {
		return ErrInvalidResponderMux
	}

	if r.Stateful != 0 {
		if err := validatePreliminary(r); err != nil {
			return err
		}
	}

	if r.K > 0 {
		if err := validateLatency(r); err != nil {
			return err
		}
	}

	return nil
}

// validatePreliminary checks spec.md section 6's stateful constraints:
// 1000*N/R + T <= D, and N - N*(n-m)/n >= M.
func validatePreliminary(r RunConfig) error {
	if 1000*r.PrelimFrames/r.PrelimRate+r.PrelimTimeoutMS > r.PrelimDelayMS {
		return ErrPrelimBudget
	}
	filled := r.PrelimFrames - r.PrelimFrames*(r.Mod-r.Threshold)/r.Mod
	if filled < r.StateTableSize {
		return ErrPrelimUnderfill
	}
	return nil
}

// validateLatency checks spec.md section 6's latency-mode constraints:
// delay in [0,3600] and < duration, k in [1,50000] and
// (duration-delay)*rate >= k.
func validateLatency(r RunConfig) error {
	if r.DelaySeconds < 0 || r.DelaySeconds > 3600 || r.DelaySeconds >= r.Duration {
		return ErrInvalidDelay
	}
	if r.K < 1 || r.K > 50_000 {
		return ErrInvalidK
	}
	if (r.Duration-r.DelaySeconds)*r.Rate < r.K {
		return ErrInvalidK
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
