package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lencsegabor-port/siitperfgo/internal/config"
)

func baseRunConfig() config.Config {
	cfg := *config.DefaultConfig()
	cfg.Run.IPv6FrameSize = 84
	cfg.Run.Rate = 1000
	cfg.Run.Duration = 5
	cfg.Run.TimeoutMS = 100
	cfg.Run.Mod = 2
	cfg.Run.Threshold = 1
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Left.IPVersion != 6 || cfg.Right.IPVersion != 4 {
		t.Errorf("default side IP versions = %d/%d, want 6/4", cfg.Left.IPVersion, cfg.Right.IPVersion)
	}
	if cfg.Left.Subnets != 1 || cfg.Right.Subnets != 1 {
		t.Errorf("default subnets = %d/%d, want 1/1", cfg.Left.Subnets, cfg.Right.Subnets)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
log:
  level: "debug"
metrics:
  addr: ":9200"
run:
  ipv6_frame_size: 256
  rate: 5000
  duration: 10
  timeout_ms: 50
  n: 4
  m: 2
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}
	if cfg.Run.IPv6FrameSize != 256 {
		t.Errorf("Run.IPv6FrameSize = %d, want 256", cfg.Run.IPv6FrameSize)
	}
	if cfg.Run.Rate != 5000 {
		t.Errorf("Run.Rate = %d, want 5000", cfg.Run.Rate)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
run:
  ipv6_frame_size: 84
  rate: 1000
  duration: 5
  n: 2
  m: 1
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "text")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	yamlContent := `
run:
  ipv6_frame_size: 84
  rate: 1000
  duration: 5
  n: 2
  m: 1
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path, map[string]any{"run.rate": 9999})
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}
	if cfg.Run.Rate != 9999 {
		t.Errorf("Run.Rate = %d, want override 9999 (highest-priority layer)", cfg.Run.Rate)
	}
}

func TestValidateRangeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{"frame size too small", func(c *config.Config) { c.Run.IPv6FrameSize = 10 }, config.ErrInvalidFrameSize},
		{"frame size too large", func(c *config.Config) { c.Run.IPv6FrameSize = 2000 }, config.ErrInvalidFrameSize},
		{"rate zero", func(c *config.Config) { c.Run.Rate = 0 }, config.ErrInvalidRate},
		{"rate too large", func(c *config.Config) { c.Run.Rate = 99_999_999 }, config.ErrInvalidRate},
		{"duration zero", func(c *config.Config) { c.Run.Duration = 0 }, config.ErrInvalidDuration},
		{"timeout negative", func(c *config.Config) { c.Run.TimeoutMS = -1 }, config.ErrInvalidTimeout},
		{"mod too small", func(c *config.Config) { c.Run.Mod = 1 }, config.ErrInvalidMod},
		{"threshold exceeds mod", func(c *config.Config) { c.Run.Threshold = 3; c.Run.Mod = 2 }, config.ErrInvalidThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := baseRunConfig()
			tt.modify(&cfg)

			err := config.Validate(&cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSubnetRange(t *testing.T) {
	t.Parallel()

	cfg := baseRunConfig()
	cfg.Left.Subnets = 0
	if err := config.Validate(&cfg); !errors.Is(err, config.ErrInvalidSubnets) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrInvalidSubnets)
	}

	cfg = baseRunConfig()
	cfg.Right.Subnets = 257
	if err := config.Validate(&cfg); !errors.Is(err, config.ErrInvalidSubnets) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrInvalidSubnets)
	}
}

// TestValidatePreliminaryBudget exercises spec.md section 6's stateful
// constraint 1000*N/R + T <= D.
func TestValidatePreliminaryBudget(t *testing.T) {
	t.Parallel()

	cfg := baseRunConfig()
	cfg.Run.Stateful = 1
	cfg.Run.PrelimFrames = 1000
	cfg.Run.PrelimRate = 100 // 1000*1000/100 = 10000ms
	cfg.Run.PrelimTimeoutMS = 100
	cfg.Run.PrelimDelayMS = 200 // 10000+100 > 200
	cfg.Run.StateTableSize = 1

	if err := config.Validate(&cfg); !errors.Is(err, config.ErrPrelimBudget) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrPrelimBudget)
	}
}

// TestValidatePreliminaryUnderfill exercises N - N*(n-m)/n >= M.
func TestValidatePreliminaryUnderfill(t *testing.T) {
	t.Parallel()

	cfg := baseRunConfig()
	cfg.Run.Stateful = 1
	cfg.Run.Mod = 2
	cfg.Run.Threshold = 1
	cfg.Run.PrelimFrames = 100 // filled = 100 - 100*(1)/2 = 50
	cfg.Run.PrelimRate = 100000
	cfg.Run.PrelimTimeoutMS = 0
	cfg.Run.PrelimDelayMS = 100000
	cfg.Run.StateTableSize = 60 // 50 < 60

	if err := config.Validate(&cfg); !errors.Is(err, config.ErrPrelimUnderfill) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrPrelimUnderfill)
	}
}

func TestValidateLatencyConstraints(t *testing.T) {
	t.Parallel()

	cfg := baseRunConfig()
	cfg.Run.DelaySeconds = 1
	cfg.Run.K = 100000 // (5-1)*1000 = 4000 < 100000
	if err := config.Validate(&cfg); !errors.Is(err, config.ErrInvalidK) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrInvalidK)
	}

	cfg2 := baseRunConfig()
	cfg2.Run.DelaySeconds = 5 // must be < duration (5)
	cfg2.Run.K = 1
	if err := config.Validate(&cfg2); !errors.Is(err, config.ErrInvalidDelay) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrInvalidDelay)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml", nil)
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Cannot be parallel: modifies process-wide environment state.
	yamlContent := `
log:
  level: "info"
run:
  ipv6_frame_size: 84
  rate: 1000
  duration: 5
  n: 2
  m: 1
`
	path := writeTemp(t, yamlContent)

	t.Setenv("SIITPERF_LOG_LEVEL", "debug")
	t.Setenv("SIITPERF_METRICS_ADDR", ":9200")

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "siitperfgo.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
