package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format             string            `toml:"format"`
	Level              string            `toml:"level"`
	RetentionDays      int               `toml:"retention_days"`
	ComponentOverrides map[string]string `toml:"component_overrides"`
}

// Ingest contains configuration for signal admission.
type Ingest struct {
	MaxFutureSkewSeconds int `toml:"max_future_skew_seconds"`
	QueueCapacity        int `toml:"queue_capacity"`
	DedupWindowSeconds   int `toml:"dedup_window_seconds"`
}

// Risk contains configuration for score aggregation and decay.
type Risk struct {
	HalfLifeSeconds        map[string]int     `toml:"half_life_seconds"`
	SourceWeights          map[string]float64 `toml:"source_weights"`
	TrendHysteresis        float64            `toml:"trend_hysteresis"`
	TrendWindowSeconds     int                `toml:"trend_window_seconds"`
	StaleAfterHours        int                `toml:"stale_after_hours"`
	MaxContributingSignals int                `toml:"max_contributing_signals"`
}

// Escalation contains tier thresholds and timer configuration.
type Escalation struct {
	EntryThresholds           map[string]float64 `toml:"entry_thresholds"`
	ExitThresholds            map[string]float64 `toml:"exit_thresholds"`
	MaxDwellMinutes           map[string]int     `toml:"max_dwell_minutes"`
	DeescalationWindowMinutes int                `toml:"deescalation_window_minutes"`
	MaxCaseLifetimeHours      int                `toml:"max_case_lifetime_hours"`
	TickIntervalSeconds       int                `toml:"tick_interval_seconds"`
}

// Dispatch contains configuration for the intervention delivery pool.
type Dispatch struct {
	Workers            int `toml:"workers"`
	QueueCapacity      int `toml:"queue_capacity"`
	RetryBaseSeconds   int `toml:"retry_base_seconds"`
	RetryFactor        int `toml:"retry_factor"`
	MaxAttempts        int `toml:"max_attempts"`
	SendTimeoutSeconds int `toml:"send_timeout_seconds"`
}

// ChannelEndpoint is the delivery endpoint for one outreach medium.
type ChannelEndpoint struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// Channels contains per-medium delivery endpoints. Counselor and Emergency
// are fixed escalation paths rather than user-addressed media: the counselor
// queue and the emergency-services dispatch webhook.
type Channels struct {
	Push      ChannelEndpoint `toml:"push"`
	SMS       ChannelEndpoint `toml:"sms"`
	Voice     ChannelEndpoint `toml:"voice"`
	Email     ChannelEndpoint `toml:"email"`
	Counselor ChannelEndpoint `toml:"counselor"`
	Emergency ChannelEndpoint `toml:"emergency"`
}

// Operators contains configuration for operator paging.
type Operators struct {
	AlertURL   string `toml:"alert_url"`
	AlertToken string `toml:"alert_token"`
}

// Engine contains configuration for the per-user worker shards.
type Engine struct {
	Workers       int `toml:"workers"`
	QueueCapacity int `toml:"queue_capacity"`
}

// Config encapsulates all configuration values for Vigil.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Logging: log format, level, and retention
//   - Ingest: signal admission limits and deduplication
//   - Risk: per-source decay half-lives, weights, and trend detection
//   - Escalation: tier thresholds, dwell limits, and timer cadence
//   - Dispatch: delivery pool sizing and retry policy
//   - Channels: outreach endpoints per medium (push/sms/voice/email)
//   - Operators: paging endpoint for operator alerts
//   - Engine: per-user worker shard sizing
type Config struct {
	Paths      Paths      `toml:"paths"`
	Logging    Logging    `toml:"logging"`
	Ingest     Ingest     `toml:"ingest"`
	Risk       Risk       `toml:"risk"`
	Escalation Escalation `toml:"escalation"`
	Dispatch   Dispatch   `toml:"dispatch"`
	Channels   Channels   `toml:"channels"`
	Operators  Operators  `toml:"operators"`
	Engine     Engine     `toml:"engine"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vigil/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/vigil/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vigil.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the case database under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "vigil.db")
}

// SocketPath returns the location of the daemon control socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "vigil.sock")
}

// PIDPath returns the location of the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "vigil.pid")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
