package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vigil/internal/config"
)

func TestLoadDefaultsExpandPathsAndFillMaps(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "vigil")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.LogDir != filepath.Join(wantData, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7787" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "vigil.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.SocketPath() != filepath.Join(wantData, "vigil.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}

	if got := cfg.Risk.HalfLifeSeconds["text"]; got != 600 {
		t.Fatalf("text half-life = %d, want 600", got)
	}
	if got := cfg.Risk.HalfLifeSeconds["biometric"]; got != 3600 {
		t.Fatalf("biometric half-life = %d, want 3600", got)
	}
	if got := cfg.Escalation.EntryThresholds["monitor"]; got != 0.30 {
		t.Fatalf("monitor entry threshold = %v, want 0.30", got)
	}
	if got := cfg.Escalation.EntryThresholds["emergency_services"]; got != 0.92 {
		t.Fatalf("emergency_services entry threshold = %v, want 0.92", got)
	}
	if _, ok := cfg.Escalation.ExitThresholds["emergency_services"]; ok {
		t.Fatal("emergency_services must not carry an exit threshold")
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Fatalf("dispatch max attempts = %d, want 5", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.SendTimeoutSeconds != 15 {
		t.Fatalf("dispatch send timeout = %d, want 15", cfg.Dispatch.SendTimeoutSeconds)
	}
	if cfg.Engine.Workers != 4 {
		t.Fatalf("engine workers = %d, want 4", cfg.Engine.Workers)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPathMergesPartialMaps(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "vigil.toml")

	body := `
[paths]
api_bind = "127.0.0.1:9999"

[risk.half_life_seconds]
text = 120

[escalation]
tick_interval_seconds = 5

[escalation.entry_thresholds]
monitor = 0.25
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.APIBind != "127.0.0.1:9999" {
		t.Fatalf("expected api bind override, got %q", cfg.Paths.APIBind)
	}
	if got := cfg.Risk.HalfLifeSeconds["text"]; got != 120 {
		t.Fatalf("text half-life = %d, want 120", got)
	}
	// Sources the file omits keep their defaults.
	if got := cfg.Risk.HalfLifeSeconds["voice"]; got != 900 {
		t.Fatalf("voice half-life = %d, want default 900", got)
	}
	if got := cfg.Escalation.EntryThresholds["monitor"]; got != 0.25 {
		t.Fatalf("monitor entry threshold = %v, want 0.25", got)
	}
	if got := cfg.Escalation.EntryThresholds["counselor"]; got != 0.60 {
		t.Fatalf("counselor entry threshold = %v, want default 0.60", got)
	}
	if cfg.Escalation.TickIntervalSeconds != 5 {
		t.Fatalf("tick interval = %d, want 5", cfg.Escalation.TickIntervalSeconds)
	}
}

func TestEnvVarFallbacksForTokens(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("VIGIL_API_TOKEN", "env-api")
	t.Setenv("VIGIL_PUSH_TOKEN", "env-push")
	t.Setenv("VIGIL_OPERATOR_TOKEN", "env-operator")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "env-api" {
		t.Errorf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Channels.Push.Token != "env-push" {
		t.Errorf("expected push token from env, got %q", cfg.Channels.Push.Token)
	}
	if cfg.Operators.AlertToken != "env-operator" {
		t.Errorf("expected operator token from env, got %q", cfg.Operators.AlertToken)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_api_token_here") {
		t.Fatalf("sample config missing placeholder API token: %s", contents)
	}

	// Validate it decodes
	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if got := cfg.Escalation.EntryThresholds["counselor"]; got != 0.60 {
		t.Fatalf("sample counselor threshold = %v, want 0.60", got)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.HalfLifeSeconds["text"] = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive half-life")
	}

	cfg = config.Default()
	cfg.Risk.SourceWeights["voice"] = -0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative source weight")
	}

	cfg = config.Default()
	cfg.Risk.HalfLifeSeconds["pager"] = 60
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown source key")
	}

	cfg = config.Default()
	cfg.Escalation.EntryThresholds["counselor"] = 0.2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-monotonic entry thresholds")
	}

	cfg = config.Default()
	cfg.Escalation.ExitThresholds["monitor"] = 0.9
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when exit threshold is above entry threshold")
	}

	cfg = config.Default()
	cfg.Escalation.ExitThresholds["emergency_services"] = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for exit threshold on the terminal tier")
	}

	cfg = config.Default()
	cfg.Dispatch.RetryFactor = 0
	cfg.Dispatch.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid dispatch retry settings")
	}
}
