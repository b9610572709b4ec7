package testsupport

import (
	"path/filepath"
	"testing"

	"vigil/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("prepare config directories: %v", err)
	}

	return builder.cfg
}

// WithEngineWorkers sets the engine shard count on the test config.
func WithEngineWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Workers = n
	}
}

// WithDispatchRetry overrides the delivery retry policy on the test config.
func WithDispatchRetry(baseSeconds, factor, maxAttempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.RetryBaseSeconds = baseSeconds
		b.cfg.Dispatch.RetryFactor = factor
		b.cfg.Dispatch.MaxAttempts = maxAttempts
	}
}

// WithAPIToken sets the HTTP API bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithChannelURL points one outreach channel at the given endpoint.
func WithChannelURL(channel, url string) ConfigOption {
	return func(b *configBuilder) {
		switch channel {
		case "push":
			b.cfg.Channels.Push.URL = url
		case "sms":
			b.cfg.Channels.SMS.URL = url
		case "voice":
			b.cfg.Channels.Voice.URL = url
		case "email":
			b.cfg.Channels.Email.URL = url
		case "counselor":
			b.cfg.Channels.Counselor.URL = url
		case "emergency":
			b.cfg.Channels.Emergency.URL = url
		default:
			b.t.Fatalf("unknown channel %q", channel)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
