package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIngest()
	c.normalizeRisk()
	c.normalizeEscalation()
	c.normalizeDispatch()
	c.normalizeChannels()
	c.normalizeOperators()
	c.normalizeEngine()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("VIGIL_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeIngest() {
	if c.Ingest.MaxFutureSkewSeconds < 0 {
		c.Ingest.MaxFutureSkewSeconds = defaultMaxFutureSkewSeconds
	}
	if c.Ingest.QueueCapacity <= 0 {
		c.Ingest.QueueCapacity = defaultIngestQueueCapacity
	}
	if c.Ingest.DedupWindowSeconds < 0 {
		c.Ingest.DedupWindowSeconds = defaultDedupWindowSeconds
	}
}

func (c *Config) normalizeRisk() {
	if c.Risk.HalfLifeSeconds == nil {
		c.Risk.HalfLifeSeconds = defaultHalfLifeSeconds()
	}
	for source, seconds := range defaultHalfLifeSeconds() {
		if _, ok := c.Risk.HalfLifeSeconds[source]; !ok {
			c.Risk.HalfLifeSeconds[source] = seconds
		}
	}
	if c.Risk.SourceWeights == nil {
		c.Risk.SourceWeights = defaultSourceWeights()
	}
	for source, weight := range defaultSourceWeights() {
		if _, ok := c.Risk.SourceWeights[source]; !ok {
			c.Risk.SourceWeights[source] = weight
		}
	}
	if c.Risk.TrendHysteresis <= 0 {
		c.Risk.TrendHysteresis = defaultTrendHysteresis
	}
	if c.Risk.TrendWindowSeconds <= 0 {
		c.Risk.TrendWindowSeconds = defaultTrendWindowSeconds
	}
	if c.Risk.StaleAfterHours <= 0 {
		c.Risk.StaleAfterHours = defaultStaleAfterHours
	}
	if c.Risk.MaxContributingSignals <= 0 {
		c.Risk.MaxContributingSignals = defaultMaxContributingSignals
	}
}

func (c *Config) normalizeEscalation() {
	if c.Escalation.EntryThresholds == nil {
		c.Escalation.EntryThresholds = defaultEntryThresholds()
	}
	for tier, threshold := range defaultEntryThresholds() {
		if _, ok := c.Escalation.EntryThresholds[tier]; !ok {
			c.Escalation.EntryThresholds[tier] = threshold
		}
	}
	if c.Escalation.ExitThresholds == nil {
		c.Escalation.ExitThresholds = defaultExitThresholds()
	}
	for tier, threshold := range defaultExitThresholds() {
		if _, ok := c.Escalation.ExitThresholds[tier]; !ok {
			c.Escalation.ExitThresholds[tier] = threshold
		}
	}
	if c.Escalation.MaxDwellMinutes == nil {
		c.Escalation.MaxDwellMinutes = defaultMaxDwellMinutes()
	}
	for tier, minutes := range defaultMaxDwellMinutes() {
		if _, ok := c.Escalation.MaxDwellMinutes[tier]; !ok {
			c.Escalation.MaxDwellMinutes[tier] = minutes
		}
	}
	if c.Escalation.DeescalationWindowMinutes <= 0 {
		c.Escalation.DeescalationWindowMinutes = defaultDeescalationWindowMinutes
	}
	if c.Escalation.MaxCaseLifetimeHours <= 0 {
		c.Escalation.MaxCaseLifetimeHours = defaultMaxCaseLifetimeHours
	}
	if c.Escalation.TickIntervalSeconds <= 0 {
		c.Escalation.TickIntervalSeconds = defaultTickIntervalSeconds
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = defaultDispatchWorkers
	}
	if c.Dispatch.QueueCapacity <= 0 {
		c.Dispatch.QueueCapacity = defaultDispatchQueueCapacity
	}
	if c.Dispatch.RetryBaseSeconds <= 0 {
		c.Dispatch.RetryBaseSeconds = defaultRetryBaseSeconds
	}
	if c.Dispatch.RetryFactor < 1 {
		c.Dispatch.RetryFactor = defaultRetryFactor
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = defaultMaxAttempts
	}
	if c.Dispatch.SendTimeoutSeconds <= 0 {
		c.Dispatch.SendTimeoutSeconds = defaultSendTimeoutSeconds
	}
}

func (c *Config) normalizeChannels() {
	normalizeEndpoint := func(endpoint *ChannelEndpoint, envToken string) {
		endpoint.URL = strings.TrimSpace(endpoint.URL)
		endpoint.Token = strings.TrimSpace(endpoint.Token)
		if endpoint.Token == "" {
			if value, ok := os.LookupEnv(envToken); ok {
				endpoint.Token = strings.TrimSpace(value)
			}
		}
	}
	normalizeEndpoint(&c.Channels.Push, "VIGIL_PUSH_TOKEN")
	normalizeEndpoint(&c.Channels.SMS, "VIGIL_SMS_TOKEN")
	normalizeEndpoint(&c.Channels.Voice, "VIGIL_VOICE_TOKEN")
	normalizeEndpoint(&c.Channels.Email, "VIGIL_EMAIL_TOKEN")
	normalizeEndpoint(&c.Channels.Counselor, "VIGIL_COUNSELOR_TOKEN")
	normalizeEndpoint(&c.Channels.Emergency, "VIGIL_EMERGENCY_TOKEN")
}

func (c *Config) normalizeOperators() {
	c.Operators.AlertURL = strings.TrimSpace(c.Operators.AlertURL)
	c.Operators.AlertToken = strings.TrimSpace(c.Operators.AlertToken)
	if c.Operators.AlertToken == "" {
		if value, ok := os.LookupEnv("VIGIL_OPERATOR_TOKEN"); ok {
			c.Operators.AlertToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeEngine() {
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = defaultEngineWorkers
	}
	if c.Engine.QueueCapacity <= 0 {
		c.Engine.QueueCapacity = defaultEngineQueueCapacity
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
