package config

import (
	"errors"
	"fmt"
	"sort"
)

var knownSources = []string{"text", "voice", "biometric", "behavioral"}

// escalationTiers lists the escalating tiers in ladder order. NONE and the
// terminal RESOLVED state take no thresholds, so they do not appear here.
var escalationTiers = []string{"monitor", "counselor", "emergency_contact", "emergency_services"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateRisk(); err != nil {
		return err
	}
	if err := c.validateEscalation(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.QueueCapacity <= 0 {
		return errors.New("ingest.queue_capacity must be positive")
	}
	return nil
}

func (c *Config) validateRisk() error {
	if err := ensureKnownKeys("risk.half_life_seconds", c.Risk.HalfLifeSeconds, knownSources); err != nil {
		return err
	}
	for _, source := range knownSources {
		if c.Risk.HalfLifeSeconds[source] <= 0 {
			return fmt.Errorf("risk.half_life_seconds.%s must be positive", source)
		}
	}
	if err := ensureKnownKeys("risk.source_weights", c.Risk.SourceWeights, knownSources); err != nil {
		return err
	}
	var sum float64
	for _, source := range knownSources {
		weight := c.Risk.SourceWeights[source]
		if weight < 0 {
			return fmt.Errorf("risk.source_weights.%s must be >= 0", source)
		}
		sum += weight
	}
	if sum <= 0 {
		return errors.New("risk.source_weights must sum to a positive value")
	}
	if c.Risk.TrendHysteresis <= 0 || c.Risk.TrendHysteresis >= 1 {
		return errors.New("risk.trend_hysteresis must be between 0 and 1 exclusive")
	}
	if err := ensurePositiveMap(map[string]int{
		"risk.trend_window_seconds":     c.Risk.TrendWindowSeconds,
		"risk.stale_after_hours":        c.Risk.StaleAfterHours,
		"risk.max_contributing_signals": c.Risk.MaxContributingSignals,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEscalation() error {
	if err := ensureKnownKeys("escalation.entry_thresholds", c.Escalation.EntryThresholds, escalationTiers); err != nil {
		return err
	}
	previous := 0.0
	for _, tier := range escalationTiers {
		threshold, ok := c.Escalation.EntryThresholds[tier]
		if !ok {
			return fmt.Errorf("escalation.entry_thresholds.%s must be set", tier)
		}
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("escalation.entry_thresholds.%s must be between 0 and 1", tier)
		}
		if threshold <= previous {
			return fmt.Errorf("escalation.entry_thresholds.%s must be greater than the previous tier's threshold", tier)
		}
		previous = threshold
	}

	// EMERGENCY_SERVICES never de-escalates, so it carries no exit threshold.
	exitTiers := escalationTiers[:len(escalationTiers)-1]
	if err := ensureKnownKeys("escalation.exit_thresholds", c.Escalation.ExitThresholds, exitTiers); err != nil {
		return err
	}
	for _, tier := range exitTiers {
		threshold, ok := c.Escalation.ExitThresholds[tier]
		if !ok {
			return fmt.Errorf("escalation.exit_thresholds.%s must be set", tier)
		}
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("escalation.exit_thresholds.%s must be between 0 and 1", tier)
		}
		if threshold >= c.Escalation.EntryThresholds[tier] {
			return fmt.Errorf("escalation.exit_thresholds.%s must be below escalation.entry_thresholds.%s", tier, tier)
		}
	}

	if err := ensureKnownKeys("escalation.max_dwell_minutes", c.Escalation.MaxDwellMinutes, exitTiers); err != nil {
		return err
	}
	for _, tier := range exitTiers {
		if c.Escalation.MaxDwellMinutes[tier] <= 0 {
			return fmt.Errorf("escalation.max_dwell_minutes.%s must be positive", tier)
		}
	}

	if err := ensurePositiveMap(map[string]int{
		"escalation.deescalation_window_minutes": c.Escalation.DeescalationWindowMinutes,
		"escalation.max_case_lifetime_hours":     c.Escalation.MaxCaseLifetimeHours,
		"escalation.tick_interval_seconds":       c.Escalation.TickIntervalSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if err := ensurePositiveMap(map[string]int{
		"dispatch.workers":              c.Dispatch.Workers,
		"dispatch.queue_capacity":       c.Dispatch.QueueCapacity,
		"dispatch.retry_base_seconds":   c.Dispatch.RetryBaseSeconds,
		"dispatch.max_attempts":         c.Dispatch.MaxAttempts,
		"dispatch.send_timeout_seconds": c.Dispatch.SendTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Dispatch.RetryFactor < 1 {
		return errors.New("dispatch.retry_factor must be >= 1")
	}
	return nil
}

func (c *Config) validateEngine() error {
	return ensurePositiveMap(map[string]int{
		"engine.workers":        c.Engine.Workers,
		"engine.queue_capacity": c.Engine.QueueCapacity,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureKnownKeys[V any](section string, values map[string]V, known []string) error {
	allowed := make(map[string]struct{}, len(known))
	for _, key := range known {
		allowed[key] = struct{}{}
	}
	var unknown []string
	for key := range values {
		if _, ok := allowed[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%s contains unknown keys: %v", section, unknown)
	}
	return nil
}
