package escalation

import (
	"fmt"
	"time"

	"vigil/internal/config"
	"vigil/internal/crisis"
)

// Policy is the immutable tier ladder configuration. Like risk.Params it is
// built from validated config and swapped whole on reload, never mutated
// while cases are being evaluated.
type Policy struct {
	Entry              map[crisis.Tier]float64
	Exit               map[crisis.Tier]float64
	MaxDwell           map[crisis.Tier]time.Duration
	DeescalationWindow time.Duration
	MaxCaseLifetime    time.Duration
	TickInterval       time.Duration
}

// PolicyFromConfig derives the ladder policy from validated config.
func PolicyFromConfig(cfg *config.Config) (Policy, error) {
	policy := Policy{
		Entry:              make(map[crisis.Tier]float64),
		Exit:               make(map[crisis.Tier]float64),
		MaxDwell:           make(map[crisis.Tier]time.Duration),
		DeescalationWindow: time.Duration(cfg.Escalation.DeescalationWindowMinutes) * time.Minute,
		MaxCaseLifetime:    time.Duration(cfg.Escalation.MaxCaseLifetimeHours) * time.Hour,
		TickInterval:       time.Duration(cfg.Escalation.TickIntervalSeconds) * time.Second,
	}

	previous := 0.0
	for _, tier := range crisis.EscalatingTiers() {
		threshold, ok := cfg.Escalation.EntryThresholds[tier.ConfigKey()]
		if !ok {
			return Policy{}, fmt.Errorf("escalation.entry_thresholds.%s missing", tier.ConfigKey())
		}
		if threshold <= previous {
			return Policy{}, fmt.Errorf("escalation.entry_thresholds.%s must increase monotonically", tier.ConfigKey())
		}
		policy.Entry[tier] = threshold
		previous = threshold

		// EMERGENCY_SERVICES requires explicit human closure and carries no
		// exit threshold or dwell limit.
		if tier == crisis.TierEmergencyServices {
			continue
		}
		exit, ok := cfg.Escalation.ExitThresholds[tier.ConfigKey()]
		if !ok {
			return Policy{}, fmt.Errorf("escalation.exit_thresholds.%s missing", tier.ConfigKey())
		}
		policy.Exit[tier] = exit

		dwell, ok := cfg.Escalation.MaxDwellMinutes[tier.ConfigKey()]
		if !ok {
			return Policy{}, fmt.Errorf("escalation.max_dwell_minutes.%s missing", tier.ConfigKey())
		}
		policy.MaxDwell[tier] = time.Duration(dwell) * time.Minute
	}

	return policy, nil
}

// EntryThreshold returns the score needed to enter a tier.
func (p Policy) EntryThreshold(tier crisis.Tier) (float64, bool) {
	threshold, ok := p.Entry[tier]
	return threshold, ok
}
