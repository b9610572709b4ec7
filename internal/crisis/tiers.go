package crisis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is one step in the escalation ladder. Tiers only advance forward one
// step at a time; de-escalation also moves exactly one step.
type Tier int

const (
	TierNone Tier = iota
	TierMonitor
	TierCounselor
	TierEmergencyContact
	TierEmergencyServices
)

var tierNames = map[Tier]string{
	TierNone:              "NONE",
	TierMonitor:           "MONITOR",
	TierCounselor:         "COUNSELOR",
	TierEmergencyContact:  "EMERGENCY_CONTACT",
	TierEmergencyServices: "EMERGENCY_SERVICES",
}

var tierKeys = map[Tier]string{
	TierMonitor:           "monitor",
	TierCounselor:         "counselor",
	TierEmergencyContact:  "emergency_contact",
	TierEmergencyServices: "emergency_services",
}

// EscalatingTiers lists the tiers that carry thresholds, in ladder order.
func EscalatingTiers() []Tier {
	return []Tier{TierMonitor, TierCounselor, TierEmergencyContact, TierEmergencyServices}
}

// String returns the canonical upper-case tier name.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ConfigKey returns the lower-case key used in configuration maps. NONE has
// no thresholds and therefore no key.
func (t Tier) ConfigKey() string {
	return tierKeys[t]
}

// ParseTier converts a string into a known Tier.
func ParseTier(value string) (Tier, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for tier, name := range tierNames {
		if name == normalized {
			return tier, true
		}
	}
	return TierNone, false
}

// Next returns the tier one step up the ladder, or the same tier when already
// at the top.
func (t Tier) Next() Tier {
	if t >= TierEmergencyServices {
		return TierEmergencyServices
	}
	return t + 1
}

// Prev returns the tier one step down the ladder, floored at MONITOR for open
// cases; falling out of MONITOR is a resolve decision, not a transition.
func (t Tier) Prev() Tier {
	if t <= TierMonitor {
		return TierMonitor
	}
	return t - 1
}

// MarshalJSON encodes the tier as its canonical name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier from its canonical name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseTier(name)
	if !ok {
		return fmt.Errorf("unknown tier %q", name)
	}
	*t = parsed
	return nil
}

// IsEmergency reports whether a tier involves emergency outreach. Emergency
// dispatch work is never displaced by backpressure.
func (t Tier) IsEmergency() bool {
	return t >= TierEmergencyContact
}
