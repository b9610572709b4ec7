package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vigil/internal/crisis"
)

// Message is one rendered outreach notification.
type Message struct {
	Title    string
	Body     string
	Priority string
}

// SendResult reports the provider outcome of a delivery call.
type SendResult struct {
	Status      string
	ProviderRef string
}

var titleCaser = cases.Title(language.English)

// TierLabel renders a tier name for human-facing messages:
// EMERGENCY_CONTACT becomes "Emergency Contact".
func TierLabel(tier crisis.Tier) string {
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(tier.String()), "_", " "))
}

// ChannelLabel renders a channel name for human-facing messages.
func ChannelLabel(channel string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(channel)))
}

// ComposeIntervention renders the outreach message for one tier.
func ComposeIntervention(c *crisis.Case, tier crisis.Tier, reason string) Message {
	label := TierLabel(tier)
	msg := Message{
		Title:    fmt.Sprintf("Vigil - %s Outreach", label),
		Priority: "default",
	}

	var body strings.Builder
	switch tier {
	case crisis.TierMonitor:
		body.WriteString("A check-in with self-help resources has been prepared.")
		if c != nil && c.PlanSnapshot != nil && len(c.PlanSnapshot.CopingSteps) > 0 {
			body.WriteString("\nFirst coping step: ")
			body.WriteString(c.PlanSnapshot.CopingSteps[0])
		}
	case crisis.TierCounselor:
		body.WriteString("A crisis counselor has been asked to reach out.")
		msg.Priority = "high"
	case crisis.TierEmergencyContact:
		body.WriteString("You are listed as a trusted contact. Please reach out now.")
		msg.Priority = "urgent"
	case crisis.TierEmergencyServices:
		body.WriteString("Emergency services escalation requested.")
		msg.Priority = "urgent"
	default:
		body.WriteString(label + " notification.")
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		body.WriteString("\nReason: ")
		body.WriteString(reason)
	}
	if c != nil {
		body.WriteString("\nCase: ")
		body.WriteString(c.ID)
	}
	msg.Body = body.String()
	return msg
}
