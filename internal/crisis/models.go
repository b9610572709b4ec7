package crisis

import (
	"strings"
	"time"
)

// CaseStatus represents the lifecycle of an escalation case.
type CaseStatus string

const (
	CaseOpen CaseStatus = "open"
	// CaseFrozen marks a case whose persisted state violated an invariant.
	// Frozen cases take no automatic transitions until a human reviews them.
	CaseFrozen   CaseStatus = "frozen"
	CaseResolved CaseStatus = "resolved"
)

// ParseCaseStatus converts a string into a known CaseStatus.
func ParseCaseStatus(value string) (CaseStatus, bool) {
	normalized := CaseStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case CaseOpen, CaseFrozen, CaseResolved:
		return normalized, true
	}
	return "", false
}

// TierChange is one entry in a case's tier history.
type TierChange struct {
	Tier   Tier      `json:"tier"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Case is one crisis episode for one user. At most one case per user is open
// at a time; the escalation machine is its only writer.
type Case struct {
	ID            string
	UserID        string
	Tier          Tier
	TierEnteredAt time.Time
	TierHistory   []TierChange
	// BelowExitSince records when the composite score last fell below the
	// current tier's exit threshold and stayed there. Cleared whenever the
	// score climbs back above it.
	BelowExitSince *time.Time
	Acknowledged   bool
	AckBy          string
	AckAt          *time.Time
	Status         CaseStatus
	NeedsReview    bool
	ReviewReason   string
	// PlanSnapshot is the safety plan captured when the case opened. Later
	// plan edits never rewrite an open episode.
	PlanSnapshot *SafetyPlan
	OpenedAt     time.Time
	UpdatedAt    time.Time
}

// IsOpen reports whether the case still takes automatic transitions.
func (c *Case) IsOpen() bool {
	return c != nil && c.Status == CaseOpen
}

// Contact is one trusted person reachable during a crisis episode.
type Contact struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Address string `json:"address"`
}

// SafetyPlan is a clinician-authored crisis plan. The engine only reads it;
// clinicians own every field.
type SafetyPlan struct {
	UserID             string    `json:"user_id"`
	CopingSteps        []string  `json:"coping_steps"`
	TrustedContacts    []Contact `json:"trusted_contacts"`
	PreferredResources []string  `json:"preferred_resources"`
	Version            int       `json:"version"`
	UpdatedBy          string    `json:"updated_by"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AttemptStatus represents the delivery state of an intervention attempt.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptAcked   AttemptStatus = "acked"
	AttemptFailed  AttemptStatus = "failed"
)

// InterventionAttempt is one delivery effort toward one target. Rows are
// append-only apart from status, counter, and scheduling updates.
type InterventionAttempt struct {
	ID              string
	CaseID          string
	Tier            Tier
	Channel         string
	Target          string
	Status          AttemptStatus
	AttemptCount    int
	LastAttemptedAt *time.Time
	// NextAttemptAt schedules the next retry; nil means not scheduled.
	NextAttemptAt *time.Time
	// LeasedAt marks the attempt as claimed by a dispatch worker. Leases left
	// behind by a crash are reclaimed at startup.
	LeasedAt    *time.Time
	ProviderRef string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the attempt still occupies its (case, tier, target)
// idempotency slot.
func (a *InterventionAttempt) Active() bool {
	if a == nil {
		return false
	}
	return a.Status == AttemptPending || a.Status == AttemptSent
}

// AuditKind classifies audit trail entries.
type AuditKind string

const (
	AuditSignalIngested        AuditKind = "SIGNAL_INGESTED"
	AuditScoreComputed         AuditKind = "SCORE_COMPUTED"
	AuditTierTransition        AuditKind = "TIER_TRANSITION"
	AuditInterventionAttempted AuditKind = "INTERVENTION_ATTEMPTED"
	AuditInterventionResult    AuditKind = "INTERVENTION_RESULT"
)

// AuditRecord is one append-only audit trail entry. Records are immutable
// once written.
type AuditRecord struct {
	ID        string
	UserID    string
	CaseID    string
	Kind      AuditKind
	Payload   map[string]any
	CreatedAt time.Time
}

// RiskSnapshot persists a user's aggregated risk state so hot memory can be
// evicted and rebuilt without losing history.
type RiskSnapshot struct {
	UserID       string
	Composite    float64
	Trend        string
	PerSource    map[string]float64
	Contributing []string
	LastUpdated  time.Time
}

// DatabaseHealth captures diagnostic information about the case database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	OpenCases        int
	AuditRecords     int
	Error            string
}
