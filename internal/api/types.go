package api

import "time"

// SignalRequest is the ingestion payload accepted by POST /internal/signals.
type SignalRequest struct {
	UserID        string             `json:"user_id"`
	Source        string             `json:"source"`
	Timestamp     time.Time          `json:"timestamp"`
	Features      map[string]float64 `json:"features,omitempty"`
	RawConfidence float64            `json:"raw_confidence"`
}

// SignalResponse acknowledges an admitted signal.
type SignalResponse struct {
	Accepted bool   `json:"accepted"`
	UserID   string `json:"user_id"`
}

// TierChange is one tier history entry.
type TierChange struct {
	Tier   string    `json:"tier"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Case is the external view of an escalation case.
type Case struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Tier          string       `json:"tier"`
	TierEnteredAt time.Time    `json:"tier_entered_at"`
	TierHistory   []TierChange `json:"tier_history"`
	Status        string       `json:"status"`
	Acknowledged  bool         `json:"acknowledged"`
	AckBy         string       `json:"ack_by,omitempty"`
	AckAt         *time.Time   `json:"ack_at,omitempty"`
	NeedsReview   bool         `json:"needs_review"`
	ReviewReason  string       `json:"review_reason,omitempty"`
	OpenedAt      time.Time    `json:"opened_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Attempt is the external view of one intervention delivery effort.
type Attempt struct {
	ID              string     `json:"id"`
	CaseID          string     `json:"case_id"`
	Tier            string     `json:"tier"`
	Channel         string     `json:"channel"`
	Target          string     `json:"target"`
	Status          string     `json:"status"`
	AttemptCount    int        `json:"attempt_count"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	ProviderRef     string     `json:"provider_ref,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RiskSnapshot is the external view of a user's fused risk state.
type RiskSnapshot struct {
	UserID      string             `json:"user_id"`
	Composite   float64            `json:"composite"`
	Trend       string             `json:"trend"`
	PerSource   map[string]float64 `json:"per_source"`
	LastUpdated time.Time          `json:"last_updated"`
}

// CaseDetail bundles a case with its attempts and the current risk snapshot.
type CaseDetail struct {
	Case     Case          `json:"case"`
	Attempts []Attempt     `json:"attempts,omitempty"`
	Risk     *RiskSnapshot `json:"risk,omitempty"`
}

// CaseListResponse wraps a case listing.
type CaseListResponse struct {
	Cases []Case `json:"cases"`
}

// AcknowledgeRequest records a human acknowledgement of a case.
type AcknowledgeRequest struct {
	Actor string `json:"actor"`
}

// AcknowledgeResponse reports the post-acknowledgement case state.
type AcknowledgeResponse struct {
	Case     Case `json:"case"`
	Resolved bool `json:"resolved"`
}

// Contact is one trusted person on a safety plan.
type Contact struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Address string `json:"address"`
}

// SafetyPlan is the external view of a clinician-authored plan.
type SafetyPlan struct {
	UserID             string    `json:"user_id"`
	CopingSteps        []string  `json:"coping_steps,omitempty"`
	TrustedContacts    []Contact `json:"trusted_contacts,omitempty"`
	PreferredResources []string  `json:"preferred_resources,omitempty"`
	Version            int       `json:"version"`
	UpdatedBy          string    `json:"updated_by,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SafetyPlanRequest upserts a plan. Version and timestamps are server-owned.
type SafetyPlanRequest struct {
	CopingSteps        []string  `json:"coping_steps,omitempty"`
	TrustedContacts    []Contact `json:"trusted_contacts,omitempty"`
	PreferredResources []string  `json:"preferred_resources,omitempty"`
	UpdatedBy          string    `json:"updated_by,omitempty"`
}

// AuditRecord is one append-only audit trail entry.
type AuditRecord struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	CaseID    string         `json:"case_id,omitempty"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditResponse wraps an audit export.
type AuditResponse struct {
	Records []AuditRecord `json:"records"`
}

// EngineStatus summarizes the running engine.
type EngineStatus struct {
	Running            bool           `json:"running"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	Workers            int            `json:"workers"`
	DispatchQueueDepth int            `json:"dispatch_queue_depth"`
	CasesByStatus      map[string]int `json:"cases_by_status,omitempty"`
	OpenCases          int            `json:"open_cases"`
	NeedsReview        int            `json:"needs_review"`
	StaleRiskStates    int            `json:"stale_risk_states"`
	ConfiguredChannels []string       `json:"configured_channels,omitempty"`
}

// DaemonStatus is the full status payload for the CLI and HTTP API.
type DaemonStatus struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	DatabasePath string       `json:"database_path"`
	LockFilePath string       `json:"lock_file_path"`
	Engine       EngineStatus `json:"engine"`
}

// DatabaseHealth reports store diagnostics.
type DatabaseHealth struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    string   `json:"schema_version"`
	TablesPresent    []string `json:"tables_present,omitempty"`
	MissingTables    []string `json:"missing_tables,omitempty"`
	IntegrityCheck   bool     `json:"integrity_check"`
	OpenCases        int      `json:"open_cases"`
	AuditRecords     int      `json:"audit_records"`
	Error            string   `json:"error,omitempty"`
}

// DetailField is a label/value pair attached to a log event.
type DetailField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LogEvent mirrors the structured log stream for API consumers.
type LogEvent struct {
	Sequence  uint64            `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Component string            `json:"component"`
	UserID    string            `json:"user_id,omitempty"`
	CaseID    string            `json:"case_id,omitempty"`
	Tier      string            `json:"tier,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Details   []DetailField     `json:"details,omitempty"`
}

// LogStreamResponse returns log events and the cursor for the next fetch.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}
