package ipc

import "vigil/internal/api"

// StartRequest triggers engine startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the engine.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/engine status information.
type StatusResponse struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DatabasePath string           `json:"database_path"`
	LockPath     string           `json:"lock_path"`
	Engine       api.EngineStatus `json:"engine"`
}

// SignalSendRequest injects a signal into the engine.
type SignalSendRequest struct {
	Signal api.SignalRequest `json:"signal"`
}

// SignalSendResponse acknowledges an admitted signal.
type SignalSendResponse struct {
	Accepted bool `json:"accepted"`
}

// CaseListRequest filters case listing by status.
type CaseListRequest struct {
	Status string `json:"status"`
}

// CaseListResponse contains case summaries.
type CaseListResponse struct {
	Cases []api.Case `json:"cases"`
}

// CaseDescribeRequest fetches one case, by case id or by the user's open case.
type CaseDescribeRequest struct {
	CaseID string `json:"case_id"`
	UserID string `json:"user_id"`
}

// CaseDescribeResponse contains a single case with attempts and risk state.
type CaseDescribeResponse struct {
	Detail api.CaseDetail `json:"detail"`
}

// AcknowledgeRequest records a human acknowledgement of a case.
type AcknowledgeRequest struct {
	CaseID string `json:"case_id"`
	Actor  string `json:"actor"`
}

// AcknowledgeResponse reports the post-acknowledgement case state.
type AcknowledgeResponse struct {
	Case     api.Case `json:"case"`
	Resolved bool     `json:"resolved"`
}

// PlanGetRequest fetches a user's safety plan.
type PlanGetRequest struct {
	UserID string `json:"user_id"`
}

// PlanGetResponse contains the plan, when one exists.
type PlanGetResponse struct {
	Found bool           `json:"found"`
	Plan  api.SafetyPlan `json:"plan"`
}

// PlanSetRequest upserts a user's safety plan.
type PlanSetRequest struct {
	UserID string                `json:"user_id"`
	Plan   api.SafetyPlanRequest `json:"plan"`
}

// PlanSetResponse contains the stored plan with its new version.
type PlanSetResponse struct {
	Plan api.SafetyPlan `json:"plan"`
}

// AuditExportRequest fetches audit records for a user or case.
type AuditExportRequest struct {
	UserID string `json:"user_id"`
	CaseID string `json:"case_id"`
	Limit  int    `json:"limit"`
}

// AuditExportResponse contains the exported records in chronological order.
type AuditExportResponse struct {
	Records []api.AuditRecord `json:"records"`
}

// LogTailRequest fetches structured log events from the stream hub.
type LogTailRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// LogTailResponse returns log events and the next cursor.
type LogTailResponse struct {
	Events []api.LogEvent `json:"events"`
	Next   uint64         `json:"next"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	Health api.DatabaseHealth `json:"health"`
}

// TestNotificationRequest triggers an operator alert test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ReloadRequest re-reads the config file and applies the new parameters.
type ReloadRequest struct{}

// ReloadResponse reports reload outcome.
type ReloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Message  string `json:"message"`
}
