package api

import (
	"vigil/internal/crisis"
	"vigil/internal/engine"
	"vigil/internal/logging"
)

// FromCase converts a domain case into its external view.
func FromCase(c *crisis.Case) Case {
	if c == nil {
		return Case{}
	}
	history := make([]TierChange, 0, len(c.TierHistory))
	for _, change := range c.TierHistory {
		history = append(history, TierChange{
			Tier:   change.Tier.String(),
			At:     change.At,
			Reason: change.Reason,
		})
	}
	return Case{
		ID:            c.ID,
		UserID:        c.UserID,
		Tier:          c.Tier.String(),
		TierEnteredAt: c.TierEnteredAt,
		TierHistory:   history,
		Status:        string(c.Status),
		Acknowledged:  c.Acknowledged,
		AckBy:         c.AckBy,
		AckAt:         c.AckAt,
		NeedsReview:   c.NeedsReview,
		ReviewReason:  c.ReviewReason,
		OpenedAt:      c.OpenedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// FromCases converts a case slice, skipping nils.
func FromCases(cases []*crisis.Case) []Case {
	out := make([]Case, 0, len(cases))
	for _, c := range cases {
		if c == nil {
			continue
		}
		out = append(out, FromCase(c))
	}
	return out
}

// FromAttempt converts a domain attempt into its external view.
func FromAttempt(a *crisis.InterventionAttempt) Attempt {
	if a == nil {
		return Attempt{}
	}
	return Attempt{
		ID:              a.ID,
		CaseID:          a.CaseID,
		Tier:            a.Tier.String(),
		Channel:         a.Channel,
		Target:          a.Target,
		Status:          string(a.Status),
		AttemptCount:    a.AttemptCount,
		LastAttemptedAt: a.LastAttemptedAt,
		NextAttemptAt:   a.NextAttemptAt,
		ProviderRef:     a.ProviderRef,
		LastError:       a.LastError,
		CreatedAt:       a.CreatedAt,
	}
}

// FromAttempts converts an attempt slice, skipping nils.
func FromAttempts(attempts []*crisis.InterventionAttempt) []Attempt {
	out := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a == nil {
			continue
		}
		out = append(out, FromAttempt(a))
	}
	return out
}

// FromRiskSnapshot converts a persisted risk snapshot.
func FromRiskSnapshot(snapshot *crisis.RiskSnapshot) *RiskSnapshot {
	if snapshot == nil {
		return nil
	}
	return &RiskSnapshot{
		UserID:      snapshot.UserID,
		Composite:   snapshot.Composite,
		Trend:       snapshot.Trend,
		PerSource:   snapshot.PerSource,
		LastUpdated: snapshot.LastUpdated,
	}
}

// FromSafetyPlan converts a domain safety plan.
func FromSafetyPlan(plan *crisis.SafetyPlan) SafetyPlan {
	if plan == nil {
		return SafetyPlan{}
	}
	contacts := make([]Contact, 0, len(plan.TrustedContacts))
	for _, contact := range plan.TrustedContacts {
		contacts = append(contacts, Contact{
			Name:    contact.Name,
			Channel: contact.Channel,
			Address: contact.Address,
		})
	}
	return SafetyPlan{
		UserID:             plan.UserID,
		CopingSteps:        plan.CopingSteps,
		TrustedContacts:    contacts,
		PreferredResources: plan.PreferredResources,
		Version:            plan.Version,
		UpdatedBy:          plan.UpdatedBy,
		UpdatedAt:          plan.UpdatedAt,
	}
}

// ToSafetyPlan converts an upsert request into the domain model.
func ToSafetyPlan(userID string, req SafetyPlanRequest) *crisis.SafetyPlan {
	contacts := make([]crisis.Contact, 0, len(req.TrustedContacts))
	for _, contact := range req.TrustedContacts {
		contacts = append(contacts, crisis.Contact{
			Name:    contact.Name,
			Channel: contact.Channel,
			Address: contact.Address,
		})
	}
	return &crisis.SafetyPlan{
		UserID:             userID,
		CopingSteps:        req.CopingSteps,
		TrustedContacts:    contacts,
		PreferredResources: req.PreferredResources,
		UpdatedBy:          req.UpdatedBy,
	}
}

// FromAuditRecord converts one audit trail entry.
func FromAuditRecord(record *crisis.AuditRecord) AuditRecord {
	if record == nil {
		return AuditRecord{}
	}
	return AuditRecord{
		ID:        record.ID,
		UserID:    record.UserID,
		CaseID:    record.CaseID,
		Kind:      string(record.Kind),
		Payload:   record.Payload,
		CreatedAt: record.CreatedAt,
	}
}

// FromAuditRecords converts an audit slice, skipping nils.
func FromAuditRecords(records []*crisis.AuditRecord) []AuditRecord {
	out := make([]AuditRecord, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		out = append(out, FromAuditRecord(record))
	}
	return out
}

// FromEngineStatus converts an engine status snapshot.
func FromEngineStatus(status engine.Status) EngineStatus {
	byStatus := make(map[string]int, len(status.CasesByStatus))
	for caseStatus, count := range status.CasesByStatus {
		byStatus[string(caseStatus)] = count
	}
	out := EngineStatus{
		Running:            status.Running,
		Workers:            status.Workers,
		DispatchQueueDepth: status.DispatchQueueDepth,
		CasesByStatus:      byStatus,
		OpenCases:          status.OpenCases,
		NeedsReview:        status.NeedsReview,
		StaleRiskStates:    status.StaleRiskStates,
		ConfiguredChannels: status.ConfiguredChannels,
	}
	if !status.StartedAt.IsZero() {
		started := status.StartedAt
		out.StartedAt = &started
	}
	return out
}

// FromDatabaseHealth converts store diagnostics.
func FromDatabaseHealth(health crisis.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		DBPath:           health.DBPath,
		DatabaseExists:   health.DatabaseExists,
		DatabaseReadable: health.DatabaseReadable,
		SchemaVersion:    health.SchemaVersion,
		TablesPresent:    health.TablesPresent,
		MissingTables:    health.MissingTables,
		IntegrityCheck:   health.IntegrityCheck,
		OpenCases:        health.OpenCases,
		AuditRecords:     health.AuditRecords,
		Error:            health.Error,
	}
}

// FromLogEvents converts stream hub events for API consumers.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		details := make([]DetailField, 0, len(evt.Details))
		for _, detail := range evt.Details {
			details = append(details, DetailField{Label: detail.Label, Value: detail.Value})
		}
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: evt.Timestamp,
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			UserID:    evt.UserID,
			CaseID:    evt.CaseID,
			Tier:      evt.Tier,
			Fields:    evt.Fields,
			Details:   details,
		})
	}
	return out
}
