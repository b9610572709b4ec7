package crisis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const auditColumns = "id, user_id, case_id, kind, payload_json, created_at"

// AppendAudit writes one immutable audit trail entry. There is no update or
// delete path; the trail only grows.
func (s *Store) AppendAudit(ctx context.Context, userID, caseID string, kind AuditKind, payload map[string]any, now time.Time) (*AuditRecord, error) {
	if userID == "" {
		return nil, errors.New("audit record requires a user id")
	}
	record := &AuditRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		CaseID:    caseID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
	}

	payloadJSON := "{}"
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal audit payload: %w", err)
		}
		payloadJSON = string(data)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO audit_records (id, user_id, case_id, kind, payload_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		nullableString(record.CaseID),
		string(record.Kind),
		payloadJSON,
		formatTime(record.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	return record, nil
}

// AuditForUser returns a user's audit trail in chronological order.
func (s *Store) AuditForUser(ctx context.Context, userID string, limit int) ([]*AuditRecord, error) {
	return s.queryAudit(ctx, `user_id = ?`, userID, limit)
}

// AuditForCase returns a case's audit trail in chronological order.
func (s *Store) AuditForCase(ctx context.Context, caseID string, limit int) ([]*AuditRecord, error) {
	return s.queryAudit(ctx, `case_id = ?`, caseID, limit)
}

func (s *Store) queryAudit(ctx context.Context, where string, arg any, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE `+where+` ORDER BY created_at LIMIT ?`,
		arg,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var (
			id         string
			userID     string
			caseID     sql.NullString
			kind       string
			payloadRaw string
			createdRaw string
		)
		if err := rows.Scan(&id, &userID, &caseID, &kind, &payloadRaw, &createdRaw); err != nil {
			return nil, err
		}
		record := &AuditRecord{
			ID:     id,
			UserID: userID,
			CaseID: caseID.String,
			Kind:   AuditKind(kind),
		}
		if payloadRaw != "" {
			if err := json.Unmarshal([]byte(payloadRaw), &record.Payload); err != nil {
				return nil, fmt.Errorf("audit record %s payload: %w", id, err)
			}
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			record.CreatedAt = created
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
