package crisis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const attemptColumns = "id, case_id, tier, channel, target, status, attempt_count, last_attempted_at, next_attempt_at, leased_at, provider_ref, last_error, created_at, updated_at"

// CreateAttempt inserts a new pending intervention attempt.
func (s *Store) CreateAttempt(ctx context.Context, caseID string, tier Tier, channel, target string, now time.Time) (*InterventionAttempt, error) {
	attempt := &InterventionAttempt{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		Tier:      tier,
		Channel:   channel,
		Target:    target,
		Status:    AttemptPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	nextAt := now
	attempt.NextAttemptAt = &nextAt

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO intervention_attempts (
            id, case_id, tier, channel, target, status, attempt_count,
            last_attempted_at, next_attempt_at, leased_at, provider_ref, last_error,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.CaseID,
		attempt.Tier.String(),
		attempt.Channel,
		attempt.Target,
		string(attempt.Status),
		0,
		nil,
		nullableTime(attempt.NextAttemptAt),
		nil,
		nil,
		nil,
		formatTime(attempt.CreatedAt),
		formatTime(attempt.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return attempt, nil
}

// UpdateAttempt persists status, scheduling, and outcome changes.
func (s *Store) UpdateAttempt(ctx context.Context, attempt *InterventionAttempt) error {
	if attempt == nil {
		return errors.New("attempt is nil")
	}
	attempt.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE intervention_attempts
         SET status = ?, attempt_count = ?, last_attempted_at = ?, next_attempt_at = ?,
             leased_at = ?, provider_ref = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		string(attempt.Status),
		attempt.AttemptCount,
		nullableTime(attempt.LastAttemptedAt),
		nullableTime(attempt.NextAttemptAt),
		nullableTime(attempt.LeasedAt),
		nullableString(attempt.ProviderRef),
		nullableString(attempt.LastError),
		formatTime(attempt.UpdatedAt),
		attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

// AttemptByID fetches an attempt by identifier.
func (s *Store) AttemptByID(ctx context.Context, id string) (*InterventionAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM intervention_attempts WHERE id = ?`, id)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return attempt, nil
}

// ActiveAttempt returns the PENDING or SENT attempt occupying the
// (case, tier, target) idempotency slot, if any.
func (s *Store) ActiveAttempt(ctx context.Context, caseID string, tier Tier, target string) (*InterventionAttempt, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+attemptColumns+` FROM intervention_attempts
         WHERE case_id = ? AND tier = ? AND target = ? AND status IN (?, ?)
         ORDER BY created_at LIMIT 1`,
		caseID,
		tier.String(),
		target,
		AttemptPending,
		AttemptSent,
	)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active attempt: %w", err)
	}
	return attempt, nil
}

// AttemptsForCase returns every attempt recorded for a case in creation order.
func (s *Store) AttemptsForCase(ctx context.Context, caseID string) ([]*InterventionAttempt, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+attemptColumns+` FROM intervention_attempts WHERE case_id = ? ORDER BY created_at`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("attempts for case: %w", err)
	}
	defer rows.Close()

	var attempts []*InterventionAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// DueAttempts returns unleased pending attempts whose next scheduled delivery
// time has passed, oldest first.
func (s *Store) DueAttempts(ctx context.Context, now time.Time, limit int) ([]*InterventionAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+attemptColumns+` FROM intervention_attempts
         WHERE status = ? AND leased_at IS NULL AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
         ORDER BY next_attempt_at LIMIT ?`,
		AttemptPending,
		formatTime(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*InterventionAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// LeaseAttempt claims a pending attempt for a dispatch worker. Returns false
// when another worker already holds it.
func (s *Store) LeaseAttempt(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE intervention_attempts SET leased_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND leased_at IS NULL`,
		formatTime(now),
		formatTime(now),
		id,
		AttemptPending,
	)
	if err != nil {
		return false, fmt.Errorf("lease attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkAttemptsAcked records human confirmation of delivered notifications.
func (s *Store) MarkAttemptsAcked(ctx context.Context, caseID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE intervention_attempts SET status = ?, updated_at = ?
         WHERE case_id = ? AND status = ?`,
		AttemptAcked,
		formatTime(now),
		caseID,
		AttemptSent,
	)
	if err != nil {
		return 0, fmt.Errorf("mark attempts acked: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleLeases clears dispatch leases left behind by a crashed process
// so pending attempts become schedulable again.
func (s *Store) ReclaimStaleLeases(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE intervention_attempts SET leased_at = NULL, updated_at = ?
         WHERE status = ? AND leased_at IS NOT NULL AND leased_at < ?`,
		formatTime(time.Now().UTC()),
		AttemptPending,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale leases: %w", err)
	}
	return res.RowsAffected()
}

func scanAttempt(scanner interface{ Scan(dest ...any) error }) (*InterventionAttempt, error) {
	var (
		id            string
		caseID        string
		tierStr       string
		channel       string
		target        string
		statusStr     string
		attemptCount  int
		lastAttempted sql.NullString
		nextAttempt   sql.NullString
		leasedAt      sql.NullString
		providerRef   sql.NullString
		lastError     sql.NullString
		createdRaw    string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&id,
		&caseID,
		&tierStr,
		&channel,
		&target,
		&statusStr,
		&attemptCount,
		&lastAttempted,
		&nextAttempt,
		&leasedAt,
		&providerRef,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	tier, ok := ParseTier(tierStr)
	if !ok {
		return nil, fmt.Errorf("attempt %s has unknown tier %q", id, tierStr)
	}

	attempt := &InterventionAttempt{
		ID:           id,
		CaseID:       caseID,
		Tier:         tier,
		Channel:      channel,
		Target:       target,
		Status:       AttemptStatus(statusStr),
		AttemptCount: attemptCount,
		ProviderRef:  providerRef.String,
		LastError:    lastError.String,
	}
	if lastAttempted.Valid {
		attempt.LastAttemptedAt = parseTimePtr(lastAttempted.String)
	}
	if nextAttempt.Valid {
		attempt.NextAttemptAt = parseTimePtr(nextAttempt.String)
	}
	if leasedAt.Valid {
		attempt.LeasedAt = parseTimePtr(leasedAt.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		attempt.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		attempt.UpdatedAt = updated
	}
	return attempt, nil
}
