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

const caseColumns = "id, user_id, tier, tier_entered_at, tier_history_json, below_exit_since, acknowledged, ack_by, ack_at, status, needs_review, review_reason, plan_snapshot_json, opened_at, updated_at"

// CreateCase inserts a new open case for a user at the given tier.
func (s *Store) CreateCase(ctx context.Context, userID string, tier Tier, plan *SafetyPlan, now time.Time) (*Case, error) {
	c := &Case{
		ID:            uuid.NewString(),
		UserID:        userID,
		Tier:          tier,
		TierEnteredAt: now,
		TierHistory:   []TierChange{{Tier: tier, At: now, Reason: "opened"}},
		Status:        CaseOpen,
		PlanSnapshot:  plan,
		OpenedAt:      now,
		UpdatedAt:     now,
	}

	historyJSON, err := marshalJSONColumn(c.TierHistory)
	if err != nil {
		return nil, err
	}
	planJSON := ""
	if plan != nil {
		planJSON, err = marshalJSONColumn(plan)
		if err != nil {
			return nil, err
		}
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO cases (
            id, user_id, tier, tier_entered_at, tier_history_json, below_exit_since,
            acknowledged, ack_by, ack_at, status, needs_review, review_reason,
            plan_snapshot_json, opened_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.UserID,
		c.Tier.String(),
		formatTime(c.TierEnteredAt),
		historyJSON,
		nil,
		0,
		nil,
		nil,
		string(c.Status),
		0,
		nil,
		nullableString(planJSON),
		formatTime(c.OpenedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert case: %w", err)
	}
	return c, nil
}

// UpdateCase persists changes to an existing case.
func (s *Store) UpdateCase(ctx context.Context, c *Case) error {
	if c == nil {
		return errors.New("case is nil")
	}
	c.UpdatedAt = time.Now().UTC()

	historyJSON, err := marshalJSONColumn(c.TierHistory)
	if err != nil {
		return err
	}
	planJSON := ""
	if c.PlanSnapshot != nil {
		planJSON, err = marshalJSONColumn(c.PlanSnapshot)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE cases
         SET tier = ?, tier_entered_at = ?, tier_history_json = ?, below_exit_since = ?,
             acknowledged = ?, ack_by = ?, ack_at = ?, status = ?, needs_review = ?,
             review_reason = ?, plan_snapshot_json = ?, updated_at = ?
         WHERE id = ?`,
		c.Tier.String(),
		formatTime(c.TierEnteredAt),
		historyJSON,
		nullableTime(c.BelowExitSince),
		boolToInt(c.Acknowledged),
		nullableString(c.AckBy),
		nullableTime(c.AckAt),
		string(c.Status),
		boolToInt(c.NeedsReview),
		nullableString(c.ReviewReason),
		nullableString(planJSON),
		formatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return nil
}

// CaseByID fetches a case by identifier.
func (s *Store) CaseByID(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

// OpenCaseForUser returns the user's open case, if any. Frozen cases count as
// occupied: a second case must not open under a frozen one.
func (s *Store) OpenCaseForUser(ctx context.Context, userID string) (*Case, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+caseColumns+` FROM cases WHERE user_id = ? AND status IN (?, ?) ORDER BY opened_at LIMIT 1`,
		userID,
		CaseOpen,
		CaseFrozen,
	)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open case for user: %w", err)
	}
	return c, nil
}

// OpenCaseCountForUser counts non-terminal cases for a user. More than one is
// an invariant violation.
func (s *Store) OpenCaseCountForUser(ctx context.Context, userID string) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM cases WHERE user_id = ? AND status IN (?, ?)`,
		userID,
		CaseOpen,
		CaseFrozen,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count open cases: %w", err)
	}
	return count, nil
}

// ListCases returns cases filtered by status set (or all cases when no status
// is provided), ordered by open time.
func (s *Store) ListCases(ctx context.Context, statuses ...CaseStatus) ([]*Case, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + caseColumns + ` FROM cases`
	orderClause := ` ORDER BY opened_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = string(status)
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// OpenCases returns every case still taking automatic transitions.
func (s *Store) OpenCases(ctx context.Context) ([]*Case, error) {
	return s.ListCases(ctx, CaseOpen)
}

// CaseStats returns a count of cases grouped by status.
func (s *Store) CaseStats(ctx context.Context) (map[CaseStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM cases GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("case stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[CaseStatus]int)
	for rows.Next() {
		var status CaseStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanCase(scanner interface{ Scan(dest ...any) error }) (*Case, error) {
	var (
		id             string
		userID         string
		tierStr        string
		tierEnteredRaw string
		historyRaw     string
		belowExitRaw   sql.NullString
		acknowledged   sql.NullInt64
		ackBy          sql.NullString
		ackAtRaw       sql.NullString
		statusStr      string
		needsReview    sql.NullInt64
		reviewReason   sql.NullString
		planRaw        sql.NullString
		openedRaw      string
		updatedRaw     string
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&tierStr,
		&tierEnteredRaw,
		&historyRaw,
		&belowExitRaw,
		&acknowledged,
		&ackBy,
		&ackAtRaw,
		&statusStr,
		&needsReview,
		&reviewReason,
		&planRaw,
		&openedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	tier, ok := ParseTier(tierStr)
	if !ok {
		return nil, fmt.Errorf("case %s has unknown tier %q", id, tierStr)
	}
	status, ok := ParseCaseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("case %s has unknown status %q", id, statusStr)
	}

	c := &Case{
		ID:           id,
		UserID:       userID,
		Tier:         tier,
		Status:       status,
		AckBy:        ackBy.String,
		ReviewReason: reviewReason.String,
	}
	if acknowledged.Valid {
		c.Acknowledged = acknowledged.Int64 != 0
	}
	if needsReview.Valid {
		c.NeedsReview = needsReview.Int64 != 0
	}

	if historyRaw != "" {
		if err := json.Unmarshal([]byte(historyRaw), &c.TierHistory); err != nil {
			return nil, fmt.Errorf("case %s tier history: %w", id, err)
		}
	}
	if planRaw.Valid && planRaw.String != "" {
		var plan SafetyPlan
		if err := json.Unmarshal([]byte(planRaw.String), &plan); err != nil {
			return nil, fmt.Errorf("case %s plan snapshot: %w", id, err)
		}
		c.PlanSnapshot = &plan
	}

	if entered, err := parseTimeString(tierEnteredRaw); err == nil {
		c.TierEnteredAt = entered
	}
	if opened, err := parseTimeString(openedRaw); err == nil {
		c.OpenedAt = opened
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		c.UpdatedAt = updated
	}
	if belowExitRaw.Valid {
		c.BelowExitSince = parseTimePtr(belowExitRaw.String)
	}
	if ackAtRaw.Valid {
		c.AckAt = parseTimePtr(ackAtRaw.String)
	}
	return c, nil
}
