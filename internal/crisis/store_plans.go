package crisis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertSafetyPlan stores a clinician-authored plan, bumping the version on
// every write. Open cases keep their snapshot; plan edits only affect cases
// opened afterward.
func (s *Store) UpsertSafetyPlan(ctx context.Context, plan *SafetyPlan, now time.Time) (*SafetyPlan, error) {
	if plan == nil {
		return nil, errors.New("plan is nil")
	}
	if plan.UserID == "" {
		return nil, errors.New("plan requires a user id")
	}

	existing, err := s.SafetyPlanForUser(ctx, plan.UserID)
	if err != nil {
		return nil, err
	}
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}

	stored := *plan
	stored.Version = version
	stored.UpdatedAt = now

	copingJSON, err := marshalJSONColumn(stored.CopingSteps)
	if err != nil {
		return nil, err
	}
	contactsJSON, err := marshalJSONColumn(stored.TrustedContacts)
	if err != nil {
		return nil, err
	}
	resourcesJSON, err := marshalJSONColumn(stored.PreferredResources)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO safety_plans (user_id, coping_steps_json, trusted_contacts_json, preferred_resources_json, version, updated_by, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET
            coping_steps_json = excluded.coping_steps_json,
            trusted_contacts_json = excluded.trusted_contacts_json,
            preferred_resources_json = excluded.preferred_resources_json,
            version = excluded.version,
            updated_by = excluded.updated_by,
            updated_at = excluded.updated_at`,
		stored.UserID,
		copingJSON,
		contactsJSON,
		resourcesJSON,
		stored.Version,
		nullableString(stored.UpdatedBy),
		formatTime(stored.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert safety plan: %w", err)
	}
	return &stored, nil
}

// SafetyPlanForUser returns the latest plan version for a user.
func (s *Store) SafetyPlanForUser(ctx context.Context, userID string) (*SafetyPlan, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, coping_steps_json, trusted_contacts_json, preferred_resources_json, version, updated_by, updated_at
         FROM safety_plans WHERE user_id = ?`,
		userID,
	)

	var (
		id           string
		copingRaw    string
		contactsRaw  string
		resourcesRaw string
		version      int
		updatedBy    sql.NullString
		updatedRaw   string
	)
	err := row.Scan(&id, &copingRaw, &contactsRaw, &resourcesRaw, &version, &updatedBy, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get safety plan: %w", err)
	}

	plan := &SafetyPlan{
		UserID:    id,
		Version:   version,
		UpdatedBy: updatedBy.String,
	}
	if copingRaw != "" {
		if err := json.Unmarshal([]byte(copingRaw), &plan.CopingSteps); err != nil {
			return nil, fmt.Errorf("plan %s coping steps: %w", id, err)
		}
	}
	if contactsRaw != "" {
		if err := json.Unmarshal([]byte(contactsRaw), &plan.TrustedContacts); err != nil {
			return nil, fmt.Errorf("plan %s trusted contacts: %w", id, err)
		}
	}
	if resourcesRaw != "" {
		if err := json.Unmarshal([]byte(resourcesRaw), &plan.PreferredResources); err != nil {
			return nil, fmt.Errorf("plan %s preferred resources: %w", id, err)
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		plan.UpdatedAt = updated
	}
	return plan, nil
}
