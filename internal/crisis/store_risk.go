package crisis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveRiskSnapshot upserts the persisted aggregation state for a user.
func (s *Store) SaveRiskSnapshot(ctx context.Context, snapshot *RiskSnapshot) error {
	if snapshot == nil {
		return errors.New("snapshot is nil")
	}
	perSourceJSON, err := marshalJSONColumn(snapshot.PerSource)
	if err != nil {
		return err
	}
	contributingJSON, err := marshalJSONColumn(snapshot.Contributing)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO risk_states (user_id, composite, trend, per_source_json, contributing_json, last_updated)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET
            composite = excluded.composite,
            trend = excluded.trend,
            per_source_json = excluded.per_source_json,
            contributing_json = excluded.contributing_json,
            last_updated = excluded.last_updated`,
		snapshot.UserID,
		snapshot.Composite,
		snapshot.Trend,
		perSourceJSON,
		contributingJSON,
		formatTime(snapshot.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("save risk snapshot: %w", err)
	}
	return nil
}

// RiskSnapshotForUser returns the persisted aggregation state for a user.
func (s *Store) RiskSnapshotForUser(ctx context.Context, userID string) (*RiskSnapshot, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, composite, trend, per_source_json, contributing_json, last_updated
         FROM risk_states WHERE user_id = ?`,
		userID,
	)

	var (
		id              string
		composite       float64
		trend           string
		perSourceRaw    string
		contributingRaw sql.NullString
		updatedRaw      string
	)
	err := row.Scan(&id, &composite, &trend, &perSourceRaw, &contributingRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get risk snapshot: %w", err)
	}

	snapshot := &RiskSnapshot{
		UserID:    id,
		Composite: composite,
		Trend:     trend,
	}
	if perSourceRaw != "" {
		if err := json.Unmarshal([]byte(perSourceRaw), &snapshot.PerSource); err != nil {
			return nil, fmt.Errorf("risk snapshot %s per-source: %w", id, err)
		}
	}
	if contributingRaw.Valid && contributingRaw.String != "" {
		if err := json.Unmarshal([]byte(contributingRaw.String), &snapshot.Contributing); err != nil {
			return nil, fmt.Errorf("risk snapshot %s contributing: %w", id, err)
		}
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		snapshot.LastUpdated = updated
	}
	return snapshot, nil
}

// StaleRiskSnapshotCount reports how many persisted states have gone idle.
// Snapshots are never deleted; hot-memory eviction happens in the aggregator
// and the persisted row is what makes that eviction lossless.
func (s *Store) StaleRiskSnapshotCount(ctx context.Context, cutoff time.Time) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM risk_states WHERE last_updated < ?`,
		formatTime(cutoff),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count stale risk snapshots: %w", err)
	}
	return count, nil
}
