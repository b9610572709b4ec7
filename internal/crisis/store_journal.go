package crisis

import (
	"context"
	"fmt"
	"time"
)

// RecordSignalFingerprint inserts a signal fingerprint into the dedup
// journal. Returns false when the fingerprint was already present, meaning
// the signal is a duplicate delivery.
func (s *Store) RecordSignalFingerprint(ctx context.Context, userID, fingerprint string, seenAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO signal_journal (user_id, fingerprint, seen_at) VALUES (?, ?, ?)`,
		userID,
		fingerprint,
		formatTime(seenAt),
	)
	if err != nil {
		return false, fmt.Errorf("record signal fingerprint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// PruneSignalJournal removes journal entries older than the dedup window.
// Duplicates arriving after the window fold again, which decay renders
// harmless.
func (s *Store) PruneSignalJournal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM signal_journal WHERE seen_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune signal journal: %w", err)
	}
	return res.RowsAffected()
}
