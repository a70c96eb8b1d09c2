package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yln-platform/sheetstore/internal/codec"
	"github.com/yln-platform/sheetstore/pkg/types"
)

// Retry queue persistence. Entries live in the pending_writes table so the
// queue survives restarts even though the remote backend does not. The drain
// worker claims an entry (queued -> in_flight) before its network call and
// commits the outcome after, keyed by the seq it claimed; a write accepted
// mid-replay bumps seq and is therefore never lost to a stale commit.

// UpsertPending records a failed remote write. If a non-abandoned entry
// already exists for the same (entity type, record id), the new write
// supersedes it instead of stacking a duplicate:
//
//   - a pending create followed by an update stays a create with the newer
//     payload (the row has never reached the remote);
//   - a queued create followed by a delete cancels out entirely;
//   - anything else superseded by a delete becomes a delete;
//   - a new write over a pending delete replays as an update (the replay
//     path upserts, so it lands whether or not the delete ran).
//
// Superseding bumps seq, resets attempts, and makes the entry immediately
// eligible. Returns the resulting entry, or nil when the writes cancelled.
func (s *Store) UpsertPending(ctx context.Context, entityType, recordID string, op types.Op, payload types.Record) (*types.PendingWrite, error) {
	sc, err := s.Schema(entityType)
	if err != nil {
		return nil, err
	}
	var payloadJSON sql.NullString
	if payload != nil {
		p, err := encodePayload(payload, sc)
		if err != nil {
			return nil, err
		}
		payloadJSON = sql.NullString{String: p, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}

	now := time.Now().UTC()
	existing, err := s.getPendingLocked(ctx, entityType, recordID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		// A fresh write supersedes any stale abandoned entries for the
		// identifier; they would otherwise shadow it in the read overlay.
		if _, err := s.clearAbandonedLocked(ctx, entityType, recordID); err != nil {
			return nil, err
		}
		pw := types.PendingWrite{
			ID:            newID(),
			EntityType:    entityType,
			RecordID:      recordID,
			Op:            op,
			Payload:       payload.Clone(),
			Status:        types.StatusQueued,
			NextAttemptAt: now,
			EnqueuedAt:    now,
			UpdatedAt:     now,
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO pending_writes
				(id, entity_type, record_id, operation, payload, status,
				 attempts, seq, next_retry_at, enqueued_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
			pw.ID, entityType, recordID, string(op), payloadJSON,
			string(types.StatusQueued),
			now.UnixNano(), now.UnixNano(), now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("enqueueing pending write: %w", err)
		}
		return &pw, nil
	}

	nextOp := supersededOp(existing.Op, op)
	if nextOp == "" {
		if existing.Status == types.StatusInFlight {
			// The in-flight create may have landed; replay the delete.
			nextOp = types.OpDelete
		} else {
			// Queued create followed by delete: the remote never saw the row.
			if _, err := s.db.ExecContext(ctx,
				"DELETE FROM pending_writes WHERE id = ?", existing.ID); err != nil {
				return nil, fmt.Errorf("cancelling pending write: %w", err)
			}
			return nil, nil
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pending_writes
		SET operation = ?, payload = ?, attempts = 0, seq = seq + 1,
			next_retry_at = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		string(nextOp), payloadJSON, now.UnixNano(), now.UnixNano(), existing.ID)
	if err != nil {
		return nil, fmt.Errorf("superseding pending write: %w", err)
	}

	existing.Op = nextOp
	existing.Payload = payload.Clone()
	existing.Attempts = 0
	existing.Seq++
	existing.NextAttemptAt = now
	existing.LastError = ""
	existing.UpdatedAt = now
	return existing, nil
}

// supersededOp resolves the operation kind when a newer write lands on an
// unreplayed entry. Empty means the two cancel.
func supersededOp(old, newer types.Op) types.Op {
	switch {
	case old == types.OpCreate && newer == types.OpDelete:
		return ""
	case old == types.OpCreate:
		return types.OpCreate
	case newer == types.OpDelete:
		return types.OpDelete
	default:
		return types.OpUpdate
	}
}

// GetPending returns the outstanding (non-abandoned) entry for a record, or
// nil when there is none.
func (s *Store) GetPending(ctx context.Context, entityType, recordID string) (*types.PendingWrite, error) {
	if _, err := s.Schema(entityType); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	return s.getPendingLocked(ctx, entityType, recordID)
}

func (s *Store) getPendingLocked(ctx context.Context, entityType, recordID string) (*types.PendingWrite, error) {
	row := s.db.QueryRowContext(ctx, pendingSelect+`
		WHERE entity_type = ? AND record_id = ? AND status != ?`,
		entityType, recordID, string(types.StatusAbandoned))
	pw, err := s.scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pw, err
}

// ListPending returns every queue entry for an entity type, including
// abandoned ones, in submission order. The engine's read overlay uses it.
func (s *Store) ListPending(ctx context.Context, entityType string) ([]types.PendingWrite, error) {
	if _, err := s.Schema(entityType); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, pendingSelect+`
		WHERE entity_type = ? ORDER BY enqueued_at, id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("listing pending writes: %w", err)
	}
	defer rows.Close()

	var out []types.PendingWrite
	for rows.Next() {
		pw, err := s.scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pw)
	}
	return out, rows.Err()
}

// ClaimDuePending marks the earliest eligible queued entry in-flight and
// returns it. Returns nil when nothing is due at now.
func (s *Store) ClaimDuePending(ctx context.Context, now time.Time) (*types.PendingWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, pendingSelect+`
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY enqueued_at, id LIMIT 1`,
		string(types.StatusQueued), now.UnixNano())
	pw, err := s.scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_writes SET status = ?, updated_at = ? WHERE id = ? AND seq = ?",
		string(types.StatusInFlight), now.UnixNano(), pw.ID, pw.Seq)
	if err != nil {
		return nil, fmt.Errorf("claiming pending write: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Superseded between select and claim; let the next tick take it.
		return nil, nil
	}
	pw.Status = types.StatusInFlight
	return pw, nil
}

// CompletePending removes a replayed entry. If the entry was superseded
// while in flight (seq moved on), it is requeued instead so the newer
// payload still replays.
func (s *Store) CompletePending(ctx context.Context, id string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_writes WHERE id = ? AND seq = ?", id, seq)
	if err != nil {
		return fmt.Errorf("completing pending write: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.releaseLocked(ctx, id)
}

// RequeuePending returns a failed entry to the queue with its incremented
// attempt count and backoff deadline.
func (s *Store) RequeuePending(ctx context.Context, id string, seq int64, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_writes
		SET status = ?, attempts = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND seq = ?`,
		string(types.StatusQueued), attempts, next.UnixNano(), lastErr, now.UnixNano(), id, seq)
	if err != nil {
		return fmt.Errorf("requeueing pending write: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.releaseLocked(ctx, id)
}

// AbandonPending marks an entry abandoned after max attempts. The row is
// kept for operator intervention.
func (s *Store) AbandonPending(ctx context.Context, id string, seq int64, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_writes
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND seq = ?`,
		string(types.StatusAbandoned), lastErr, now.UnixNano(), id, seq)
	if err != nil {
		return fmt.Errorf("abandoning pending write: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.releaseLocked(ctx, id)
}

// releaseLocked puts a superseded in-flight entry back in the queue.
// CancelQueued removes the queued entry for an identifier, reporting
// whether one was removed. An in-flight entry is left alone: the caller
// must supersede it through UpsertPending so its commit cannot win.
func (s *Store) CancelQueued(ctx context.Context, entityType, recordID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, types.ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_writes
		WHERE entity_type = ? AND record_id = ? AND status = ?`,
		entityType, recordID, types.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("cancelling queued entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancelling queued entry: %w", err)
	}
	return n > 0, nil
}

// ClearAbandoned removes abandoned entries for an identifier, as after a
// successful delete or operator intervention. Returns how many were
// removed.
func (s *Store) ClearAbandoned(ctx context.Context, entityType, recordID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrStoreClosed
	}
	return s.clearAbandonedLocked(ctx, entityType, recordID)
}

func (s *Store) clearAbandonedLocked(ctx context.Context, entityType, recordID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_writes
		WHERE entity_type = ? AND record_id = ? AND status = ?`,
		entityType, recordID, types.StatusAbandoned)
	if err != nil {
		return 0, fmt.Errorf("clearing abandoned entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing abandoned entries: %w", err)
	}
	return int(n), nil
}

func (s *Store) releaseLocked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pending_writes SET status = ? WHERE id = ? AND status = ?",
		string(types.StatusQueued), id, string(types.StatusInFlight))
	if err != nil {
		return fmt.Errorf("releasing pending write: %w", err)
	}
	return nil
}

// ReclaimInFlight requeues entries left in-flight by a crashed process.
// Called once at startup; replays are at-least-once, so the downstream
// upsert-by-identifier absorbs a duplicate.
func (s *Store) ReclaimInFlight(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_writes SET status = ? WHERE status = ?",
		string(types.StatusQueued), string(types.StatusInFlight))
	if err != nil {
		return 0, fmt.Errorf("reclaiming in-flight writes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountPending returns the number of queue entries with the given status.
func (s *Store) CountPending(ctx context.Context, status types.PendingStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, types.ErrStoreClosed
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pending_writes WHERE status = ?",
		string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending writes: %w", err)
	}
	return n, nil
}

const pendingSelect = `
	SELECT id, entity_type, record_id, operation, payload, status,
	       attempts, seq, next_retry_at, last_error, enqueued_at, updated_at
	FROM pending_writes`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPending(row rowScanner) (*types.PendingWrite, error) {
	var pw types.PendingWrite
	var op, status string
	var payload sql.NullString
	var nextRetry, enqueued, updated int64
	err := row.Scan(&pw.ID, &pw.EntityType, &pw.RecordID, &op, &payload,
		&status, &pw.Attempts, &pw.Seq, &nextRetry, &pw.LastError,
		&enqueued, &updated)
	if err != nil {
		return nil, err
	}
	pw.Op = types.Op(op)
	pw.Status = types.PendingStatus(status)
	pw.NextAttemptAt = time.Unix(0, nextRetry).UTC()
	pw.EnqueuedAt = time.Unix(0, enqueued).UTC()
	pw.UpdatedAt = time.Unix(0, updated).UTC()
	if payload.Valid {
		sc, ok := s.schemas[pw.EntityType]
		if !ok {
			return nil, fmt.Errorf("%q: %w", pw.EntityType, types.ErrUnknownEntity)
		}
		var cells []string
		if err := json.Unmarshal([]byte(payload.String), &cells); err != nil {
			return nil, fmt.Errorf("parsing pending payload: %w", err)
		}
		pw.Payload = codec.Decode(cells, sc)
	}
	return &pw, nil
}
