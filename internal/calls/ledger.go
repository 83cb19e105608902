// Package calls persists the call session audit trail. One match_history
// row is created when a pairing commits and mutated exactly once, at
// termination, to record the end time, duration, and reason. Rows are never
// deleted.
package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// End reasons recorded on a finalized session.
const (
	ReasonCompleted    = "completed"
	ReasonUserEnded    = "user_ended"
	ReasonDisconnected = "user_disconnected"
	ReasonForceEnded   = "force_ended"
)

// Record is one match_history row.
type Record struct {
	ID              int64
	User1ID         int64
	User2ID         int64
	CallType        string
	StartTime       time.Time
	EndTime         sql.NullTime
	DurationSeconds sql.NullInt64
	EndReason       sql.NullString
}

// Ledger manages match_history.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a call ledger backed by the given database handle.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Start inserts the session row inside the pairing transaction, so a failed
// pairing leaves no history. Returns the new row id.
func (l *Ledger) Start(ctx context.Context, tx *sql.Tx, user1, user2 int64, callType string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO match_history (user1_id, user2_id, call_type, start_time)
		 VALUES ($1, $2, $3, NOW()) RETURNING id`,
		user1, user2, callType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("calls: start session %d/%d: %w", user1, user2, err)
	}
	return id, nil
}

// Finish finalizes the open session between the two users: sets end_time,
// computes duration_seconds from start_time, and records the reason. Returns
// false when no open session exists (already finalized or never started);
// that is a normal outcome when both sides tear down, not an error.
func (l *Ledger) Finish(ctx context.Context, userID, peerID int64, reason string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE match_history
		 SET end_time = NOW(),
		     duration_seconds = EXTRACT(EPOCH FROM (NOW() - start_time))::int,
		     end_reason = $3,
		     updated_at = NOW()
		 WHERE ((user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1))
		   AND end_time IS NULL`,
		userID, peerID, reason)
	if err != nil {
		return false, fmt.Errorf("calls: finish session %d/%d: %w", userID, peerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calls: finish session rows: %w", err)
	}
	return n > 0, nil
}

// Open returns the unfinished session between two users, or nil.
func (l *Ledger) Open(ctx context.Context, userID, peerID int64) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, user1_id, user2_id, call_type, start_time, end_time, duration_seconds, end_reason
		 FROM match_history
		 WHERE ((user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1))
		   AND end_time IS NULL
		 ORDER BY start_time DESC LIMIT 1`,
		userID, peerID)

	var r Record
	err := row.Scan(&r.ID, &r.User1ID, &r.User2ID, &r.CallType,
		&r.StartTime, &r.EndTime, &r.DurationSeconds, &r.EndReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calls: load open session %d/%d: %w", userID, peerID, err)
	}
	return &r, nil
}

// RecentForUser returns the user's most recent sessions, newest first, for
// the call-history surface.
func (l *Ledger) RecentForUser(ctx context.Context, userID int64, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user1_id, user2_id, call_type, start_time, end_time, duration_seconds, end_reason
		 FROM match_history
		 WHERE user1_id = $1 OR user2_id = $1
		 ORDER BY start_time DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("calls: history for user %d: %w", userID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		err := rows.Scan(&r.ID, &r.User1ID, &r.User2ID, &r.CallType,
			&r.StartTime, &r.EndTime, &r.DurationSeconds, &r.EndReason)
		if err != nil {
			return nil, fmt.Errorf("calls: scan history row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
