package calls

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/DishantPal/meetmingle-api/migrations"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := migrations.Up(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	for _, table := range []string{"match_history", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("wipe %s: %v", table, err)
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUsers(t *testing.T, db *sql.DB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := db.Exec(`INSERT INTO users (id, email) VALUES ($1, $2)`,
			id, fmt.Sprintf("user%d@example.com", id))
		if err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}
}

func startSession(t *testing.T, db *sql.DB, ledger *Ledger, u1, u2 int64) int64 {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := ledger.Start(context.Background(), tx, u1, u2, "video")
	if err != nil {
		tx.Rollback()
		t.Fatalf("start session: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestStartAndOpen(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db, 1, 2)
	ledger := NewLedger(db)
	ctx := context.Background()

	id := startSession(t, db, ledger, 1, 2)
	if id == 0 {
		t.Fatal("expected a session id")
	}

	rec, err := ledger.Open(ctx, 2, 1)
	if err != nil {
		t.Fatalf("open lookup: %v", err)
	}
	if rec == nil {
		t.Fatal("expected an open session regardless of argument order")
	}
	if rec.CallType != "video" || rec.EndTime.Valid {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestFinishRecordsReasonAndDuration(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db, 3, 4)
	ledger := NewLedger(db)
	ctx := context.Background()

	startSession(t, db, ledger, 3, 4)

	ended, err := ledger.Finish(ctx, 4, 3, ReasonUserEnded)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !ended {
		t.Fatal("expected the open session to be finalized")
	}

	var (
		reason   sql.NullString
		duration sql.NullInt64
	)
	err = db.QueryRow(
		`SELECT end_reason, duration_seconds FROM match_history
		 WHERE user1_id = 3 AND user2_id = 4`).Scan(&reason, &duration)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reason.String != ReasonUserEnded {
		t.Errorf("expected reason %q, got %q", ReasonUserEnded, reason.String)
	}
	if !duration.Valid || duration.Int64 < 0 {
		t.Errorf("expected non-negative duration, got %+v", duration)
	}
}

func TestFinishTwiceIsNoOp(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db, 5, 6)
	ledger := NewLedger(db)
	ctx := context.Background()

	startSession(t, db, ledger, 5, 6)

	if ended, err := ledger.Finish(ctx, 5, 6, ReasonUserEnded); err != nil || !ended {
		t.Fatalf("first finish: ended=%v err=%v", ended, err)
	}
	ended, err := ledger.Finish(ctx, 6, 5, ReasonDisconnected)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if ended {
		t.Fatal("already finalized session must not be touched again")
	}

	var reason string
	if err := db.QueryRow(`SELECT end_reason FROM match_history WHERE user1_id = 5`).Scan(&reason); err != nil {
		t.Fatalf("query: %v", err)
	}
	if reason != ReasonUserEnded {
		t.Errorf("first reason must stick, got %q", reason)
	}
}

func TestRecentForUser(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db, 7, 8, 9)
	ledger := NewLedger(db)
	ctx := context.Background()

	startSession(t, db, ledger, 7, 8)
	ledger.Finish(ctx, 7, 8, ReasonUserEnded)
	startSession(t, db, ledger, 7, 9)

	records, err := ledger.RecentForUser(ctx, 7, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	records, err = ledger.RecentForUser(ctx, 8, 10)
	if err != nil {
		t.Fatalf("recent for peer: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record for user 8, got %d", len(records))
	}
}
