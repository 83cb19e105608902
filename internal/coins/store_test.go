package coins

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

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
	for _, table := range []string{"user_coin_transactions", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("wipe %s: %v", table, err)
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email) VALUES ($1, $2)`,
		id, fmt.Sprintf("user%d@example.com", id))
	if err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx op: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestBalanceEmptyLedger(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)

	balance, err := store.Balance(context.Background(), 999)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0 balance, got %d", balance)
	}
}

func TestCreditDebitRunningBalance(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, 1)
	store := NewStore(db)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		return store.Credit(ctx, tx, 1, 100, "reward", "Daily reward", "reward_daily")
	})
	inTx(t, db, func(tx *sql.Tx) error {
		return store.Debit(ctx, tx, 1, 30, "match_filter", "Used country filter", "country_filter")
	})

	balance, err := store.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 70 {
		t.Fatalf("expected balance 70, got %d", balance)
	}

	ok, err := store.VerifyChain(ctx, 1)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !ok {
		t.Fatal("running balance chain is inconsistent")
	}
}

func TestLedgerEntriesAreTyped(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, 2)
	store := NewStore(db)
	ctx := context.Background()

	inTx(t, db, func(tx *sql.Tx) error {
		return store.Credit(ctx, tx, 2, 50, "purchase", "Coin pack", "pack_small")
	})
	inTx(t, db, func(tx *sql.Tx) error {
		return store.Debit(ctx, tx, 2, 10, "match_filter", "Used age filter", "age_filter")
	})

	rows, err := db.Query(
		`SELECT transaction_type, amount FROM user_coin_transactions
		 WHERE user_id = 2 ORDER BY id ASC`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var got []struct {
		typ    string
		amount int64
	}
	for rows.Next() {
		var e struct {
			typ    string
			amount int64
		}
		if err := rows.Scan(&e.typ, &e.amount); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].typ != TypeCredit || got[0].amount != 50 {
		t.Errorf("first entry: %+v", got[0])
	}
	if got[1].typ != TypeDebit || got[1].amount != 10 {
		t.Errorf("second entry: amount must stay positive with type carrying the sign: %+v", got[1])
	}
}

func TestChecksumDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Checksum(1, "tx-1", -10, ts)
	b := Checksum(1, "tx-1", -10, ts)
	if a != b {
		t.Fatalf("checksum not deterministic: %s vs %s", a, b)
	}
	if a == Checksum(1, "tx-1", 10, ts) {
		t.Fatal("sign must affect the checksum")
	}
	if a == Checksum(2, "tx-1", -10, ts) {
		t.Fatal("user id must affect the checksum")
	}
}
