// Package coins writes and reads the append-only user coin ledger. Every
// balance change is one immutable row carrying the resulting running balance
// and a CRC32 checksum as a tamper indicator. The running balance after each
// entry must equal the previous entry's balance plus the signed amount; the
// per-user row lock on the latest entry serializes concurrent writes so the
// chain never forks.
package coins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Transaction direction.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Entry is one coin ledger row.
type Entry struct {
	ID             int64
	TransactionID  string
	UserID         int64
	Type           string // credit | debit
	ActionType     string // e.g. "reward", "match_filter"
	Amount         int64  // always positive; Type carries the sign
	RunningBalance int64
	Description    string
	ReferenceID    string
	Checksum       string
	CreatedAt      time.Time
}

// Store manages user_coin_transactions.
type Store struct {
	db *sql.DB
}

// NewStore creates a coin ledger store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Balance returns the user's current coin balance: the running balance of
// the newest ledger entry, or 0 for a user with no entries.
func (s *Store) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT running_balance FROM user_coin_transactions
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("coins: balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// Debit appends a debit entry inside the given transaction. The latest entry
// is locked so a concurrent charge for the same user cannot interleave
// between the balance read and the write.
func (s *Store) Debit(ctx context.Context, tx *sql.Tx, userID, amount int64, actionType, description, referenceID string) error {
	return s.append(ctx, tx, userID, -amount, actionType, description, referenceID)
}

// Credit appends a credit entry inside the given transaction. The core only
// debits; credits are written by the reward/purchase collaborators sharing
// this ledger.
func (s *Store) Credit(ctx context.Context, tx *sql.Tx, userID, amount int64, actionType, description, referenceID string) error {
	return s.append(ctx, tx, userID, amount, actionType, description, referenceID)
}

// append writes one ledger row with a signed amount (negative = debit).
func (s *Store) append(ctx context.Context, tx *sql.Tx, userID, signed int64, actionType, description, referenceID string) error {
	if signed == 0 {
		return errors.New("coins: zero amount")
	}

	var current int64
	err := tx.QueryRowContext(ctx,
		`SELECT running_balance FROM user_coin_transactions
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`,
		userID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("coins: lock last entry for user %d: %w", userID, err)
	}

	newBalance := current + signed

	txType := TypeCredit
	amount := signed
	if signed < 0 {
		txType = TypeDebit
		amount = -signed
	}

	transactionID := uuid.New().String()
	now := time.Now().UTC()
	checksum := Checksum(userID, transactionID, signed, now)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_coin_transactions (
			transaction_id, user_id, transaction_type, action_type,
			amount, running_balance, description, reference_id, checksum, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		transactionID, userID, txType, actionType,
		amount, newBalance, description, referenceID, checksum, now)
	if err != nil {
		return fmt.Errorf("coins: insert %s of %d for user %d: %w", txType, amount, userID, err)
	}
	return nil
}

// Checksum computes the tamper-indicator over the entry's identifying
// fields. It is an integrity hint, not cryptographic proof.
func Checksum(userID int64, transactionID string, signedAmount int64, ts time.Time) string {
	data := strconv.FormatInt(userID, 10) + transactionID +
		strconv.FormatInt(signedAmount, 10) + ts.Format(time.RFC3339Nano)
	return strconv.FormatUint(uint64(crc32.ChecksumIEEE([]byte(data))), 16)
}

// VerifyChain walks a user's ledger oldest-first and reports whether every
// running balance equals the previous balance plus that entry's signed
// amount. Used by audit tooling and tests.
func (s *Store) VerifyChain(ctx context.Context, userID int64) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_type, amount, running_balance FROM user_coin_transactions
		 WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return false, fmt.Errorf("coins: load chain for user %d: %w", userID, err)
	}
	defer rows.Close()

	var balance int64
	for rows.Next() {
		var (
			txType  string
			amount  int64
			running int64
		)
		if err := rows.Scan(&txType, &amount, &running); err != nil {
			return false, fmt.Errorf("coins: scan chain entry: %w", err)
		}
		if txType == TypeDebit {
			balance -= amount
		} else {
			balance += amount
		}
		if running != balance {
			return false, nil
		}
	}
	return true, rows.Err()
}
