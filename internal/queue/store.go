// Package queue provides the PostgreSQL-backed matching queue: one row per
// waiting user, carrying both a snapshot of the user's profile attributes
// (taken at enqueue time) and the filters the user is requesting. Pairing
// claims rows via a conditional status transition so two concurrent searches
// can never win the same candidate.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Queue entry lifecycle states.
const (
	StatusWaiting = "waiting"
	StatusMatched = "matched"
)

// Supported call types.
const (
	CallTypeVideo = "video"
	CallTypeAudio = "audio"
)

// ErrAlreadyQueued is returned by Enqueue when the user already has a
// waiting entry. At most one waiting row may exist per user.
var ErrAlreadyQueued = errors.New("queue: user already in queue")

// Attributes is the snapshot of a user's profile taken at enqueue time.
// Profile changes after enqueue do not affect a pending match.
type Attributes struct {
	Gender    string
	Language  string
	Country   string
	State     string
	Age       int
	Interests []string
}

// Filters are the constraints a user places on desired peer attributes.
// Zero values mean "not set". The age filter is set when AgeMax > 0.
type Filters struct {
	Gender   string
	Language string
	Country  string
	State    string
	AgeMin   int
	AgeMax   int
}

// HasAge reports whether the age range filter is set.
func (f Filters) HasAge() bool { return f.AgeMax > 0 }

// ParseAgeRange parses an inclusive "min-max" age filter string. An empty
// string yields an unset range. Unparseable bounds fall back to 0 and 100,
// matching how clients have always sent open-ended ranges.
func ParseAgeRange(s string) (min, max int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, fmt.Errorf("queue: malformed age range %q", s)
	}
	min, err = strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		min = 0
	}
	max, err = strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		max = 100
	}
	if max < min {
		return 0, 0, fmt.Errorf("queue: inverted age range %q", s)
	}
	return min, max, nil
}

// Entry is one matching queue row.
type Entry struct {
	ID        int64
	UserID    int64
	CallType  string
	Attrs     Attributes
	Filters   Filters
	Status    string
	EntryTime time.Time
}

// ProfileReader supplies the current profile attributes snapshotted onto a
// queue entry. Implemented by the user store.
type ProfileReader interface {
	Attributes(ctx context.Context, userID int64) (Attributes, error)
}

// Store manages matching_queue rows.
type Store struct {
	db       *sql.DB
	profiles ProfileReader
}

// NewStore creates a queue store backed by the given database handle.
func NewStore(db *sql.DB, profiles ProfileReader) *Store {
	return &Store{db: db, profiles: profiles}
}

// Enqueue admits a user to the queue. It snapshots the user's current
// profile attributes onto the row; if the request carries its own interest
// list it takes precedence over the profile's. Returns ErrAlreadyQueued if a
// waiting row exists (also enforced by a partial unique index, so a racing
// double-enqueue loses cleanly).
func (s *Store) Enqueue(ctx context.Context, userID int64, callType string, f Filters, interests []string) (int64, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM matching_queue WHERE user_id = $1 AND status = $2)`,
		userID, StatusWaiting).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("queue: check existing entry: %w", err)
	}
	if exists {
		return 0, ErrAlreadyQueued
	}

	attrs, err := s.profiles.Attributes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("queue: snapshot profile for user %d: %w", userID, err)
	}
	if len(interests) > 0 {
		attrs.Interests = interests
	}

	interestsJSON, err := json.Marshal(attrs.Interests)
	if err != nil {
		return 0, fmt.Errorf("queue: marshal interests: %w", err)
	}

	const query = `
		INSERT INTO matching_queue (
			user_id, call_type,
			gender, preferred_language, country, state, age, interests,
			filter_gender, filter_language, filter_country, filter_state,
			filter_age_min, filter_age_max,
			status, entry_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW())
		RETURNING id`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		userID, callType,
		nullStr(attrs.Gender), nullStr(attrs.Language), nullStr(attrs.Country),
		nullStr(attrs.State), nullInt(attrs.Age), interestsJSON,
		nullStr(f.Gender), nullStr(f.Language), nullStr(f.Country), nullStr(f.State),
		nullInt(f.AgeMin), nullInt(f.AgeMax),
		StatusWaiting,
	).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrAlreadyQueued
		}
		return 0, fmt.Errorf("queue: insert entry for user %d: %w", userID, err)
	}
	return id, nil
}

// Dequeue removes any queue rows for the user. It is idempotent and is used
// on explicit leave, disconnect, and after a successful match.
func (s *Store) Dequeue(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM matching_queue WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("queue: dequeue user %d: %w", userID, err)
	}
	return nil
}

// WaitingEntry returns the user's waiting entry, or nil if none exists.
func (s *Store) WaitingEntry(ctx context.Context, userID int64) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntryColumns+
		` FROM matching_queue WHERE user_id = $1 AND status = $2`, userID, StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("queue: load entry for user %d: %w", userID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Candidates returns the waiting entries that could pair with the requester,
// narrowed inside the query: same call type, not the requester, no block
// relation in either direction, and the requester's filters applied against
// each candidate's snapshot attributes. FIFO order (oldest entry first).
// The reverse direction (candidate's filters vs the requester) is checked by
// the compatibility engine afterwards.
func (s *Store) Candidates(ctx context.Context, tx *sql.Tx, req *Entry) ([]Entry, error) {
	conditions := []string{
		"status = $1",
		"call_type = $2",
		"user_id != $3",
		`user_id NOT IN (
			SELECT blocked_id FROM user_blocks WHERE blocker_id = $3
			UNION
			SELECT blocker_id FROM user_blocks WHERE blocked_id = $3)`,
	}
	args := []interface{}{StatusWaiting, req.CallType, req.UserID}

	addEq := func(column, value string) {
		if value != "" {
			args = append(args, value)
			conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}
	addEq("gender", req.Filters.Gender)
	addEq("preferred_language", req.Filters.Language)
	addEq("country", req.Filters.Country)
	addEq("state", req.Filters.State)

	if req.Filters.HasAge() {
		args = append(args, req.Filters.AgeMin, req.Filters.AgeMax)
		conditions = append(conditions,
			fmt.Sprintf("age BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}

	query := selectEntryColumns + " FROM matching_queue WHERE " +
		strings.Join(conditions, " AND ") + " ORDER BY entry_time ASC"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: query candidates: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// MarkMatched performs the conditional claim: each given user's row is moved
// waiting -> matched only if it is still waiting. Returns how many rows were
// claimed; a shortfall means another search won a candidate (or the user
// left the queue) and the caller must back off.
func (s *Store) MarkMatched(ctx context.Context, tx *sql.Tx, userIDs ...int64) (int, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE matching_queue SET status = $1, updated_at = NOW()
		 WHERE user_id = ANY($2) AND status = $3`,
		StatusMatched, pq.Array(userIDs), StatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("queue: mark matched: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: mark matched rows: %w", err)
	}
	return int(n), nil
}

// DeleteMatched removes both participants' rows once their call session
// exists. Runs inside the pairing transaction.
func (s *Store) DeleteMatched(ctx context.Context, tx *sql.Tx, userIDs ...int64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM matching_queue WHERE user_id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return fmt.Errorf("queue: delete matched rows: %w", err)
	}
	return nil
}

// WaitingCount returns the number of users currently waiting, for metrics.
func (s *Store) WaitingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matching_queue WHERE status = $1`, StatusWaiting).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: waiting count: %w", err)
	}
	return n, nil
}

const selectEntryColumns = `
	SELECT id, user_id, call_type,
	       gender, preferred_language, country, state, age, interests,
	       filter_gender, filter_language, filter_country, filter_state,
	       filter_age_min, filter_age_max,
	       status, entry_time`

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e             Entry
		gender        sql.NullString
		language      sql.NullString
		country       sql.NullString
		state         sql.NullString
		age           sql.NullInt32
		interestsJSON []byte
		fGender       sql.NullString
		fLanguage     sql.NullString
		fCountry      sql.NullString
		fState        sql.NullString
		fAgeMin       sql.NullInt32
		fAgeMax       sql.NullInt32
	)

	err := rows.Scan(&e.ID, &e.UserID, &e.CallType,
		&gender, &language, &country, &state, &age, &interestsJSON,
		&fGender, &fLanguage, &fCountry, &fState, &fAgeMin, &fAgeMax,
		&e.Status, &e.EntryTime)
	if err != nil {
		return nil, fmt.Errorf("queue: scan entry: %w", err)
	}

	e.Attrs = Attributes{
		Gender:   gender.String,
		Language: language.String,
		Country:  country.String,
		State:    state.String,
		Age:      int(age.Int32),
	}
	if len(interestsJSON) > 0 {
		if err := json.Unmarshal(interestsJSON, &e.Attrs.Interests); err != nil {
			return nil, fmt.Errorf("queue: decode interests for user %d: %w", e.UserID, err)
		}
	}
	e.Filters = Filters{
		Gender:   fGender.String,
		Language: fLanguage.String,
		Country:  fCountry.String,
		State:    fState.String,
		AgeMin:   int(fAgeMin.Int32),
		AgeMax:   int(fAgeMax.Int32),
	}
	return &e, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(n), Valid: n != 0}
}
