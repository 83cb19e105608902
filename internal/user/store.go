// Package user reads profile data owned by the account service. This module
// only ever reads users and user_profiles; all writes happen elsewhere.
package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DishantPal/meetmingle-api/internal/queue"
)

// ErrNotFound is returned when the user has no profile row.
var ErrNotFound = errors.New("user: profile not found")

// Store reads user profile attributes.
type Store struct {
	db *sql.DB
}

// NewStore creates a profile reader backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Attributes returns the user's current profile attributes. Missing optional
// fields come back as zero values; a user without a profile row is an error
// because matching needs at least the row to exist.
func (s *Store) Attributes(ctx context.Context, userID int64) (queue.Attributes, error) {
	var (
		gender        sql.NullString
		language      sql.NullString
		country       sql.NullString
		state         sql.NullString
		age           sql.NullInt32
		interestsJSON []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT gender, preferred_language, country, state, age, interests
		 FROM user_profiles WHERE user_id = $1`,
		userID).Scan(&gender, &language, &country, &state, &age, &interestsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Attributes{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return queue.Attributes{}, fmt.Errorf("user: load profile %d: %w", userID, err)
	}

	attrs := queue.Attributes{
		Gender:   gender.String,
		Language: language.String,
		Country:  country.String,
		State:    state.String,
		Age:      int(age.Int32),
	}
	if len(interestsJSON) > 0 {
		if err := json.Unmarshal(interestsJSON, &attrs.Interests); err != nil {
			return queue.Attributes{}, fmt.Errorf("user: decode interests for %d: %w", userID, err)
		}
	}
	return attrs, nil
}

// Exists reports whether the user account exists and is active.
func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND deleted_at IS NULL)`,
		userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("user: existence check %d: %w", userID, err)
	}
	return ok, nil
}
