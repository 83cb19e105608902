package matching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/DishantPal/meetmingle-api/internal/billing"
	"github.com/DishantPal/meetmingle-api/internal/calls"
	"github.com/DishantPal/meetmingle-api/internal/queue"
	"github.com/DishantPal/meetmingle-api/internal/session"
)

// ErrInvalidCallType is returned for a call type other than video or audio.
var ErrInvalidCallType = errors.New("matching: invalid call type")

// Presence answers whether a user currently holds a live connection.
// Candidates with no connection are skipped before any claim is attempted,
// so a stale queue row cannot produce a match nobody can receive.
type Presence interface {
	Connected(userID int64) bool
}

// Match is the outcome of a successful pairing.
type Match struct {
	RoomID   string
	UserID   int64 // requester
	PeerID   int64
	CallType string
}

// Initiator returns the participant that should create the WebRTC offer.
// The lower user id initiates so both sides agree without negotiation.
func (m *Match) Initiator() int64 {
	if m.PeerID < m.UserID {
		return m.PeerID
	}
	return m.UserID
}

// Orchestrator runs the full matching flow: admission, affordability,
// candidate search, the two-sided atomic claim, filter billing, and the call
// session record. Everything from the claim onward happens in one database
// transaction; a failure at any point leaves no partial state.
type Orchestrator struct {
	db       *sql.DB
	queue    *queue.Store
	gate     *billing.Gate
	ledger   *calls.Ledger
	presence Presence
}

// NewOrchestrator wires the matching flow together.
func NewOrchestrator(db *sql.DB, q *queue.Store, gate *billing.Gate, ledger *calls.Ledger, presence Presence) *Orchestrator {
	return &Orchestrator{db: db, queue: q, gate: gate, ledger: ledger, presence: presence}
}

// FindMatch admits the user to the queue and attempts to pair them with a
// waiting counterpart. Returns the match, or (nil, nil) when no compatible
// user is waiting; the caller then leaves the user queued for a later search
// from the other side to find. A findMatch while already queued fails with
// queue.ErrAlreadyQueued.
func (o *Orchestrator) FindMatch(ctx context.Context, userID int64, callType string, f queue.Filters, interests []string) (*Match, error) {
	if callType != queue.CallTypeVideo && callType != queue.CallTypeAudio {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCallType, callType)
	}

	if _, err := o.queue.Enqueue(ctx, userID, callType, f, interests); err != nil {
		return nil, err
	}

	match, err := o.search(ctx, userID, callType, f)
	if err != nil {
		if retryableTxError(err) {
			// Lost the pairing race to a concurrent search that claimed
			// both rows first; the winner notifies both sides.
			return nil, nil
		}
		// Any failed search removes the queue row, so a retry is not
		// rejected as already queued.
		if derr := o.queue.Dequeue(ctx, userID); derr != nil {
			log.Printf("[matching] dequeue after failed search for user %d: %v", userID, derr)
		}
		return nil, err
	}
	return match, nil
}

// search runs the affordability check and one pairing pass. It assumes the
// user has already been enqueued and leaves the queue row in place both on
// success without a match and on error; FindMatch owns the cleanup.
func (o *Orchestrator) search(ctx context.Context, userID int64, callType string, f queue.Filters) (*Match, error) {
	ok, err := o.gate.CanAfford(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, billing.ErrInsufficientBalance
	}

	req, err := o.queue.WaitingEntry(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		// The user left the queue between enqueue and here.
		return nil, nil
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("matching: begin pairing tx: %w", err)
	}
	defer tx.Rollback()

	candidates, err := o.queue.Candidates(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		cand := &candidates[i]
		if !Compatible(req, cand) {
			continue
		}
		if o.presence != nil && !o.presence.Connected(cand.UserID) {
			continue
		}

		// Claim the candidate first. Losing this race to a concurrent
		// search just means trying the next candidate.
		claimed, err := o.queue.MarkMatched(ctx, tx, cand.UserID)
		if err != nil {
			return nil, err
		}
		if claimed == 0 {
			continue
		}

		// Claim the requester second. Failure here means the user
		// cancelled mid-search; the whole pairing unwinds.
		claimed, err = o.queue.MarkMatched(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		if claimed == 0 {
			return nil, nil
		}

		if err := o.gate.Charge(ctx, tx, userID, req.Filters); err != nil {
			return nil, err
		}
		if err := o.gate.Charge(ctx, tx, cand.UserID, cand.Filters); err != nil {
			return nil, err
		}

		user1, user2 := userID, cand.UserID
		if user2 < user1 {
			user1, user2 = user2, user1
		}
		if _, err := o.ledger.Start(ctx, tx, user1, user2, callType); err != nil {
			return nil, err
		}
		if err := o.queue.DeleteMatched(ctx, tx, userID, cand.UserID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("matching: commit pairing: %w", err)
		}

		return &Match{
			RoomID:   session.RoomID(userID, cand.UserID),
			UserID:   userID,
			PeerID:   cand.UserID,
			CallType: callType,
		}, nil
	}

	return nil, nil
}

// retryableTxError reports whether err is a Postgres serialization failure or
// deadlock abort. Two users searching for each other at the same time lock
// queue rows in opposite orders, so one transaction may be chosen as the
// deadlock victim while the other completes the match.
func retryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// EndSession tears down the user's participation: their queue row is removed
// regardless, and if a peer is given the open call session between them is
// finalized with the reason. Ending an already-ended session is a no-op.
func (o *Orchestrator) EndSession(ctx context.Context, userID, peerID int64, reason string) error {
	if err := o.queue.Dequeue(ctx, userID); err != nil {
		return err
	}
	if peerID == 0 {
		return nil
	}
	if _, err := o.ledger.Finish(ctx, userID, peerID, reason); err != nil {
		return err
	}
	return nil
}
