package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/DishantPal/meetmingle-api/internal/billing"
	"github.com/DishantPal/meetmingle-api/internal/calls"
	"github.com/DishantPal/meetmingle-api/internal/matching"
	"github.com/DishantPal/meetmingle-api/internal/metrics"
	"github.com/DishantPal/meetmingle-api/internal/notify"
	"github.com/DishantPal/meetmingle-api/internal/protocol"
	"github.com/DishantPal/meetmingle-api/internal/queue"
	"github.com/DishantPal/meetmingle-api/internal/ratelimit"
	"github.com/DishantPal/meetmingle-api/internal/session"
	"github.com/DishantPal/meetmingle-api/internal/suspend"
	"github.com/DishantPal/meetmingle-api/internal/ws"
)

const handlerTimeout = 10 * time.Second

// app holds the wired components the message handlers operate on.
type app struct {
	server       *ws.Server
	registry     *session.Registry
	orchestrator *matching.Orchestrator
	queue        *queue.Store
	ledger       *calls.Ledger
	limiter      *ratelimit.Limiter
	publisher    *notify.Publisher
	suspensions  *suspend.Store
}

// registerHandlers binds every supported client message type to its handler.
func (a *app) registerHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeFindMatch, a.handleFindMatch)
	d.Register(protocol.TypeWebRTCSignal, func(c *ws.Connection, m interface{}) {
		a.handleSignal(c, m, protocol.TypeWebRTCSignal, "webrtc")
	})
	d.Register(protocol.TypeIceCandidate, func(c *ws.Connection, m interface{}) {
		a.handleSignal(c, m, protocol.TypeIceCandidate, "ice")
	})
	d.Register(protocol.TypeExchangeData, a.handleExchangeData)
	d.Register(protocol.TypeEndSession, a.handleEndSession)
}

// -----------------------------------------------------------------------
// findMatch — enter the matching queue and try to pair immediately
// -----------------------------------------------------------------------
func (a *app) handleFindMatch(conn *ws.Connection, msg interface{}) {
	findMsg, ok := msg.(protocol.FindMatchMsg)
	if !ok {
		return
	}
	if !a.limiter.Allow(context.Background(), ratelimit.RuleFindMatch, conn.UserID) {
		a.sendError(conn, "rate_limited", "too many match requests, slow down")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	ageMin, ageMax, err := queue.ParseAgeRange(findMsg.Filters.Age)
	if err != nil {
		a.sendError(conn, "invalid_filters", "malformed age range")
		return
	}
	filters := queue.Filters{
		Gender:   findMsg.Filters.Gender,
		Language: findMsg.Filters.PreferredLanguage,
		Country:  findMsg.Filters.Country,
		State:    findMsg.Filters.State,
		AgeMin:   ageMin,
		AgeMax:   ageMax,
	}

	start := time.Now()
	match, err := a.orchestrator.FindMatch(ctx, conn.UserID, findMsg.CallType, filters, findMsg.Filters.Interests)
	metrics.MatchSearchDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, matching.ErrInvalidCallType):
		a.sendError(conn, "invalid_call_type", "call type must be video or audio")
		return
	case errors.Is(err, queue.ErrAlreadyQueued):
		a.sendError(conn, "already_queued", "a match search is already in progress")
		return
	case errors.Is(err, billing.ErrInsufficientBalance):
		a.sendError(conn, "insufficient_balance", "not enough coins for the selected filters")
		return
	case err != nil:
		log.Printf("[match] findMatch user=%d: %v", conn.UserID, err)
		a.sendError(conn, "internal_error", "matching failed, try again")
		return
	}

	if match == nil {
		// No compatible counterpart yet; the user stays queued and will be
		// picked up by a later search from the other side.
		return
	}

	a.registry.JoinRoom(match.UserID, match.RoomID)
	a.registry.JoinRoom(match.PeerID, match.RoomID)

	initiator := match.Initiator()
	a.sendStartSignaling(match.UserID, match.PeerID, match, initiator)
	a.sendStartSignaling(match.PeerID, match.UserID, match, initiator)

	metrics.MatchesTotal.WithLabelValues(match.CallType).Inc()
	metrics.ActiveCalls.Inc()
	a.publisher.MatchCreated(notify.MatchCreatedEvent{
		RoomID:   match.RoomID,
		User1ID:  match.UserID,
		User2ID:  match.PeerID,
		CallType: match.CallType,
		At:       time.Now().UTC(),
	})
	log.Printf("[match] paired user=%d with user=%d room=%s type=%s",
		match.UserID, match.PeerID, match.RoomID, match.CallType)
}

func (a *app) sendStartSignaling(to, peer int64, match *matching.Match, initiator int64) {
	data, err := protocol.NewServerMessage(protocol.TypeStartSignaling, protocol.StartSignalingMsg{
		RoomID:            match.RoomID,
		UserID:            peer,
		CallType:          match.CallType,
		CanStartSignaling: to == initiator,
	})
	if err != nil {
		log.Printf("[match] build startSignaling for user=%d: %v", to, err)
		return
	}
	if err := a.server.SendToUser(to, data); err != nil {
		log.Printf("[match] send startSignaling to user=%d: %v", to, err)
	}
}

// -----------------------------------------------------------------------
// webrtcSignal / exchangeIceCandidate — relay opaque signaling payloads
// -----------------------------------------------------------------------
func (a *app) handleSignal(conn *ws.Connection, msg interface{}, msgType, kind string) {
	sigMsg, ok := msg.(protocol.SignalMsg)
	if !ok {
		return
	}
	if !a.limiter.Allow(context.Background(), ratelimit.RuleSignal, conn.UserID) {
		a.sendError(conn, "rate_limited", "too many signaling messages")
		return
	}

	// Relay failures are silent drops: the sender gets no delivery
	// guarantee and no bounce.
	roomID, peerID := a.resolveTarget(conn.UserID, sigMsg.RoomID, sigMsg.To)
	if peerID == 0 {
		log.Printf("[signal] drop %s from user=%d: no active room", kind, conn.UserID)
		return
	}

	data, err := protocol.NewServerMessage(msgType, protocol.RelayedSignalMsg{
		Signal:     sigMsg.Signal,
		RoomID:     roomID,
		From:       conn.UserID,
		SignalType: sigMsg.SignalType,
	})
	if err != nil {
		log.Printf("[signal] build relay user=%d: %v", conn.UserID, err)
		return
	}
	if err := a.server.SendToUser(peerID, data); err != nil {
		log.Printf("[signal] drop %s from user=%d: peer %d not connected", kind, conn.UserID, peerID)
		return
	}
	metrics.SignalsRelayed.WithLabelValues(kind).Inc()
}

// -----------------------------------------------------------------------
// exchangeData — relay the opaque in-call data channel
// -----------------------------------------------------------------------
func (a *app) handleExchangeData(conn *ws.Connection, msg interface{}) {
	dataMsg, ok := msg.(protocol.ExchangeDataMsg)
	if !ok {
		return
	}
	if !a.limiter.Allow(context.Background(), ratelimit.RuleSignal, conn.UserID) {
		a.sendError(conn, "rate_limited", "too many signaling messages")
		return
	}

	roomID, peerID := a.resolveTarget(conn.UserID, dataMsg.RoomID, dataMsg.To)
	if peerID == 0 {
		log.Printf("[signal] drop data from user=%d: no active room", conn.UserID)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeExchangeData, protocol.RelayedSignalMsg{
		Data:   dataMsg.Data,
		RoomID: roomID,
		From:   conn.UserID,
	})
	if err != nil {
		log.Printf("[signal] build data relay user=%d: %v", conn.UserID, err)
		return
	}
	if err := a.server.SendToUser(peerID, data); err != nil {
		log.Printf("[signal] drop data from user=%d: peer %d not connected", conn.UserID, peerID)
		return
	}
	metrics.SignalsRelayed.WithLabelValues("data").Inc()
}

// resolveTarget determines the room and destination peer for a relayed
// message. The sender must actually be in the room it names; a missing room
// id falls back to the sender's active room.
func (a *app) resolveTarget(userID int64, roomID string, to int64) (string, int64) {
	active := a.registry.Room(userID)
	if roomID == "" {
		roomID = active
	}
	if roomID == "" || roomID != active {
		return "", 0
	}

	peerID := session.Peer(roomID, userID)
	if peerID == 0 {
		return "", 0
	}
	if to != 0 && to != peerID {
		return "", 0
	}
	return roomID, peerID
}

// -----------------------------------------------------------------------
// endSession — leave the queue or terminate the active call
// -----------------------------------------------------------------------
func (a *app) handleEndSession(conn *ws.Connection, msg interface{}) {
	endMsg, ok := msg.(protocol.EndSessionMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	roomID, peerID := a.endTarget(conn.UserID, endMsg.RoomID)

	if err := a.orchestrator.EndSession(ctx, conn.UserID, peerID, calls.ReasonUserEnded); err != nil {
		log.Printf("[session] end user=%d: %v", conn.UserID, err)
	}

	if roomID != "" {
		a.registry.LeaveRoom(conn.UserID)
	}
	if peerID != 0 {
		a.registry.LeaveRoom(peerID)
		metrics.ActiveCalls.Dec()

		data, err := protocol.NewServerMessage(protocol.TypeEndSession, protocol.SessionEndedMsg{
			UserID: conn.UserID,
			Reason: calls.ReasonUserEnded,
		})
		if err == nil {
			if err := a.server.SendToUser(peerID, data); err != nil {
				log.Printf("[session] notify peer=%d: %v", peerID, err)
			}
		}

		a.publisher.CallEnded(notify.CallEndedEvent{
			RoomID:  roomID,
			EndedBy: conn.UserID,
			PeerID:  peerID,
			Reason:  calls.ReasonUserEnded,
			At:      time.Now().UTC(),
		})
	}

	// Acknowledge to the caller so the client can reset its UI state.
	if data, err := protocol.NewServerMessage(protocol.TypeEndSession, protocol.SessionEndedMsg{
		Reason: "self_ended",
	}); err == nil {
		_ = conn.WriteMessage(data)
	}
}

// endTarget resolves which room an endSession request actually terminates.
// Only the caller's own room binding may be ended; a request naming any other
// room degrades to queue removal alone, so a client cannot tear down a call
// it is not part of.
func (a *app) endTarget(userID int64, claimed string) (string, int64) {
	active := a.registry.Room(userID)
	if active == "" {
		return "", 0
	}
	if claimed != "" && claimed != active {
		return "", 0
	}
	return active, session.Peer(active, userID)
}

// -----------------------------------------------------------------------
// connection lifecycle
// -----------------------------------------------------------------------

// onConnect rejects suspended users, then binds the fresh connection into
// the session registry. A previous connection for the same user was already
// closed by the socket layer; the registry bind makes this one the routing
// target. The suspension check fails open on Redis trouble.
func (a *app) onConnect(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	suspended, remaining, reason, err := a.suspensions.IsSuspended(ctx, conn.UserID)
	if err != nil {
		log.Printf("[suspend] check user=%d: %v", conn.UserID, err)
	} else if suspended {
		log.Printf("[suspend] rejected user=%d reason=%q remaining=%s",
			conn.UserID, reason, remaining.Round(time.Second))
		a.sendError(conn, "suspended", "account temporarily suspended")
		a.server.RemoveConnection(conn)
		return
	}

	a.registry.Bind(conn.UserID, conn)
}

// onDisconnect tears down everything tied to a dropped connection: queue
// entry, open call session, peer notification, and the registry binding.
func (a *app) onDisconnect(conn *ws.Connection) {
	roomID := a.registry.Room(conn.UserID)

	if !a.registry.Unbind(conn.UserID, conn) {
		// A newer connection already replaced this one; nothing to clean up.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	peerID := session.Peer(roomID, conn.UserID)
	if err := a.orchestrator.EndSession(ctx, conn.UserID, peerID, calls.ReasonDisconnected); err != nil {
		log.Printf("[session] disconnect cleanup user=%d: %v", conn.UserID, err)
	}

	if peerID != 0 {
		a.registry.LeaveRoom(peerID)
		metrics.ActiveCalls.Dec()

		data, err := protocol.NewServerMessage(protocol.TypeEndSession, protocol.SessionEndedMsg{
			UserID: conn.UserID,
			Reason: calls.ReasonDisconnected,
		})
		if err == nil {
			if err := a.server.SendToUser(peerID, data); err != nil {
				log.Printf("[session] notify peer=%d of disconnect: %v", peerID, err)
			}
		}

		a.publisher.CallEnded(notify.CallEndedEvent{
			RoomID:  roomID,
			EndedBy: conn.UserID,
			PeerID:  peerID,
			Reason:  calls.ReasonDisconnected,
			At:      time.Now().UTC(),
		})
	}

	a.publisher.UserDisconnected(notify.UserDisconnectedEvent{
		UserID: conn.UserID,
		At:     time.Now().UTC(),
	})
}

func (a *app) sendError(conn *ws.Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("[ws] build error message user=%d: %v", conn.UserID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[ws] send error message user=%d: %v", conn.UserID, err)
	}
}
