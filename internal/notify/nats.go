// Package notify publishes domain lifecycle events to NATS for downstream
// consumers (analytics, moderation review, push services). Publishing is
// fire-and-forget: event delivery never blocks or fails a user-facing
// operation.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Published subjects.
const (
	SubjectMatchCreated     = "match.created"
	SubjectCallEnded        = "call.ended"
	SubjectUserDisconnected = "user.disconnected"
)

// MatchCreatedEvent announces a committed pairing.
type MatchCreatedEvent struct {
	RoomID   string    `json:"roomId"`
	User1ID  int64     `json:"user1Id"`
	User2ID  int64     `json:"user2Id"`
	CallType string    `json:"callType"`
	At       time.Time `json:"at"`
}

// CallEndedEvent announces a finalized call session.
type CallEndedEvent struct {
	RoomID  string    `json:"roomId"`
	EndedBy int64     `json:"endedBy"`
	PeerID  int64     `json:"peerId"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// UserDisconnectedEvent announces a dropped connection.
type UserDisconnectedEvent struct {
	UserID int64     `json:"userId"`
	At     time.Time `json:"at"`
}

// Publisher sends lifecycle events over NATS.
type Publisher struct {
	conn *nats.Conn
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Name:          "meetmingle-api",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewPublisher connects to NATS and returns a ready publisher. The connection
// reconnects automatically; events published while disconnected are buffered
// by the client library.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// MatchCreated publishes a match.created event.
func (p *Publisher) MatchCreated(ev MatchCreatedEvent) {
	p.publish(SubjectMatchCreated, ev)
}

// CallEnded publishes a call.ended event.
func (p *Publisher) CallEnded(ev CallEndedEvent) {
	p.publish(SubjectCallEnded, ev)
}

// UserDisconnected publishes a user.disconnected event.
func (p *Publisher) UserDisconnected(ev UserDisconnectedEvent) {
	p.publish(SubjectUserDisconnected, ev)
}

func (p *Publisher) publish(subject string, ev interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[nats] marshal %s event: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] drain: %v", err)
	}
}
