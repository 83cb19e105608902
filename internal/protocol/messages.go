// Package protocol defines the WebSocket message types exchanged between the
// client and the matching/signaling server. All messages are JSON with a
// "type" discriminator; signaling payloads (SDP, ICE) are carried as opaque
// raw JSON and never interpreted by the server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeFindMatch    = "findMatch"
	TypeWebRTCSignal = "webrtcSignal"
	TypeIceCandidate = "exchangeIceCandidate"
	TypeExchangeData = "exchangeData"
	TypeEndSession   = "endSession"
	TypePing         = "ping"
)

// Server -> Client message types. The relay types mirror their inbound
// counterparts and reuse the same constants.
const (
	TypeStartSignaling = "startSignaling"
	TypeError          = "error"
	TypePong           = "pong"
)

// Envelope captures the type discriminator and the raw bytes for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw message and extracts only the "type"
// field so the payload can be decoded later into the right struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// FilterParams are the optional peer constraints a client may attach to a
// findMatch request. Age is an inclusive "min-max" range string.
type FilterParams struct {
	Gender            string   `json:"gender,omitempty"`
	PreferredLanguage string   `json:"preferred_language,omitempty"`
	Country           string   `json:"country,omitempty"`
	State             string   `json:"state,omitempty"`
	Age               string   `json:"age,omitempty"`
	Interests         []string `json:"interests,omitempty"`
}

// FindMatchMsg asks the server to admit the user to the matching queue and
// attempt an immediate pairing.
type FindMatchMsg struct {
	Type     string       `json:"type"`
	CallType string       `json:"call_type"`
	Filters  FilterParams `json:"filters"`
}

// SignalMsg carries a WebRTC handshake payload (SDP offer/answer) or an ICE
// candidate to the peer identified by To. SignalType distinguishes offer from
// answer; the server routes without inspecting Signal.
type SignalMsg struct {
	Type       string          `json:"type"`
	Signal     json.RawMessage `json:"signal"`
	RoomID     string          `json:"roomId"`
	To         int64           `json:"to"`
	SignalType string          `json:"signalType,omitempty"`
}

// ExchangeDataMsg is the generic opaque data channel between matched peers.
type ExchangeDataMsg struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	RoomID string          `json:"roomId"`
	To     int64           `json:"to"`
}

// EndSessionMsg ends the current call or leaves the matching queue.
type EndSessionMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
}

// PingMsg is a client-initiated keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// StartSignalingMsg tells a client that a match was found. UserID is the
// peer's id; the participant with CanStartSignaling=true (the lower numeric
// user id) creates the WebRTC offer.
type StartSignalingMsg struct {
	Type              string `json:"type"`
	RoomID            string `json:"roomId"`
	UserID            int64  `json:"userId"`
	CallType          string `json:"callType"`
	CanStartSignaling bool   `json:"canStartSignaling"`
}

// RelayedSignalMsg is a signaling payload forwarded to the destination peer,
// relabeled with the sender's id.
type RelayedSignalMsg struct {
	Type       string          `json:"type"`
	Signal     json.RawMessage `json:"signal,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	RoomID     string          `json:"roomId"`
	From       int64           `json:"from"`
	SignalType string          `json:"signalType,omitempty"`
}

// SessionEndedMsg notifies a client that its session ended. UserID is the
// counterpart that caused the termination (zero when self-initiated).
type SessionEndedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId,omitempty"`
	Reason string `json:"reason"`
}

// ErrorMsg communicates a user-visible error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage decodes raw WebSocket bytes into a typed client message.
// It returns the type string, the decoded struct, and any decoding error.
// Server-only and unknown types are rejected.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCSignal, TypeIceCandidate:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeExchangeData:
		var m ExchangeDataMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndSession:
		var m EndSessionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes a server message, injecting msgType under the
// "type" key of the payload.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
