// Package session tracks which users are connected to this server process
// and which call room, if any, each one is in. The registry is process-local
// and ephemeral: entries are created on connect and destroyed on disconnect,
// never persisted. It is the single source of truth the signal relay uses to
// route payloads.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Conn is the live connection handle bound to an authenticated user. The
// WebSocket layer's connection type satisfies it; keeping the registry behind
// this interface lets the matching and relay logic be tested without a
// network.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Registry maps authenticated user ids to their live connection and their
// active room. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Conn
	rooms map[int64]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[int64]Conn),
		rooms: make(map[int64]string),
	}
}

// Bind associates a user with a live connection. If the user already has a
// connection (reconnect before the old one was torn down), the previous
// handle is returned so the caller can close it; otherwise nil.
func (r *Registry) Bind(userID int64, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if prev == conn {
		return nil
	}
	return prev
}

// Unbind removes the user's connection mapping, but only if it still points
// at the given handle — a stale disconnect must not evict a fresh reconnect.
// The room binding is cleared alongside. Returns true if the entry was removed.
func (r *Registry) Unbind(userID int64, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, userID)
	delete(r.rooms, userID)
	return true
}

// Get returns the user's live connection, or nil if not connected.
func (r *Registry) Get(userID int64) Conn {
	r.mu.RLock()
	conn := r.conns[userID]
	r.mu.RUnlock()
	return conn
}

// Connected reports whether the user has a live connection.
func (r *Registry) Connected(userID int64) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

// JoinRoom records that the user is in the given room.
func (r *Registry) JoinRoom(userID int64, roomID string) {
	r.mu.Lock()
	r.rooms[userID] = roomID
	r.mu.Unlock()
}

// Room returns the user's active room id, or "" if not in a room.
func (r *Registry) Room(userID int64) string {
	r.mu.RLock()
	room := r.rooms[userID]
	r.mu.RUnlock()
	return room
}

// LeaveRoom clears the user's room binding.
func (r *Registry) LeaveRoom(userID int64) {
	r.mu.Lock()
	delete(r.rooms, userID)
	r.mu.Unlock()
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of connected user ids.
func (r *Registry) All() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	return ids
}

// RoomID derives the deterministic room identifier for a pair of users. The
// smaller id always comes first, so either participant can compute the same
// id independently.
func RoomID(a, b int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("match_%d_%d", a, b)
}

// ParseRoomID extracts the two participant ids from a room identifier.
func ParseRoomID(roomID string) (int64, int64, error) {
	parts := strings.Split(roomID, "_")
	if len(parts) != 3 || parts[0] != "match" {
		return 0, 0, fmt.Errorf("session: malformed room id %q", roomID)
	}
	a, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("session: malformed room id %q", roomID)
	}
	b, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("session: malformed room id %q", roomID)
	}
	return a, b, nil
}

// Peer returns the other participant of roomID from the perspective of
// userID. It returns 0 when the user is not part of the room.
func Peer(roomID string, userID int64) int64 {
	a, b, err := ParseRoomID(roomID)
	if err != nil {
		return 0
	}
	switch userID {
	case a:
		return b
	case b:
		return a
	}
	return 0
}
