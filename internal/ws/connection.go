package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single authenticated WebSocket client with a write
// mutex for serializing outbound frames.
type Connection struct {
	UserID    int64     // authenticated user, from the JWT at upgrade
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastSeen atomic.Int64 // unix nanos of the last inbound frame
	writeMu  sync.Mutex   // serializes writes to this connection
}

// NewConnection wraps an upgraded network connection for the given user.
func NewConnection(userID int64, conn net.Conn) *Connection {
	c := &Connection{
		UserID:    userID,
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.Touch()
	return c
}

// Touch records inbound activity; the heartbeat monitor uses it to decide
// whether the connection is alive.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last inbound frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection, serialized with application writes by the same mutex.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry mapping user ids to their
// Connection. A user has at most one entry; a reconnect replaces the old one.
type ConnectionManager struct {
	mu     sync.RWMutex
	byUser map[int64]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byUser: make(map[int64]*Connection)}
}

// Add registers a connection for its user and returns the connection it
// replaced, or nil. The caller is responsible for closing the replaced one.
func (cm *ConnectionManager) Add(conn *Connection) *Connection {
	cm.mu.Lock()
	prev := cm.byUser[conn.UserID]
	cm.byUser[conn.UserID] = conn
	cm.mu.Unlock()

	if prev == conn {
		return nil
	}
	return prev
}

// Remove removes the user's entry only if it still points at the given
// connection, so a slow disconnect cannot evict a fresh reconnect. Returns
// true if the entry was removed.
func (cm *ConnectionManager) Remove(conn *Connection) bool {
	cm.mu.Lock()
	current, ok := cm.byUser[conn.UserID]
	if ok && current == conn {
		delete(cm.byUser, conn.UserID)
	} else {
		ok = false
	}
	cm.mu.Unlock()
	return ok
}

// Get returns the connection for the given user id, or nil if not connected.
func (cm *ConnectionManager) Get(userID int64) *Connection {
	cm.mu.RLock()
	conn := cm.byUser[userID]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byUser)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byUser))
	for _, conn := range cm.byUser {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
