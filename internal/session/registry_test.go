package session

import (
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestRegistry_BindAndGet(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}

	if prev := r.Bind(42, c); prev != nil {
		t.Errorf("expected no previous connection, got %v", prev)
	}
	if got := r.Get(42); got != Conn(c) {
		t.Errorf("Get returned wrong connection")
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

func TestRegistry_RebindReturnsPrevious(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	fresh := &fakeConn{}

	r.Bind(42, old)
	prev := r.Bind(42, fresh)
	if prev != Conn(old) {
		t.Errorf("expected previous connection back on rebind")
	}
	if got := r.Get(42); got != Conn(fresh) {
		t.Errorf("rebind did not replace the connection")
	}
}

func TestRegistry_UnbindIgnoresStaleHandle(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	fresh := &fakeConn{}

	r.Bind(42, old)
	r.Bind(42, fresh)

	// The old connection's teardown must not evict the new binding.
	if r.Unbind(42, old) {
		t.Error("stale unbind should be a no-op")
	}
	if r.Get(42) == nil {
		t.Fatal("fresh connection was evicted by stale unbind")
	}

	if !r.Unbind(42, fresh) {
		t.Error("current unbind should succeed")
	}
	if r.Get(42) != nil {
		t.Error("connection still present after unbind")
	}
}

func TestRegistry_UnbindClearsRoom(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Bind(1, c)
	r.JoinRoom(1, "match_1_2")

	r.Unbind(1, c)
	if room := r.Room(1); room != "" {
		t.Errorf("room binding should be cleared on unbind, got %q", room)
	}
}

func TestRegistry_Rooms(t *testing.T) {
	r := NewRegistry()
	r.JoinRoom(1, "match_1_2")
	r.JoinRoom(2, "match_1_2")

	if r.Room(1) != "match_1_2" || r.Room(2) != "match_1_2" {
		t.Error("both participants should share the room id")
	}

	r.LeaveRoom(1)
	if r.Room(1) != "" {
		t.Error("LeaveRoom did not clear the binding")
	}
	if r.Room(2) != "match_1_2" {
		t.Error("LeaveRoom must not affect the other participant")
	}
}

func TestRoomID_Deterministic(t *testing.T) {
	if RoomID(7, 3) != RoomID(3, 7) {
		t.Error("room id must not depend on argument order")
	}
	if RoomID(3, 7) != "match_3_7" {
		t.Errorf("unexpected room id: %s", RoomID(3, 7))
	}
}

func TestParseRoomID(t *testing.T) {
	a, b, err := ParseRoomID("match_3_7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != 3 || b != 7 {
		t.Errorf("unexpected ids: %d, %d", a, b)
	}

	if _, _, err := ParseRoomID("room_3_7"); err == nil {
		t.Error("expected error for foreign prefix")
	}
	if _, _, err := ParseRoomID("match_x_7"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestPeer(t *testing.T) {
	if got := Peer("match_3_7", 3); got != 7 {
		t.Errorf("expected peer 7, got %d", got)
	}
	if got := Peer("match_3_7", 7); got != 3 {
		t.Errorf("expected peer 3, got %d", got)
	}
	if got := Peer("match_3_7", 9); got != 0 {
		t.Errorf("expected 0 for non-participant, got %d", got)
	}
}
