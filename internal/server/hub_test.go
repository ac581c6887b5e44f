package server

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

func newTestClient(id string, buffer int) *Client {
	return &Client{id: id, send: make(chan []byte, buffer), session: &Session{ID: id}}
}

// attach registers client without starting its pumps.
func attach(h *Hub, clients ...*Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, client := range clients {
		client.hub = h
		h.clients[client] = true
	}
}

func TestHubJoinAndLeave(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	a, b, d := newTestClient("a", 4), newTestClient("b", 4), newTestClient("d", 4)
	attach(h, a, b, d)

	h.Join(a, "r1")
	h.Join(b, "r1")
	h.Join(d, "r2")
	c.Assert(h.RoomSize("r1"), qt.Equals, 2)
	c.Assert(h.RoomSize("r2"), qt.Equals, 1)
	c.Assert(h.ClientCount(), qt.Equals, 3)

	h.Join(b, "r2")
	c.Assert(h.RoomSize("r1"), qt.Equals, 1)
	c.Assert(h.RoomSize("r2"), qt.Equals, 2)

	h.Leave(a)
	h.Leave(a)
	c.Assert(h.RoomSize("r1"), qt.Equals, 0)
	c.Assert(a.roomID, qt.Equals, "")
	_, exists := h.rooms["r1"]
	c.Assert(exists, qt.IsFalse)
}

func TestHubBroadcastReachesOnlyRoomMembers(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	a, b, outsider := newTestClient("a", 4), newTestClient("b", 4), newTestClient("o", 4)
	attach(h, a, b, outsider)
	h.Join(a, "r1")
	h.Join(b, "r1")
	h.Join(outsider, "r2")

	c.Assert(h.Broadcast("r1", []byte("hello")), qt.Equals, 2)
	c.Assert(string(<-a.send), qt.Equals, "hello")
	c.Assert(string(<-b.send), qt.Equals, "hello")
	c.Assert(outsider.send, qt.HasLen, 0)

	c.Assert(h.Broadcast("empty", []byte("nobody")), qt.Equals, 0)
}

func TestHubBroadcastDropsSlowClients(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	fast, slow := newTestClient("fast", 4), newTestClient("slow", 1)
	attach(h, fast, slow)
	h.Join(fast, "r")
	h.Join(slow, "r")

	c.Assert(h.Broadcast("r", []byte("one")), qt.Equals, 2)
	c.Assert(h.Broadcast("r", []byte("two")), qt.Equals, 1)

	c.Assert(h.ClientCount(), qt.Equals, 1)
	c.Assert(h.RoomSize("r"), qt.Equals, 1)
	c.Assert(string(<-slow.send), qt.Equals, "one")
	_, open := <-slow.send
	c.Assert(open, qt.IsFalse)

	c.Assert(h.SendTo(slow, []byte("three")), qt.IsFalse)
}

func TestHubSendToUnregisteredClient(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	stranger := newTestClient("x", 1)
	c.Assert(h.SendTo(stranger, []byte("hi")), qt.IsFalse)
	c.Assert(stranger.send, qt.HasLen, 0)
}

func TestHubRemoveIsIdempotent(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	a := newTestClient("a", 1)
	attach(h, a)
	h.Join(a, "r")

	h.remove(a)
	h.remove(a)
	c.Assert(h.ClientCount(), qt.Equals, 0)
	c.Assert(h.RoomSize("r"), qt.Equals, 0)
}

func TestHubShutdownWithoutClients(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	go h.Run()

	c.Assert(h.Shutdown(time.Second), qt.IsNil)
	c.Assert(h.Register(newTestClient("late", 1)), qt.IsFalse)
}

func TestHubShutdownClosesAttachedClients(t *testing.T) {
	c := qt.New(t)
	h := NewHub(nil)
	a := newTestClient("a", 1)
	attach(h, a)
	h.Join(a, "r")
	go h.Run()

	c.Assert(h.Shutdown(time.Second), qt.IsNil)
	_, open := <-a.send
	c.Assert(open, qt.IsFalse)
	c.Assert(h.ClientCount(), qt.Equals, 0)

	done := make(chan struct{})
	go func() {
		h.Unregister(a)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("Unregister blocked after shutdown")
	}
}

func TestSessionState(t *testing.T) {
	c := qt.New(t)
	s := &Session{ID: "s"}
	c.Assert(s.State(), qt.Equals, StateConnected)
	s.User = &identity.Identity{ID: "u", Name: "Ann"}
	c.Assert(s.State(), qt.Equals, StateAuthenticated)
	s.Room = &rooms.Room{ID: "r", Slug: "general"}
	c.Assert(s.State(), qt.Equals, StateInRoom)
	c.Assert(s.State().String(), qt.Equals, "in-room")
	s.disconnected = true
	c.Assert(s.State(), qt.Equals, StateDisconnected)
	c.Assert(SessionState(42).String(), qt.Equals, "unknown")
}
