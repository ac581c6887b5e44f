package server

import (
	"context"
	"sync"
	"time"
)

// Hub manages all WebSocket client connections and the room membership
// table. Registration and unregistration run on the Run loop; room
// membership and delivery are guarded by the hub mutex so they can be used
// from the gateway directly.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	metrics    *Metrics
}

// NewHub creates and initializes a new Hub instance. The returned Hub is
// ready to manage WebSocket connections once Run is started.
func NewHub(metrics *Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		metrics:    metrics,
	}
}

// Register hands client to the Run loop, which starts its pumps. It returns
// false when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes client from the hub and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				logger.Warningf("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.metrics.connectionOpened()
			logger.Infof("client %s registered from %s, total clients: %d", client.id, client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// remove drops client from the registry and its room and closes its send
// channel. Removing an unknown client is a no-op.
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	h.leaveLocked(client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.connectionClosed()
	logger.Infof("client %s unregistered from %s, total clients: %d", client.id, client.addr, clientCount)
}

// Join places client in the broadcast group of roomID. A client belongs to
// at most one room.
func (h *Hub) Join(client *Client, roomID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.leaveLocked(client)
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[client] = struct{}{}
	client.roomID = roomID
}

// Leave removes client from its broadcast group, if any.
func (h *Hub) Leave(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.leaveLocked(client)
}

func (h *Hub) leaveLocked(client *Client) {
	if client.roomID == "" {
		return
	}
	if members, ok := h.rooms[client.roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.roomID)
		}
	}
	client.roomID = ""
}

// RoomSize returns the number of live connections in roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomID])
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every member of roomID and returns the number
// of clients it reached. Members whose buffers are full are dropped.
func (h *Hub) Broadcast(roomID string, payload []byte) int {
	members := h.roomSnapshot(roomID)
	logger.Tracef("broadcasting to %d clients in room %s", len(members), roomID)

	var failed []*Client
	delivered := 0
	for _, client := range members {
		if h.SendTo(client, payload) {
			delivered++
			continue
		}
		failed = append(failed, client)
	}
	h.removeFailedClients(failed)
	return delivered
}

// SendTo queues payload for a single client. It returns false if the client
// is gone or its buffer is full.
func (h *Hub) SendTo(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recovered from panic in SendTo: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) roomSnapshot(roomID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := h.rooms[roomID]
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	for _, client := range clientsToRemove {
		if !h.isRegistered(client) {
			continue
		}
		logger.Warningf("client %s from %s removed due to full send buffer", client.id, client.addr)
		h.remove(client)
	}
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[client]
}

// shutdownClients closes every connection and send channel.
func (h *Hub) shutdownClients() {
	logger.Infof("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				logger.Warningf("error closing client connection from %s: %v", client.addr, err)
			}
		}
		h.remove(client)
	}

	logger.Infof("closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logger.Infof("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		logger.Warningf("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
