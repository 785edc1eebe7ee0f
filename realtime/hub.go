// Package realtime runs the WebSocket layer: task rooms for live chat,
// typing and presence, plus direct delivery to a user's connections.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"taskflow/logger"
	"taskflow/metrics"
	"taskflow/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNotInRoom  = errors.New("not in task room")
	ErrForbidden  = errors.New("no access to task")
	ErrHubStopped = errors.New("hub stopped")
)

const presenceTimeout = 2 * time.Second

// AccessChecker decides whether a user may join a task's room.
type AccessChecker interface {
	CanAccessTask(ctx context.Context, userID, taskID uuid.UUID) (bool, error)
}

// MessageStore persists chat messages before they are broadcast.
type MessageStore interface {
	SaveMessage(ctx context.Context, taskID, userID uuid.UUID, message string) (*models.TaskChat, error)
}

type Options struct {
	AllowedOrigins []string
}

type room map[*Client]struct{}

// Hub owns every connection. Disconnects are serialised through Run; room
// membership is guarded by mu so handlers can publish from any goroutine.
type Hub struct {
	unregister chan *Client
	stopped    chan struct{}

	mu      sync.RWMutex
	closed  bool
	clients map[*Client]struct{}
	rooms   map[uuid.UUID]room
	users   map[uuid.UUID]map[*Client]struct{}

	access   AccessChecker
	messages MessageStore
	presence Presence
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewHub(access AccessChecker, messages MessageStore, presence Presence, log *logger.Logger, opts Options) *Hub {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	h := &Hub{
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[uuid.UUID]room),
		users:      make(map[uuid.UUID]map[*Client]struct{}),
		access:     access,
		messages:   messages,
		presence:   presence,
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// originChecker accepts listed origins. A "*" entry only widens the check
// to same-host origins, since the upgrade carries the session cookie.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
			continue
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set[origin] {
			return true
		}
		if !wildcard {
			return false
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Run processes registrations until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.unregister:
			h.remove(ctx, client)

		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
				close(client.send)
				metrics.WSDisconnected()
			}
			h.rooms = make(map[uuid.UUID]room)
			h.users = make(map[uuid.UUID]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// add registers a client. It fails once the hub has stopped.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	conns, ok := h.users[client.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[client.UserID] = conns
	}
	conns[client] = struct{}{}

	metrics.WSConnected()
	h.log.Debug("WebSocket client connected", "user_id", client.UserID)
	return true
}

// remove drops a client from every room and index. It is the only place a
// client's send channel is closed.
func (h *Hub) remove(ctx context.Context, client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	left := make([]uuid.UUID, 0, len(client.rooms))
	for taskID := range client.rooms {
		h.leaveRoomLocked(client, taskID)
		left = append(left, taskID)
	}

	if conns, ok := h.users[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.UserID)
		}
	}

	close(client.send)
	h.mu.Unlock()

	metrics.WSDisconnected()
	h.log.Debug("WebSocket client disconnected", "user_id", client.UserID)

	for _, taskID := range left {
		h.announceLeave(ctx, client, taskID)
	}
}

// presenceContext bounds a presence round trip so a slow backend cannot
// hold up the caller.
func presenceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, presenceTimeout)
}

// Join adds the client to a task room after checking access, and announces
// the current presence to everyone in the room, the joiner included.
func (h *Hub) Join(ctx context.Context, client *Client, taskID uuid.UUID) error {
	ok, err := h.access.CanAccessTask(ctx, client.UserID, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}

	h.mu.Lock()
	if _, registered := h.clients[client]; !registered {
		h.mu.Unlock()
		return ErrHubStopped
	}
	_, rejoin := client.rooms[taskID]
	r, exists := h.rooms[taskID]
	if !exists {
		r = make(room)
		h.rooms[taskID] = r
	}
	r[client] = struct{}{}
	client.rooms[taskID] = struct{}{}
	h.mu.Unlock()

	pctx, cancel := presenceContext(ctx)
	defer cancel()

	if !rejoin {
		if err := h.presence.Join(pctx, taskID, client.user()); err != nil {
			h.log.Warn("Failed to record presence", "task_id", taskID, "error", err)
		}
	}
	online, err := h.presence.Online(pctx, taskID)
	if err != nil {
		h.log.Warn("Failed to read presence", "task_id", taskID, "error", err)
		h.mu.RLock()
		online = h.roomUsersLocked(taskID)
		h.mu.RUnlock()
	}

	h.BroadcastToTask(taskID, EventUserJoined, UserEvent{
		TaskID:      taskID.String(),
		UserID:      client.UserID.String(),
		UserName:    client.UserName,
		OnlineUsers: online,
	})
	return nil
}

func (h *Hub) Leave(ctx context.Context, client *Client, taskID uuid.UUID) error {
	h.mu.Lock()
	if _, ok := client.rooms[taskID]; !ok {
		h.mu.Unlock()
		return ErrNotInRoom
	}
	h.leaveRoomLocked(client, taskID)
	h.mu.Unlock()

	h.announceLeave(ctx, client, taskID)
	return nil
}

func (h *Hub) leaveRoomLocked(client *Client, taskID uuid.UUID) {
	delete(client.rooms, taskID)

	r := h.rooms[taskID]
	delete(r, client)
	if len(r) == 0 {
		delete(h.rooms, taskID)
	}
}

// announceLeave releases the connection's presence and tells the room.
func (h *Hub) announceLeave(ctx context.Context, client *Client, taskID uuid.UUID) {
	pctx, cancel := presenceContext(ctx)
	defer cancel()
	if err := h.presence.Leave(pctx, taskID, client.user()); err != nil {
		h.log.Warn("Failed to clear presence", "task_id", taskID, "error", err)
	}

	h.BroadcastToTask(taskID, EventUserLeft, UserEvent{
		TaskID:   taskID.String(),
		UserID:   client.UserID.String(),
		UserName: client.UserName,
	})
}

func (h *Hub) roomUsersLocked(taskID uuid.UUID) []OnlineUser {
	seen := make(map[uuid.UUID]bool)
	var out []OnlineUser
	for c := range h.rooms[taskID] {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			out = append(out, c.user())
		}
	}
	sortUsers(out)
	return out
}

// InRoom reports whether the client has joined the task.
func (h *Hub) InRoom(client *Client, taskID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.rooms[taskID]
	return ok
}

// Online lists the users currently viewing a task.
func (h *Hub) Online(ctx context.Context, taskID uuid.UUID) ([]OnlineUser, error) {
	return h.presence.Online(ctx, taskID)
}

// BroadcastToTask sends an event to every connection in the task's room.
func (h *Hub) BroadcastToTask(taskID uuid.UUID, event string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(taskID, nil, event, data)
}

// broadcastExcept skips the sender's own connection.
func (h *Hub) broadcastExcept(taskID uuid.UUID, except *Client, event string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(taskID, except, event, data)
}

func (h *Hub) broadcastLocked(taskID uuid.UUID, except *Client, event string, data interface{}) {
	r := h.rooms[taskID]
	if len(r) == 0 {
		return
	}
	msg, err := encode(event, data)
	if err != nil {
		h.log.Error("Failed to encode event", "event", event, "error", err)
		return
	}
	for c := range r {
		if c != except {
			c.deliver(msg)
		}
	}
}

// SendToUser delivers an event to all of a user's connections. It returns
// false when the user has none.
func (h *Hub) SendToUser(userID uuid.UUID, event string, data interface{}) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.users[userID]
	if len(conns) == 0 {
		return false
	}
	msg, err := encode(event, data)
	if err != nil {
		h.log.Error("Failed to encode event", "event", event, "error", err)
		return false
	}
	for c := range conns {
		c.deliver(msg)
	}
	return true
}

// IsUserConnected reports whether the user has at least one live connection.
func (h *Hub) IsUserConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ServeWS upgrades the request and starts the client's pumps. The caller
// has already authenticated the user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID, userName string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.log.WithContext(r.Context()).Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn, userID, userName)
	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
