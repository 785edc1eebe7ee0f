package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"taskflow/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from a peer
	maxFrameSize = 16 * 1024

	sendBuffer = 256

	eventTimeout = 10 * time.Second
)

// Client is one WebSocket connection of an authenticated user.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	UserID   uuid.UUID
	UserName string

	// guarded by hub.mu
	rooms map[uuid.UUID]struct{}

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, userName string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		UserID:   userID,
		UserName: userName,
		rooms:    make(map[uuid.UUID]struct{}),
	}
}

func (c *Client) user() OnlineUser {
	return OnlineUser{UserID: c.UserID.String(), UserName: c.UserName}
}

// deliver queues msg without blocking. A client that cannot keep up is
// disconnected; the read pump then unregisters it.
func (c *Client) deliver(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.hub.log.Warn("Dropping slow WebSocket client", "user_id", c.UserID)
		c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { c.conn.Close() })
}

// reply sends an event to this connection only.
func (c *Client) reply(event string, data interface{}) {
	msg, err := encode(event, data)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.deliver(msg)
	}
}

func (c *Client) replyError(message string) {
	c.reply(EventError, ErrorPayload{Message: message})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.Debug("WebSocket read failed", "user_id", c.UserID, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.replyError("Invalid message format")
			continue
		}
		metrics.RecordWSEvent(frame.Event)

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		c.handle(ctx, frame)
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, frame Frame) {
	switch frame.Event {
	case EventJoinTask:
		taskID, ok := c.taskID(frame.Data)
		if !ok {
			return
		}
		if err := c.hub.Join(ctx, c, taskID); err != nil {
			switch {
			case errors.Is(err, ErrForbidden):
				c.replyError("You do not have access to this task")
			case errors.Is(err, ErrHubStopped):
			default:
				c.hub.log.Error("Failed to join task room", "task_id", taskID, "user_id", c.UserID, "error", err)
				c.replyError("Failed to join task")
			}
		}

	case EventLeaveTask:
		taskID, ok := c.taskID(frame.Data)
		if !ok {
			return
		}
		if err := c.hub.Leave(ctx, c, taskID); err != nil {
			c.replyError("You have not joined this task")
		}

	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			c.replyError("Invalid message payload")
			return
		}
		taskID, err := uuid.Parse(p.TaskID)
		if err != nil {
			c.replyError("Invalid taskId")
			return
		}
		c.sendMessage(ctx, taskID, p.Message)

	case EventTypingStart, EventTypingStop:
		taskID, ok := c.taskID(frame.Data)
		if !ok {
			return
		}
		if !c.hub.InRoom(c, taskID) {
			c.replyError("You have not joined this task")
			return
		}
		event := EventUserTyping
		if frame.Event == EventTypingStop {
			event = EventUserStoppedTyping
		}
		c.hub.broadcastExcept(taskID, c, event, UserEvent{
			TaskID:   taskID.String(),
			UserID:   c.UserID.String(),
			UserName: c.UserName,
		})

	default:
		c.replyError("Unknown event: " + frame.Event)
	}
}

func (c *Client) taskID(data json.RawMessage) (uuid.UUID, bool) {
	var ref TaskRef
	if err := json.Unmarshal(data, &ref); err != nil {
		c.replyError("Invalid message payload")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref.TaskID)
	if err != nil {
		c.replyError("Invalid taskId")
		return uuid.Nil, false
	}
	return id, true
}

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

// ValidateMessage trims a chat message and checks it is neither empty nor
// too long.
func ValidateMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return message, nil
}

// MessageError is the client facing text for a ValidateMessage error.
func MessageError(err error) string {
	if errors.Is(err, ErrMessageTooLong) {
		return fmt.Sprintf("Message cannot exceed %d characters", MaxMessageLength)
	}
	return "Message cannot be empty"
}

func (c *Client) sendMessage(ctx context.Context, taskID uuid.UUID, text string) {
	if !c.hub.InRoom(c, taskID) {
		c.replyError("You have not joined this task")
		return
	}

	text, err := ValidateMessage(text)
	if err != nil {
		c.replyError(MessageError(err))
		return
	}

	msg, err := c.hub.messages.SaveMessage(ctx, taskID, c.UserID, text)
	if err != nil {
		c.hub.log.Error("Failed to save chat message", "task_id", taskID, "user_id", c.UserID, "error", err)
		c.replyError("Failed to send message")
		return
	}

	c.hub.BroadcastToTask(taskID, EventNewMessage, msg)
}
