package realtime

import (
	"encoding/json"
)

// Client to server.
const (
	EventJoinTask    = "join_task"
	EventLeaveTask   = "leave_task"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Server to client.
const (
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventNewMessage        = "new_message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventTaskNotification  = "task_notification"
	EventTaskUpdated       = "task_updated"
	EventMemberChanged     = "member_changed"
	EventError             = "error"
)

// MaxMessageLength is the longest chat message accepted, in characters.
const MaxMessageLength = 4000

// Frame is the envelope of every message on the socket, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outgoing{Event: event, Data: data})
}

type TaskRef struct {
	TaskID string `json:"taskId"`
}

type SendMessagePayload struct {
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

type OnlineUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserEvent struct {
	TaskID      string       `json:"taskId"`
	UserID      string       `json:"userId"`
	UserName    string       `json:"userName"`
	OnlineUsers []OnlineUser `json:"onlineUsers,omitempty"`
}

type MessageDeleted struct {
	TaskID    string `json:"taskId"`
	MessageID string `json:"messageId"`
}

type TaskUpdated struct {
	TaskID string      `json:"taskId"`
	Task   interface{} `json:"task"`
}

type MemberChanged struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
	Action string `json:"action"`
	Role   string `json:"role,omitempty"`
}

type Notification struct {
	Notification interface{} `json:"notification"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
