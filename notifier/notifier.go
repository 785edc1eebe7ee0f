// Package notifier records in-app notifications and fans them out to live
// WebSocket connections and email.
package notifier

import (
	"context"
	"errors"

	"taskflow/database"
	"taskflow/logger"
	"taskflow/models"
	"taskflow/realtime"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pusher delivers an event to a user's open connections.
type Pusher interface {
	SendToUser(userID uuid.UUID, event string, data interface{}) bool
}

// Mailer sends a templated email.
type Mailer interface {
	SendTemplate(ctx context.Context, to, subject, name string, data interface{}) error
}

// Email is attached to a Request when the notification should also be mailed.
type Email struct {
	Subject  string
	Template string
	Data     interface{}
}

type Request struct {
	UserID     uuid.UUID
	Type       string
	Title      string
	Message    string
	EntityType string
	EntityID   *uuid.UUID
	Email      *Email
}

type Notifier struct {
	pusher Pusher
	mail   Mailer
	log    *logger.Logger
}

func New(pusher Pusher, mail Mailer, log *logger.Logger) *Notifier {
	return &Notifier{pusher: pusher, mail: mail, log: log}
}

// Notify stores the notification and pushes it live. Email is best effort:
// failures are logged and do not fail the call.
func (n *Notifier) Notify(ctx context.Context, req Request) (*models.Notification, error) {
	row := &models.Notification{
		UserID:     req.UserID,
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
	}
	if err := database.GetDB().WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}

	if n.pusher != nil {
		n.pusher.SendToUser(req.UserID, realtime.EventTaskNotification, realtime.Notification{Notification: row})
	}

	if req.Email != nil && n.mail != nil {
		n.email(ctx, req)
	}
	return row, nil
}

// NotifyUsers sends the same notification to each distinct user, skipping
// skip (usually the actor) and nil ids.
func (n *Notifier) NotifyUsers(ctx context.Context, userIDs []*uuid.UUID, skip uuid.UUID, req Request) {
	seen := map[uuid.UUID]bool{skip: true}
	for _, id := range userIDs {
		if id == nil || seen[*id] {
			continue
		}
		seen[*id] = true

		r := req
		r.UserID = *id
		if _, err := n.Notify(ctx, r); err != nil {
			n.log.WithContext(ctx).Error("Failed to create notification", "user_id", *id, "type", req.Type, "error", err)
		}
	}
}

func (n *Notifier) email(ctx context.Context, req Request) {
	log := n.log.WithContext(ctx)
	db := database.GetDB().WithContext(ctx)

	var user models.User
	if err := db.First(&user, "id = ?", req.UserID).Error; err != nil {
		log.Warn("Notification recipient not found", "user_id", req.UserID, "error", err)
		return
	}
	if user.Email == "" || !user.IsActive {
		return
	}

	settings := models.DefaultUserSetting(user.ID)
	err := db.Where("user_id = ?", user.ID).First(&settings).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("Failed to load notification settings", "user_id", user.ID, "error", err)
		return
	}
	if !settings.EmailNotifications {
		return
	}

	if err := n.mail.SendTemplate(ctx, user.Email, req.Email.Subject, req.Email.Template, req.Email.Data); err != nil {
		log.Warn("Notification email not delivered", "user_id", user.ID, "type", req.Type, "error", err)
	}
}
