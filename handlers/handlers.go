// Package handlers implements the JSON API. Every handler validates its
// input, checks team membership, delegates to gorm and replies with the
// response envelope.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"taskflow/config"
	"taskflow/database"
	"taskflow/logger"
	"taskflow/middleware"
	"taskflow/models"
	"taskflow/notifier"
	"taskflow/query"
	"taskflow/realtime"
	"taskflow/response"
	"taskflow/upload"
	"taskflow/validation"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Broadcaster publishes events to the WebSocket rooms of tasks.
type Broadcaster interface {
	BroadcastToTask(taskID uuid.UUID, event string, data interface{})
	Online(ctx context.Context, taskID uuid.UUID) ([]realtime.OnlineUser, error)
}

// Notifier records notifications for users.
type Notifier interface {
	Notify(ctx context.Context, req notifier.Request) (*models.Notification, error)
	NotifyUsers(ctx context.Context, userIDs []*uuid.UUID, skip uuid.UUID, req notifier.Request)
}

// Mailer sends templated email.
type Mailer interface {
	SendTemplate(ctx context.Context, to, subject, name string, data interface{}) error
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Config   *config.Config
	Hub      Broadcaster
	Notifier Notifier
	Mailer   Mailer
	Store    upload.Store
	Log      *logger.Logger
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// forbiddenError carries the message shown to the caller.
type forbiddenError struct {
	msg string
}

func (e *forbiddenError) Error() string { return e.msg }

func forbidden(msg string) error {
	return &forbiddenError{msg: msg}
}

// badRequestError is a client mistake detected after validation.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}

// fail maps err onto the envelope. Anything unexpected is logged and
// reported as a generic 500.
func (d Deps) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	var fe *forbiddenError
	var be *badRequestError
	switch {
	case errors.As(err, &fe):
		response.Forbidden(w, fe.msg)
	case errors.As(err, &be):
		response.BadRequest(w, be.msg)
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.NotFound(w, notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		response.Conflict(w, "Resource already exists")
	default:
		d.Log.WithContext(r.Context()).WithUser(middleware.GetUserID(r.Context())).
			Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, "")
	}
}

func db(r *http.Request) *gorm.DB {
	return database.GetDB().WithContext(r.Context())
}

func currentUser(r *http.Request) *models.User {
	return middleware.GetUserFromContext(r.Context())
}

// pathID parses the chi URL parameter name as a UUID, replying 400 when it
// is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.BadRequest(w, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if errs := validation.DecodeAndValidate(r, dst); len(errs) > 0 {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func listParams(w http.ResponseWriter, r *http.Request, opts query.Options) (query.Params, bool) {
	p, err := query.ParseParams(r, opts)
	if err != nil {
		response.BadRequest(w, err.Error())
		return query.Params{}, false
	}
	return p, true
}

// optionalID parses an already validated optional UUID string.
func optionalID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

// activity appends an audit row. Failures are logged and never fail the
// request that caused them.
func (d Deps) activity(r *http.Request, entry models.ActivityLog) {
	if user := currentUser(r); user != nil {
		entry.UserID = &user.ID
	}
	entry.IPAddress = r.RemoteAddr
	if err := db(r).Create(&entry).Error; err != nil {
		d.Log.WithContext(r.Context()).Warn("Failed to record activity",
			"entity_type", entry.EntityType, "entity_id", entry.EntityID, "action", entry.Action, "error", err)
	}
}

func (d Deps) notifyUsers(r *http.Request, ids []*uuid.UUID, req notifier.Request) {
	if d.Notifier == nil {
		return
	}
	var actor uuid.UUID
	if user := currentUser(r); user != nil {
		actor = user.ID
	}
	d.Notifier.NotifyUsers(r.Context(), ids, actor, req)
}

func (d Deps) broadcast(taskID uuid.UUID, event string, data interface{}) {
	if d.Hub != nil {
		d.Hub.BroadcastToTask(taskID, event, data)
	}
}
