package handlers

import (
	"context"
	"net/http"
	"time"

	"taskflow/database"
	"taskflow/response"

	"github.com/google/uuid"
)

// Health reports whether the database answers.
func Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := database.GetDB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		response.JSON(w, http.StatusServiceUnavailable, response.Envelope{
			Message: "Service unavailable",
			Data:    map[string]string{"status": "degraded", "database": "down"},
		})
		return
	}
	response.Success(w, "OK", map[string]string{"status": "ok", "database": "up"})
}

// WSServer upgrades a connection for an authenticated user.
type WSServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID, userName string)
}

// WebSocket hands requests that passed AuthMiddleware to the hub.
func WebSocket(hub WSServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil {
			response.Unauthorized(w, "Authentication required")
			return
		}
		hub.ServeWS(w, r, user.ID, user.DisplayName())
	}
}
