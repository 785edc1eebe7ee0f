// Package response writes every API reply in the same JSON envelope.
package response

import (
	"encoding/json"
	"net/http"
	"time"
)

type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
	Pagination interface{} `json:"pagination,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// Page is what paginated endpoints hand to Paginated.
type Page interface {
	Items() interface{}
	Meta() interface{}
}

var now = time.Now

func JSON(w http.ResponseWriter, status int, env Envelope) {
	env.Timestamp = now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(env)
	if err != nil {
		http.Error(w, `{"success":false,"message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func Success(w http.ResponseWriter, message string, data interface{}) {
	JSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func Created(w http.ResponseWriter, message string, data interface{}) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

func Paginated(w http.ResponseWriter, message string, page Page) {
	JSON(w, http.StatusOK, Envelope{
		Success:    true,
		Message:    message,
		Data:       page.Items(),
		Pagination: page.Meta(),
	})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Internal server error"
	}
	JSON(w, http.StatusInternalServerError, Envelope{Message: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, Envelope{Message: message})
}

func ValidationError(w http.ResponseWriter, errs []string) {
	JSON(w, http.StatusBadRequest, Envelope{Message: "Validation failed", Errors: errs})
}

func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	JSON(w, http.StatusNotFound, Envelope{Message: message})
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Unauthorized"
	}
	JSON(w, http.StatusUnauthorized, Envelope{Message: message})
}

func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Forbidden"
	}
	JSON(w, http.StatusForbidden, Envelope{Message: message})
}

func Conflict(w http.ResponseWriter, message string) {
	JSON(w, http.StatusConflict, Envelope{Message: message})
}

func TooManyRequests(w http.ResponseWriter, message string) {
	JSON(w, http.StatusTooManyRequests, Envelope{Message: message})
}
