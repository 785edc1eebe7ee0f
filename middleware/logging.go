package middleware

import (
	"net/http"
	"time"

	"taskflow/logger"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one line per request once the handler returns.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			l := log.WithContext(r.Context())

			kv := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			}
			switch {
			case status >= 500:
				l.Error("Request failed", kv...)
			case status >= 400:
				l.Warn("Request rejected", kv...)
			default:
				l.Info("Request handled", kv...)
			}
		})
	}
}
