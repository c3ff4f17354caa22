package middleware

import (
	"net/http"
	"time"
)

type logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Remembers the first status sent and counts body bytes
type statusRecorder struct {
	http.ResponseWriter
	status  int
	size    int
	written bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.written {
		rec.status = code
		rec.written = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(p []byte) (int, error) {
	rec.written = true
	n, err := rec.ResponseWriter.Write(p)
	rec.size += n
	return n, err
}

// One record per request, 5xx responses at error level
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log := l.Info
			if rec.status >= http.StatusInternalServerError {
				log = l.Error
			}
			log("got HTTP request",
				"method", r.Method,
				"uri", r.RequestURI,
				"duration", time.Since(started),
				"status", rec.status,
				"size", rec.size,
			)
		})
	}
}
