package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"epoch-crank/internal/crank"
	"epoch-crank/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware gives every request a fresh id, exposed in the
// response header and carried in the context down to the run history.
func requestIDMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id := uuid.NewString()
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, req.WithContext(crank.WithRequestID(req.Context(), id)))
		})
	}
}

// loggingMiddleware logs the method, uri, duration and response code of
// each request and feeds the request metrics.
func loggingMiddleware(logger zerolog.Logger, m metrics.HTTPMetrics) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			respWriter := newResponseWriter(w)
			handler.ServeHTTP(respWriter, req)

			name := "unmatched"
			if r := mux.CurrentRoute(req); r != nil && r.GetName() != "" {
				name = r.GetName()
			}
			m.HTTPRequest(name, respWriter.statusCode, time.Since(start))

			ev := logger.Info()
			if respWriter.statusCode >= http.StatusInternalServerError {
				ev = logger.Error()
			} else if respWriter.statusCode >= http.StatusBadRequest {
				ev = logger.Warn()
			}
			ev.Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("route", name).
				Str("request_id", crank.RequestID(req.Context())).
				Str("client_ip", req.RemoteAddr).
				Dur("duration", time.Since(start)).
				Int("response_code", respWriter.statusCode).
				Msg("api")
		})
	}
}

// bearerAuthMiddleware refuses requests whose Authorization header does not
// carry the configured secret.
func bearerAuthMiddleware(secret string, logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !authorized(req.Header.Get("Authorization"), secret) {
				logger.Warn().Str("uri", req.RequestURI).Str("request_id", crank.RequestID(req.Context())).Msg("unauthorized trigger")
				writeError(w, req, http.StatusUnauthorized, "AuthError", "Unauthorized")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func authorized(header, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) == 1
}

// recoveryMiddleware turns a handler panic into the 500 error body. When the
// handler already started its response only the log line is written.
func recoveryMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				logger.Error().Interface("panic", p).Str("stack", string(debug.Stack())).
					Str("uri", req.RequestURI).Str("request_id", crank.RequestID(req.Context())).Msg("handler panicked")
				if rw, ok := w.(*responseWriter); ok && rw.wroteHeader {
					return
				}
				writeError(w, req, http.StatusInternalServerError, "InternalError", fmt.Sprintf("internal error: %v", p))
			}()
			next.ServeHTTP(w, req)
		})
	}
}

// responseWriter captures the response code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
