package http

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/truthrank/truthrank/pkg/logger"
)

// UserIDHeader carries the authenticated caller's user id, set by the gateway.
const UserIDHeader = "X-User-ID"

// requestLogger attaches a request-scoped logger to the context, logs the
// completed request and records its metrics under the chi route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := s.logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.deps.Metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(status), elapsed)

		ev := reqLog.Debug()
		switch {
		case status >= 500:
			ev = reqLog.Error()
		case status >= 400:
			ev = reqLog.Warn()
		}
		ev.Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Str("route", route).
			Dur("duration", elapsed).
			Msg("request completed")
	})
}

// recoverer turns a handler panic into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.FromContext(r.Context()).Error().
					Str("panic", fmt.Sprint(rec)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				writeJSONError(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// privileged reports whether the request carries the admin token.
func (s *Server) privileged(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" || s.config.AdminTokenHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.config.AdminTokenHash), []byte(token)) == nil
}

func (s *Server) requirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearerToken(r) == "" {
			writeJSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "bearer token is required")
			return
		}
		if !s.privileged(r) {
			writeJSONError(w, r, http.StatusForbidden, "FORBIDDEN", "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSubjectOrPrivileged lets a user act on their own record only.
func (s *Server) requireSubjectOrPrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(UserIDHeader)
		if caller != "" && caller == chi.URLParam(r, "userID") {
			next.ServeHTTP(w, r)
			return
		}
		if s.privileged(r) {
			next.ServeHTTP(w, r)
			return
		}
		if caller == "" && bearerToken(r) == "" {
			writeJSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "caller identity is required")
			return
		}
		writeJSONError(w, r, http.StatusForbidden, "FORBIDDEN", "caller may not act on this user")
	})
}
