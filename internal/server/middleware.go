package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
)

// Context key types to avoid collisions
type contextKey string

const contextKeyPrincipal contextKey = "principal"

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Service) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("http request")
	})
}

// RequireAuth resolves the caller from a bearer token, falling back to the
// encrypted access token cookie, and stores the Principal in the context.
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.accessToken(r)
		if token == "" {
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "missing access token"})
			return
		}

		principal, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.logger.WithError(err).Debug("failed to verify access token")
			s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "invalid access token"})
			return
		}

		s.logger.WithFields(logrus.Fields{
			"user_id": principal.UserID,
			"role":    principal.Role,
		}).Debug("authenticated user")

		ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) accessToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if s.cookie == nil {
		return ""
	}

	cookie, err := r.Cookie(s.config.CookieName)
	if err != nil {
		return ""
	}

	var token string
	if err := s.cookie.Decode(s.config.CookieName, cookie.Value, &token); err != nil {
		s.logger.WithError(err).Debug("failed to decrypt access token cookie")
		return ""
	}
	return token
}

func principalFromContext(ctx context.Context) types.Principal {
	principal, _ := ctx.Value(contextKeyPrincipal).(types.Principal)
	return principal
}

// StripTrailingSlash redirects to the canonical path. Non-GET requests get a
// 308 so clients replay the method and body.
func (s *Service) StripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path != "/" && strings.HasSuffix(path, "/") {
			newURL := *r.URL
			newURL.Path = strings.TrimSuffix(path, "/")

			code := http.StatusPermanentRedirect
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				code = http.StatusMovedPermanently
			}

			http.Redirect(w, r, newURL.String(), code)
			return
		}

		next.ServeHTTP(w, r)
	})
}
