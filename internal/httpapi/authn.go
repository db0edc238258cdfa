package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/cache"
	"resitrack.org/internal/client"
	"resitrack.org/internal/permission"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth resolves the bearer token into a session: from the session cache
// when possible, otherwise by asking the backend who the token belongs to.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := auth.ExtractBearer(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="resitrack"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := auth.ContextWithToken(r.Context(), token)

		session, err := a.authenticate(ctx, token)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && (apiErr.HTTPStatus == http.StatusUnauthorized || apiErr.HTTPStatus == http.StatusForbidden) {
				err = auth.ErrInvalidToken
			}
			fail(w, r, err)
			return
		}
		if m := metaFromContext(ctx); m != nil {
			m.setUser(session.Username)
		}
		ctx = auth.ContextWithSession(ctx, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authenticate(ctx context.Context, token string) (auth.Session, error) {
	if e, err := a.sessions.Get(ctx, token); err == nil {
		return auth.NewSession(e.Username, e.Service, e.Snapshot), nil
	} else if !errors.Is(err, cache.ErrMiss) {
		a.log.Warn("session cache unavailable", zap.Error(err))
	}

	me, snap, err := a.upstream.Snapshot(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	if strings.TrimSpace(me.Username) == "" {
		return auth.Session{}, auth.ErrInvalidToken
	}
	entry := cache.SessionEntry{Username: me.Username, Service: me.Service, Snapshot: snap}
	if err := a.sessions.Put(ctx, token, entry); err != nil {
		a.log.Warn("session cache write failed", zap.Error(err))
	}
	return auth.NewSession(me.Username, me.Service, snap), nil
}

// require returns the request's session when it holds every key.
func require(r *http.Request, keys ...permission.Key) (auth.Session, error) {
	s, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return auth.Session{}, auth.ErrUnauthorized
	}
	for _, k := range keys {
		if err := s.Require(k); err != nil {
			return auth.Session{}, err
		}
	}
	return s, nil
}

// RequirePermission guards a handler with a single key.
func RequirePermission(key permission.Key, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := require(r, key); err != nil {
			fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
