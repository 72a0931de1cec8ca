// Package hivehttp is Hive's REST and streaming surface. Handlers are small
// structs registering Go 1.22 method-pattern routes on a shared mux; every
// authenticated route runs through the Gate, which resolves the bearer,
// applies rate limits and records presence.
package hivehttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/ratelimit"
	"github.com/colonyops/hive/internal/store"
)

// maxBodyBytes caps request bodies read by decodeJSON.
const maxBodyBytes = 50 << 10

type ctxKey int

const authCtxKey ctxKey = 0

// AuthFrom extracts the resolved caller from a request context. Handlers
// behind Gate.Authed can rely on it being present.
func AuthFrom(ctx context.Context) *auth.Context {
	ac, _ := ctx.Value(authCtxKey).(*auth.Context)
	return ac
}

// Gate wraps handlers with authentication, rate limiting and presence.
type Gate struct {
	Auth     *auth.Service
	Presence *presence.Tracker
	Limiter  *ratelimit.Limiter
}

// Handler is an authenticated endpoint.
type Handler func(w http.ResponseWriter, r *http.Request, ac *auth.Context)

// Public wraps an unauthenticated endpoint with rate limiting keyed by
// client address.
func (g *Gate) Public(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(w, r, "") {
			return
		}
		next(w, r)
	}
}

// Authed resolves the bearer, rate limits by identity and records API
// presence before invoking next.
func (g *Gate) Authed(next Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := g.Auth.Authenticate(r.Context(), BearerFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if !g.allow(w, r, ac.Identity) {
			return
		}
		g.Presence.Touch(ac.Identity, presence.SourceAPI)
		r = r.WithContext(context.WithValue(r.Context(), authCtxKey, ac))
		next(w, r, ac)
	}
}

// Admin is Authed plus an isAdmin check.
func (g *Gate) Admin(next Handler) http.HandlerFunc {
	return g.Authed(func(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
		if !ac.IsAdmin {
			writeError(w, apperr.New(apperr.Forbidden, "Admin required"))
			return
		}
		next(w, r, ac)
	})
}

func (g *Gate) allow(w http.ResponseWriter, r *http.Request, identity string) bool {
	if g.Limiter == nil {
		return true
	}
	d := g.Limiter.Check(r.Method, r.URL.Path, ratelimit.KeyFor(r, identity))
	ratelimit.SetHeaders(w, d)
	if !d.Allowed {
		writeError(w, apperr.New(apperr.TooManyRequests, "rate limit exceeded"))
		return false
	}
	return true
}

// BearerFrom pulls the bearer token from the Authorization header, falling
// back to the token query parameter for EventSource and WebSocket clients
// that cannot set headers.
func BearerFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(h[len("Bearer "):])
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, kind.HTTPStatus(), map[string]string{"error": apperr.MessageOf(err)})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, "unreadable body", err)
	}
	if len(body) > maxBodyBytes {
		return apperr.New(apperr.PayloadTooLarge, "body too large")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Wrap(apperr.BadRequest, "invalid JSON body", err)
	}
	return nil
}

// storeErr maps store misses to NotFound and anything else to Internal.
func storeErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Newf(apperr.NotFound, "%s not found", what)
	}
	return apperr.Wrap(apperr.Internal, what+" lookup failed", err)
}

// parseID parses a path UUID, rejecting malformed values as BadRequest.
func parseID(r *http.Request, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(field))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.BadRequest, "invalid %s", field)
	}
	return id, nil
}
