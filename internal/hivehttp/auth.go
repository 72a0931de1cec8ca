package hivehttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/webhook"
)

// AuthHandler exposes registration, token and invite management plus the
// user directory.
type AuthHandler struct {
	gate       *Gate
	svc        *auth.Service
	users      store.UserStore
	tokens     store.TokenStore
	invites    store.InviteStore
	dispatcher *webhook.Dispatcher
}

// NewAuthHandler creates the identity endpoints.
func NewAuthHandler(gate *Gate, svc *auth.Service, st *store.Stores, d *webhook.Dispatcher) *AuthHandler {
	return &AuthHandler{gate: gate, svc: svc, users: st.Users, tokens: st.Tokens, invites: st.Invites, dispatcher: d}
}

// RegisterRoutes registers identity routes on the mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.gate.Public(h.handleRegister))
	mux.HandleFunc("POST /api/auth/verify", h.gate.Authed(h.handleVerify))

	mux.HandleFunc("GET /api/auth/tokens", h.gate.Authed(h.handleListTokens))
	mux.HandleFunc("POST /api/auth/tokens", h.gate.Admin(h.handleCreateToken))
	mux.HandleFunc("POST /api/auth/tokens/{id}/rotate", h.gate.Authed(h.handleRotateToken))
	mux.HandleFunc("POST /api/auth/tokens/{id}/revoke", h.gate.Authed(h.handleRevokeToken))
	mux.HandleFunc("POST /api/auth/tokens/webhook", h.gate.Authed(h.handleSetWebhook))

	mux.HandleFunc("GET /api/invites", h.gate.Admin(h.handleListInvites))
	mux.HandleFunc("POST /api/invites", h.gate.Admin(h.handleCreateInvite))
	mux.HandleFunc("DELETE /api/invites/{id}", h.gate.Admin(h.handleDeleteInvite))

	mux.HandleFunc("GET /api/users", h.gate.Authed(h.handleListUsers))
	mux.HandleFunc("GET /api/users/{id}", h.gate.Authed(h.handleGetUser))
	mux.HandleFunc("PATCH /api/users/{id}", h.gate.Authed(h.handleUpdateUser))
	mux.HandleFunc("POST /api/users/{id}/archive", h.gate.Admin(h.handleArchiveUser))
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		Identity    string `json:"identity"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.RegisterWithInvite(r.Context(), req.Code, req.Identity, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"identity": res.Identity,
		"token":    res.Token,
		"isAdmin":  res.IsAdmin,
		"message":  "registered; store this token now, it is not shown again",
	})
}

func (h *AuthHandler) handleVerify(w http.ResponseWriter, _ *http.Request, ac *auth.Context) {
	writeJSON(w, http.StatusOK, map[string]any{"identity": ac.Identity, "isAdmin": ac.IsAdmin})
}

func (h *AuthHandler) handleListTokens(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	identity := ac.Identity
	if q := r.URL.Query().Get("identity"); q != "" && q != ac.Identity {
		if !ac.IsAdmin {
			writeError(w, apperr.New(apperr.Forbidden, "Admin required"))
			return
		}
		identity = q
	}
	toks, err := h.tokens.ListByIdentity(r.Context(), identity)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "token list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": toks})
}

func (h *AuthHandler) handleCreateToken(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		Identity       string `json:"identity"`
		Label          string `json:"label"`
		ExpiresInHours int    `json:"expiresInHours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var expires *time.Time
	if req.ExpiresInHours > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		expires = &t
	}
	tok, err := h.svc.CreateToken(r.Context(), req.Identity, req.Label, ac.Identity, expires)
	if err != nil {
		writeError(w, err)
		return
	}
	// The secret is returned exactly once, on creation.
	writeJSON(w, http.StatusCreated, map[string]any{"id": tok.ID, "identity": tok.Identity, "token": tok.Token})
}

func (h *AuthHandler) tokenForOwner(r *http.Request, ac *auth.Context) (*store.Token, error) {
	id, err := parseID(r, "id")
	if err != nil {
		return nil, err
	}
	tok, err := h.tokens.GetByID(r.Context(), id)
	if err != nil {
		return nil, storeErr(err, "token")
	}
	if !ac.IsAdmin && tok.Identity != ac.Identity {
		return nil, apperr.New(apperr.Forbidden, "not your token")
	}
	return tok, nil
}

func (h *AuthHandler) handleRotateToken(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	tok, err := h.tokenForOwner(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.RotateToken(r.Context(), tok.ID, ac.Identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": res.Identity, "token": res.Token})
}

func (h *AuthHandler) handleRevokeToken(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	tok, err := h.tokenForOwner(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.RevokeToken(r.Context(), tok.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// handleSetWebhook binds an outbound wake webhook to the caller's own token.
func (h *AuthHandler) handleSetWebhook(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	if ac.Source != auth.SourceDB {
		writeError(w, apperr.New(apperr.BadRequest, "the bootstrap token has no webhook slot"))
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tok, err := h.tokens.GetByID(r.Context(), ac.TokenID)
	if err != nil {
		writeError(w, storeErr(err, "token"))
		return
	}
	secret := tok.WebhookToken
	if secret == "" {
		secret = store.NewShortToken()
	}
	if err := h.tokens.UpdateWebhook(r.Context(), tok.ID, req.URL, secret); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "webhook update failed", err))
		return
	}
	h.dispatcher.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"webhookUrl": req.URL})
}

func (h *AuthHandler) handleListInvites(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	invites, err := h.invites.List(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "invite list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (h *AuthHandler) handleCreateInvite(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		IdentityHint   string `json:"identityHint"`
		IsAdmin        bool   `json:"isAdmin"`
		MaxUses        int    `json:"maxUses"`
		ExpiresInHours int    `json:"expiresInHours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var ttl time.Duration
	if req.ExpiresInHours > 0 {
		ttl = time.Duration(req.ExpiresInHours) * time.Hour
	}
	inv, err := h.svc.CreateInvite(r.Context(), ac.Identity, req.IdentityHint, req.IsAdmin, req.MaxUses, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *AuthHandler) handleDeleteInvite(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.invites.Delete(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "invite"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *AuthHandler) handleListUsers(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	includeArchived := ac.IsAdmin && r.URL.Query().Get("includeArchived") == "true"
	users, err := h.users.List(r.Context(), includeArchived)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "user list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *AuthHandler) handleGetUser(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storeErr(err, "user"))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) handleUpdateUser(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id := r.PathValue("id")
	if id != ac.Identity && !ac.IsAdmin {
		writeError(w, apperr.New(apperr.Forbidden, "not your profile"))
		return
	}
	var req struct {
		DisplayName *string `json:"displayName"`
		AvatarURL   *string `json:"avatarUrl"`
		IsAdmin     *bool   `json:"isAdmin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "user"))
		return
	}
	if req.DisplayName != nil {
		u.DisplayName = *req.DisplayName
	}
	if req.AvatarURL != nil {
		u.AvatarURL = *req.AvatarURL
	}
	if req.IsAdmin != nil {
		if !ac.IsAdmin {
			writeError(w, apperr.New(apperr.Forbidden, "Admin required"))
			return
		}
		u.IsAdmin = *req.IsAdmin
	}
	if err := h.users.Upsert(r.Context(), u); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "user update failed", err))
		return
	}
	// Admin changes take effect on the next auth resolution.
	h.svc.ClearCache()
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) handleArchiveUser(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id := r.PathValue("id")
	if id == ac.Identity {
		writeError(w, apperr.New(apperr.BadRequest, "cannot archive yourself"))
		return
	}
	if err := h.users.Archive(r.Context(), id, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, apperr.New(apperr.NotFound, "user not found"))
			return
		}
		writeError(w, apperr.Wrap(apperr.Internal, "archive failed", err))
		return
	}
	h.svc.ClearCache()
	writeJSON(w, http.StatusOK, map[string]any{"archived": true})
}
