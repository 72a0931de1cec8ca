package hivehttp

import (
	"net/http"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/notebook"
	"github.com/colonyops/hive/internal/store"
)

// NotebookHandler exposes page CRUD plus the live editing socket. REST
// writes to content are allowed but race against active editing sessions;
// they overwrite the persisted snapshot without touching the live document.
type NotebookHandler struct {
	gate    *Gate
	pages   store.NotebookStore
	manager *notebook.Manager
	ws      *notebook.WSHandler
}

// NewNotebookHandler creates the notebook endpoints.
func NewNotebookHandler(gate *Gate, pages store.NotebookStore, manager *notebook.Manager, ws *notebook.WSHandler) *NotebookHandler {
	return &NotebookHandler{gate: gate, pages: pages, manager: manager, ws: ws}
}

// RegisterRoutes registers notebook routes on the mux.
func (h *NotebookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notebook/pages", h.gate.Authed(h.handleList))
	mux.HandleFunc("POST /api/notebook/pages", h.gate.Authed(h.handleCreate))
	mux.HandleFunc("GET /api/notebook/pages/{id}", h.gate.Authed(h.handleGet))
	mux.HandleFunc("PATCH /api/notebook/pages/{id}", h.gate.Authed(h.handleUpdate))
	mux.HandleFunc("POST /api/notebook/pages/{id}/archive", h.gate.Authed(h.handleArchive))
	mux.HandleFunc("DELETE /api/notebook/pages/{id}", h.gate.Authed(h.handleDelete))

	// The socket authenticates via ?token= itself; rate limiting happens on
	// the upgrade request like any other GET.
	mux.Handle("GET /api/notebook/ws", h.ws)
}

func (h *NotebookHandler) handleList(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	pages, err := h.pages.ListVisible(r.Context(), ac.Identity)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "page list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (h *NotebookHandler) handleCreate(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		Title       string     `json:"title"`
		Content     string     `json:"content"`
		TaggedUsers []string   `json:"taggedUsers"`
		Tags        []string   `json:"tags"`
		ExpiresAt   *time.Time `json:"expiresAt"`
		ReviewAt    *time.Time `json:"reviewAt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Title == "" {
		writeError(w, apperr.New(apperr.BadRequest, "title is required"))
		return
	}
	p := &store.NotebookPage{
		Title:       req.Title,
		Content:     req.Content,
		CreatedBy:   ac.Identity,
		TaggedUsers: req.TaggedUsers,
		Tags:        req.Tags,
		ExpiresAt:   req.ExpiresAt,
		ReviewAt:    req.ReviewAt,
	}
	if err := h.pages.Create(r.Context(), p); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "page create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *NotebookHandler) handleGet(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.pages.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	resp := map[string]any{"page": p, "text": notebook.PageText(p.Content)}
	// A live editing session is fresher than the persisted snapshot.
	if text, ok := h.manager.LiveText(id); ok {
		resp["text"] = text
		resp["live"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NotebookHandler) handleUpdate(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.pages.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}

	var req struct {
		Title       *string   `json:"title"`
		Content     *string   `json:"content"`
		TaggedUsers *[]string `json:"taggedUsers"`
		Tags        *[]string `json:"tags"`
		Locked      *bool     `json:"locked"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Content != nil {
		if p.Locked && p.LockedBy != ac.Identity && !ac.IsAdmin {
			writeError(w, apperr.New(apperr.Forbidden, "Page is locked"))
			return
		}
		if p.ArchivedAt != nil {
			writeError(w, apperr.New(apperr.Forbidden, "Page is archived"))
			return
		}
		updates["content"] = *req.Content
	}
	if req.TaggedUsers != nil {
		updates["tagged_users"] = *req.TaggedUsers
	}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	if req.Locked != nil {
		if p.Locked && p.LockedBy != ac.Identity && !ac.IsAdmin {
			writeError(w, apperr.New(apperr.Forbidden, "Page is locked"))
			return
		}
		updates["locked"] = *req.Locked
		if *req.Locked {
			updates["locked_by"] = ac.Identity
		} else {
			updates["locked_by"] = ""
		}
	}
	if len(updates) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "no fields to update"))
		return
	}

	if err := h.pages.Update(r.Context(), id, updates); err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	p, err = h.pages.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *NotebookHandler) handleArchive(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.pages.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	if p.CreatedBy != ac.Identity && !ac.IsAdmin {
		writeError(w, apperr.New(apperr.Forbidden, "not your page"))
		return
	}
	if err := h.pages.Archive(r.Context(), id, time.Now()); err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true})
}

func (h *NotebookHandler) handleDelete(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.pages.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	if p.CreatedBy != ac.Identity && !ac.IsAdmin {
		writeError(w, apperr.New(apperr.Forbidden, "not your page"))
		return
	}
	if err := h.pages.Delete(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "page"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
