package hivehttp

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/ingest"
	"github.com/colonyops/hive/internal/store"
)

// BroadcastHandler exposes ingest webhook management, event history and the
// public capability-URL ingest endpoint.
type BroadcastHandler struct {
	gate      *Gate
	broadcast store.BroadcastStore
	ingest    *ingest.Service
}

// NewBroadcastHandler creates the broadcast endpoints.
func NewBroadcastHandler(gate *Gate, broadcast store.BroadcastStore, svc *ingest.Service) *BroadcastHandler {
	return &BroadcastHandler{gate: gate, broadcast: broadcast, ingest: svc}
}

// RegisterRoutes registers broadcast routes on the mux.
func (h *BroadcastHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/broadcast/webhooks", h.gate.Authed(h.handleListWebhooks))
	mux.HandleFunc("POST /api/broadcast/webhooks", h.gate.Admin(h.handleCreateWebhook))
	mux.HandleFunc("PATCH /api/broadcast/webhooks/{id}", h.gate.Admin(h.handleUpdateWebhook))
	mux.HandleFunc("DELETE /api/broadcast/webhooks/{id}", h.gate.Admin(h.handleDeleteWebhook))
	mux.HandleFunc("GET /api/broadcast/events", h.gate.Authed(h.handleListEvents))

	// Public: the (appName, token) pair in the path is the credential.
	mux.HandleFunc("POST /api/ingest/{appName}/{token}", h.gate.Public(h.handleIngest))
}

func (h *BroadcastHandler) handleListWebhooks(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	hooks, err := h.broadcast.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "webhook list failed", err))
		return
	}
	// Only admins see the capability tokens.
	if !ac.IsAdmin {
		for i := range hooks {
			hooks[i].Token = ""
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (h *BroadcastHandler) handleCreateWebhook(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		AppName     string `json:"appName"`
		Title       string `json:"title"`
		ForUsers    string `json:"forUsers"`
		WakeAgent   string `json:"wakeAgent"`
		NotifyAgent string `json:"notifyAgent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	appName := strings.ToLower(req.AppName)
	if err := store.ValidateIdentity(appName); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "appName must be a slug"))
		return
	}
	wh := &store.BroadcastWebhook{
		AppName:     appName,
		Token:       store.NewShortToken(),
		Title:       req.Title,
		Owner:       ac.Identity,
		ForUsers:    req.ForUsers,
		WakeAgent:   strings.ToLower(req.WakeAgent),
		NotifyAgent: strings.ToLower(req.NotifyAgent),
		Enabled:     true,
	}
	if err := h.broadcast.CreateWebhook(r.Context(), wh); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "webhook create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook":   wh,
		"ingestUrl": "/api/ingest/" + wh.AppName + "/" + wh.Token,
	})
}

func (h *BroadcastHandler) handleUpdateWebhook(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Title       *string `json:"title"`
		ForUsers    *string `json:"forUsers"`
		WakeAgent   *string `json:"wakeAgent"`
		NotifyAgent *string `json:"notifyAgent"`
		Enabled     *bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.ForUsers != nil {
		updates["for_users"] = *req.ForUsers
	}
	if req.WakeAgent != nil {
		updates["wake_agent"] = strings.ToLower(*req.WakeAgent)
	}
	if req.NotifyAgent != nil {
		updates["notify_agent"] = strings.ToLower(*req.NotifyAgent)
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "no fields to update"))
		return
	}
	if err := h.broadcast.UpdateWebhook(r.Context(), id, updates); err != nil {
		writeError(w, storeErr(err, "webhook"))
		return
	}
	wh, err := h.broadcast.GetWebhookByID(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "webhook"))
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *BroadcastHandler) handleDeleteWebhook(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.broadcast.DeleteWebhook(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "webhook"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *BroadcastHandler) handleListEvents(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	q := r.URL.Query()
	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	events, err := h.broadcast.ListEvents(r.Context(), q.Get("appName"), limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "event list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleIngest accepts arbitrary bodies. JSON bodies may override title and
// body; anything else is stored verbatim as bodyText.
func (h *BroadcastHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	r.Body.Close()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.BadRequest, "unreadable body", err))
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, apperr.New(apperr.PayloadTooLarge, "body too large"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}

	p := ingest.Payload{ContentType: contentType}
	if isJSONContent(contentType, body) {
		var fields struct {
			Title    string `json:"title"`
			Body     string `json:"body"`
			BodyText string `json:"bodyText"`
			ForUsers string `json:"forUsers"`
		}
		if json.Unmarshal(body, &fields) == nil {
			p.Title = fields.Title
			p.BodyText = fields.Body
			if p.BodyText == "" {
				p.BodyText = fields.BodyText
			}
			p.ForUsers = fields.ForUsers
		}
		p.BodyJSON = json.RawMessage(body)
	} else if len(body) > 0 {
		p.BodyText = string(body)
	}

	res, err := h.ingest.Ingest(r.Context(), r.PathValue("appName"), r.PathValue("token"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"eventId":    res.EventID,
		"suppressed": res.Suppressed,
	})
}

// isJSONContent treats declared JSON as JSON and falls back to sniffing an
// object or array start for senders that omit the header.
func isJSONContent(contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return json.Valid(body)
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	return json.Valid([]byte(trimmed))
}
