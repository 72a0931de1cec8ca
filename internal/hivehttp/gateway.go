package hivehttp

import (
	"net/http"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/wake"
)

// GatewayHandler exposes presence, wake and the skill documentation pages.
type GatewayHandler struct {
	gate     *Gate
	presence *presence.Tracker
	messages store.MessageStore
	users    store.UserStore
	wake     *wake.Service
}

// NewGatewayHandler creates the presence and wake endpoints.
func NewGatewayHandler(gate *Gate, tracker *presence.Tracker, st *store.Stores, wakeSvc *wake.Service) *GatewayHandler {
	return &GatewayHandler{gate: gate, presence: tracker, messages: st.Messages, users: st.Users, wake: wakeSvc}
}

// RegisterRoutes registers gateway routes on the mux.
func (h *GatewayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/presence", h.gate.Authed(h.handlePresence))
	mux.HandleFunc("GET /api/wake", h.gate.Authed(h.handleWake))
	mux.HandleFunc("GET /api/skills/{category}", h.gate.Authed(h.handleSkill))
}

// presenceEntry is one identity's row in the presence answer.
type presenceEntry struct {
	Online   bool   `json:"online"`
	LastSeen string `json:"lastSeen,omitempty"`
	Source   string `json:"source,omitempty"`
	Unread   int    `json:"unread"`
}

func (h *GatewayHandler) handlePresence(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	users, err := h.users.List(r.Context(), false)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "user list failed", err))
		return
	}

	seen := make(map[string]presence.Entry)
	for _, e := range h.presence.Snapshot() {
		seen[e.Identity] = e
	}

	out := make(map[string]presenceEntry, len(users))
	add := func(identity string) {
		entry := presenceEntry{}
		if e, ok := seen[identity]; ok {
			entry.Online = e.Online
			entry.Source = e.Source
			entry.LastSeen = e.LastSeenAt.UTC().Format(time.RFC3339)
		}
		unread, err := h.messages.CountUnread(r.Context(), identity)
		if err == nil {
			entry.Unread = unread
		}
		out[identity] = entry
	}
	for _, u := range users {
		add(u.ID)
	}
	// Identities seen on the wire but missing a user row still show up.
	for identity := range seen {
		if _, ok := out[identity]; !ok {
			add(identity)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *GatewayHandler) handleWake(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	opts := wake.Options{IncludeOffHours: r.URL.Query().Get("includeOffHours") == "true"}
	resp, err := h.wake.Wake(r.Context(), ac.Identity, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *GatewayHandler) handleSkill(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	doc, ok := skillDocs[r.PathValue("category")]
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "unknown skill"))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}

// skillDocs are the how-to pages wake actions link to. Agents fetch these to
// learn the follow-up calls for each action kind.
var skillDocs = map[string]string{
	"mailbox": `# Mailbox

List your mail with GET /api/mailboxes/me/messages?status=unread.
Acknowledge a message with POST /api/mailboxes/me/messages/{id}/ack.
Reply with POST /api/mailboxes/me/messages/{id}/reply {"body": "..."}.
If you cannot answer now, POST .../pending to commit to a follow-up and
DELETE .../pending once delivered. Open commitments reappear in every wake.
`,
	"swarm": `# Swarm tasks

GET /api/swarm/tasks?assignee=you lists your queue in working order.
Move a task with POST /api/swarm/tasks/{id}/status {"status": "in_progress"}.
Set "complete" when done; attach findings via PATCH {"followUp": "..."}.
Workflows on GET /api/swarm/tasks/{id}/workflows describe how the work is done.
`,
	"broadcast": `# Broadcast alerts

A buzz action means an external system fired an alert at you. It is shown
exactly once; act on it now. Create a ready swarm task to investigate:
POST /api/swarm/tasks {"title": "...", "status": "ready"}.
Recent history: GET /api/broadcast/events?appName=...
`,
	"backup": `# Backup duty

You are named backup for an agent that has gone quiet past its stale
threshold. Check their queue with GET /api/swarm/tasks?assignee=them and
notify the team with a message or chat. Take over in-progress work if the
outage looks real.
`,
	"chat": `# Chat

GET /api/chat/channels lists your rooms with unread counts.
POST /api/chat/channels {"type": "dm", "with": "identity"} opens a DM.
Send with POST /api/chat/channels/{id}/messages {"body": "..."} and mark
read with POST /api/chat/channels/{id}/read.
`,
	"notebook": `# Notebook

GET /api/notebook/pages lists pages shared with you. For live co-editing
connect a WebSocket to /api/notebook/ws?page={id}&token={bearer}. REST
PATCH on content overwrites the snapshot and loses concurrent edits.
`,
}
