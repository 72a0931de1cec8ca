package notebook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/crdt"
	"github.com/colonyops/hive/internal/store"
)

// Application close codes sent before dropping an editing connection.
const (
	CloseBadParams = 4000 // missing or malformed query parameters
	CloseAuth      = 4001 // missing or invalid token
	CloseNotFound  = 4004 // page does not exist
)

// Frame types exchanged over the editing socket.
const (
	frameSync    = "sync"    // server -> client: full doc state on connect
	frameUpdate  = "update"  // both ways: one opaque update batch
	frameViewers = "viewers" // server -> client: connected editor identities
	frameError   = "error"   // server -> client: rejected update or bad page
)

// frame is the wire shape. Update carries opaque document bytes: the full
// serialized state on sync, one encoded op batch on update.
type frame struct {
	Type    string   `json:"type"`
	Update  []byte   `json:"update,omitempty"`
	Viewers []string `json:"viewers,omitempty"`
	Message string   `json:"message,omitempty"`
}

// WSHandler upgrades editing connections.
type WSHandler struct {
	manager  *Manager
	pages    store.NotebookStore
	auth     *auth.Service
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint for page editing.
func NewWSHandler(manager *Manager, pages store.NotebookStore, authsvc *auth.Service) *WSHandler {
	return &WSHandler{
		manager: manager,
		pages:   pages,
		auth:    authsvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Bearer tokens gate access; browser origin adds nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /api/notebook/ws?page=<id>&token=<bearer>.
// Authentication and page checks happen after the upgrade so the client
// receives a meaningful close code instead of a failed handshake.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ac, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		closeWith(conn, CloseAuth, "unauthorized")
		return
	}

	pageID, err := uuid.Parse(r.URL.Query().Get("page"))
	if err != nil {
		closeWith(conn, CloseBadParams, "missing page parameter")
		return
	}
	_, err = h.pages.Get(r.Context(), pageID)
	if errors.Is(err, store.ErrNotFound) {
		conn.WriteJSON(frame{Type: frameError, Message: "Page not found"})
		closeWith(conn, CloseNotFound, "unknown page")
		return
	}
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, "page load failed")
		return
	}

	// Locked and archived pages are still viewable; refusal happens per
	// update in the read loop.
	sess, err := h.manager.acquire(r.Context(), pageID)
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, "session open failed")
		return
	}

	p := &peer{identity: ac.Identity, send: make(chan []byte, 64)}
	h.manager.attach(sess, p)
	defer func() {
		h.manager.detach(sess, p)
		sess.broadcast(nil, marshalFrame(frame{Type: frameViewers, Viewers: sess.viewers()}))
		conn.Close()
	}()

	snap, err := sess.doc.Snapshot()
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, "snapshot failed")
		return
	}
	if err := conn.WriteJSON(frame{Type: frameSync, Update: snap}); err != nil {
		return
	}
	sess.broadcast(nil, marshalFrame(frame{Type: frameViewers, Viewers: sess.viewers()}))

	go h.writeLoop(conn, p)
	h.readLoop(r.Context(), conn, sess, p, pageID, ac.IsAdmin)
}

// readLoop consumes update frames until the client goes away. Refused
// updates answer with an error frame; the connection stays open so the
// client keeps seeing the page.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session, p *peer, pageID uuid.UUID, isAdmin bool) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != frameUpdate || len(f.Update) == 0 {
			continue
		}

		// The page may have been locked or archived mid-session.
		page, err := h.pages.Get(ctx, pageID)
		if err != nil {
			closeWith(conn, websocket.CloseInternalServerErr, "page load failed")
			return
		}
		if reason := editRefusal(page, p.identity, isAdmin); reason != "" {
			if werr := conn.WriteJSON(frame{Type: frameError, Message: reason}); werr != nil {
				return
			}
			continue
		}

		var ops []crdt.Op
		if err := json.Unmarshal(f.Update, &ops); err != nil || len(ops) == 0 {
			if werr := conn.WriteJSON(frame{Type: frameError, Message: "malformed update"}); werr != nil {
				return
			}
			continue
		}
		if err := h.manager.applyOps(sess, ops); err != nil {
			if werr := conn.WriteJSON(frame{Type: frameError, Message: err.Error()}); werr != nil {
				return
			}
			continue
		}
		sess.broadcast(p, marshalFrame(frame{Type: frameUpdate, Update: f.Update}))
	}
}

// writeLoop pushes queued frames out until the peer's channel closes.
func (h *WSHandler) writeLoop(conn *websocket.Conn, p *peer) {
	for msg := range p.send {
		if msg == nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// editRefusal reports why identity may not edit the page, or "". The lock
// holder and admins keep editing a locked page.
func editRefusal(page *store.NotebookPage, identity string, isAdmin bool) string {
	if page.ArchivedAt != nil {
		return "Page is archived"
	}
	if page.Locked && page.LockedBy != identity && !isAdmin {
		return "Page is locked"
	}
	return ""
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug("close frame write failed", "error", err)
	}
	conn.Close()
}
