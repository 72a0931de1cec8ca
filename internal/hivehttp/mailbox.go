package hivehttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/webhook"
)

// defaultPageSize is the mailbox page size when the client does not ask.
const defaultPageSize = 50

// MailboxHandler exposes durable person-to-person messages.
type MailboxHandler struct {
	gate       *Gate
	messages   store.MessageStore
	bus        *bus.Bus
	dispatcher *webhook.Dispatcher
}

// NewMailboxHandler creates the mailbox endpoints.
func NewMailboxHandler(gate *Gate, messages store.MessageStore, b *bus.Bus, d *webhook.Dispatcher) *MailboxHandler {
	return &MailboxHandler{gate: gate, messages: messages, bus: b, dispatcher: d}
}

// RegisterRoutes registers mailbox routes on the mux.
func (h *MailboxHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/mailboxes/me/messages", h.gate.Authed(h.handleList))
	mux.HandleFunc("POST /api/mailboxes/{recipient}/messages", h.gate.Authed(h.handleSend))
	mux.HandleFunc("POST /api/mailboxes/me/messages/{id}/ack", h.gate.Authed(h.handleAck))
	mux.HandleFunc("POST /api/mailboxes/me/messages/{id}/reply", h.gate.Authed(h.handleReply))
	mux.HandleFunc("POST /api/mailboxes/me/messages/{id}/pending", h.gate.Authed(h.handleMarkPending))
	mux.HandleFunc("DELETE /api/mailboxes/me/messages/{id}/pending", h.gate.Authed(h.handleClearPending))
	mux.HandleFunc("GET /api/mailboxes/me/pending", h.gate.Authed(h.handleMyPending))
	mux.HandleFunc("GET /api/mailboxes/me/waiting", h.gate.Authed(h.handleWaiting))
}

func (h *MailboxHandler) handleList(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	q := r.URL.Query()
	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, apperr.New(apperr.BadRequest, "limit must be 1..100"))
			return
		}
		limit = n
	}
	var cursor int64
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, apperr.New(apperr.BadRequest, "invalid cursor"))
			return
		}
		cursor = n
	}

	// Ask for one extra row to learn whether a next page exists.
	msgs, total, err := h.messages.List(r.Context(), ac.Identity, store.MessageListOpts{
		Status: q.Get("status"),
		Limit:  limit + 1,
		Cursor: cursor,
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "message list failed", err))
		return
	}

	resp := map[string]any{"messages": msgs, "total": total}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		resp["messages"] = msgs
		resp["nextCursor"] = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MailboxHandler) handleSend(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	recipient := strings.ToLower(r.PathValue("recipient"))
	if err := store.ValidateIdentity(recipient); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "invalid recipient"))
		return
	}
	var req struct {
		Title     string          `json:"title"`
		Body      string          `json:"body"`
		Urgent    bool            `json:"urgent"`
		DedupeKey string          `json:"dedupeKey"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Title == "" {
		writeError(w, apperr.New(apperr.BadRequest, "title is required"))
		return
	}

	msg, inserted, err := h.messages.Insert(r.Context(), &store.Message{
		Sender:    ac.Identity,
		Recipient: recipient,
		Title:     req.Title,
		Body:      req.Body,
		Status:    store.MessageUnread,
		Urgent:    req.Urgent,
		DedupeKey: req.DedupeKey,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "message insert failed", err))
		return
	}
	if !inserted {
		// Idempotent resend: the earlier row already did the fan-out.
		writeJSON(w, http.StatusOK, map[string]any{"message": msg, "duplicate": true})
		return
	}

	h.bus.Emit(recipient, bus.NewEvent(bus.EventMessage, recipient, msg))
	h.dispatcher.Notify(recipient, "message from "+ac.Identity+": "+msg.Title)
	if msg.Urgent {
		h.bus.EmitWakeTrigger(recipient)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// ownMessage loads the message and checks the caller is its recipient.
func (h *MailboxHandler) ownMessage(r *http.Request, ac *auth.Context) (*store.Message, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return nil, apperr.New(apperr.BadRequest, "invalid message id")
	}
	msg, err := h.messages.Get(r.Context(), id)
	if err != nil {
		return nil, storeErr(err, "message")
	}
	if msg.Recipient != ac.Identity && !ac.IsAdmin {
		// Hide other people's mail rather than admitting it exists.
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	return msg, nil
}

func (h *MailboxHandler) handleAck(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	msg, err := h.ownMessage(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	acked, err := h.messages.Ack(r.Context(), msg.ID, time.Now())
	if err != nil {
		writeError(w, storeErr(err, "message"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": acked})
}

func (h *MailboxHandler) handleReply(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		Body   string `json:"body"`
		Urgent bool   `json:"urgent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	orig, err := h.ownMessage(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	if orig.Recipient != ac.Identity {
		writeError(w, apperr.New(apperr.NotFound, "message not found"))
		return
	}

	threadID := orig.ThreadID
	if threadID == "" {
		threadID = strconv.FormatInt(orig.ID, 10)
	}
	origID := orig.ID
	reply, _, err := h.messages.Insert(r.Context(), &store.Message{
		Sender:           ac.Identity,
		Recipient:        orig.Sender,
		Title:            "Re: " + orig.Title,
		Body:             req.Body,
		Status:           store.MessageUnread,
		Urgent:           req.Urgent,
		ThreadID:         threadID,
		ReplyToMessageID: &origID,
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "reply insert failed", err))
		return
	}

	// Replying discharges any follow-up the caller had committed to.
	if orig.ResponseWaiting && orig.WaitingResponder == ac.Identity {
		if err := h.messages.ClearPending(r.Context(), orig.ID); err != nil {
			writeError(w, apperr.Wrap(apperr.Internal, "pending clear failed", err))
			return
		}
	}

	h.bus.Emit(reply.Recipient, bus.NewEvent(bus.EventMessage, reply.Recipient, reply))
	h.dispatcher.Notify(reply.Recipient, "reply from "+ac.Identity+": "+reply.Title)
	writeJSON(w, http.StatusCreated, map[string]any{"message": reply})
}

func (h *MailboxHandler) handleMarkPending(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		Responder string `json:"responder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.ownMessage(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	responder := req.Responder
	if responder == "" {
		responder = ac.Identity
	}
	if err := h.messages.MarkPending(r.Context(), msg.ID, responder, time.Now()); err != nil {
		writeError(w, storeErr(err, "message"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": true, "responder": responder})
}

func (h *MailboxHandler) handleClearPending(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	msg, err := h.ownMessage(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.messages.ClearPending(r.Context(), msg.ID); err != nil {
		writeError(w, storeErr(err, "message"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": false})
}

func (h *MailboxHandler) handleMyPending(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	msgs, err := h.messages.ListPendingForResponder(r.Context(), ac.Identity)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "pending list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *MailboxHandler) handleWaiting(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	msgs, err := h.messages.ListWaitingOnOthers(r.Context(), ac.Identity)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "waiting list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
