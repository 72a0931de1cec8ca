package hivehttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/webhook"
)

// ChatHandler exposes DM and group rooms.
type ChatHandler struct {
	gate       *Gate
	chat       store.ChatStore
	bus        *bus.Bus
	dispatcher *webhook.Dispatcher
}

// NewChatHandler creates the chat endpoints.
func NewChatHandler(gate *Gate, chat store.ChatStore, b *bus.Bus, d *webhook.Dispatcher) *ChatHandler {
	return &ChatHandler{gate: gate, chat: chat, bus: b, dispatcher: d}
}

// RegisterRoutes registers chat routes on the mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat/channels", h.gate.Authed(h.handleListChannels))
	mux.HandleFunc("POST /api/chat/channels", h.gate.Authed(h.handleCreateChannel))
	mux.HandleFunc("GET /api/chat/channels/{id}/messages", h.gate.Authed(h.handleListMessages))
	mux.HandleFunc("POST /api/chat/channels/{id}/messages", h.gate.Authed(h.handleSendMessage))
	mux.HandleFunc("POST /api/chat/channels/{id}/read", h.gate.Authed(h.handleMarkRead))
	mux.HandleFunc("POST /api/chat/channels/{id}/typing", h.gate.Authed(h.handleTyping))
}

func (h *ChatHandler) handleListChannels(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	channels, err := h.chat.ListChannels(r.Context(), ac.Identity)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "channel list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (h *ChatHandler) handleCreateChannel(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		Type    string   `json:"type"`
		With    string   `json:"with"`
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	switch req.Type {
	case store.ChannelDM, "":
		other := strings.ToLower(req.With)
		if err := store.ValidateIdentity(other); err != nil || other == ac.Identity {
			writeError(w, apperr.New(apperr.BadRequest, "with must name another identity"))
			return
		}
		ch, created, err := h.chat.GetOrCreateDM(r.Context(), ac.Identity, other)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.Internal, "dm create failed", err))
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, ch)
	case store.ChannelGroup:
		if req.Name == "" {
			writeError(w, apperr.New(apperr.BadRequest, "group needs a name"))
			return
		}
		ch, err := h.chat.CreateGroup(r.Context(), req.Name, ac.Identity, req.Members)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.Internal, "group create failed", err))
			return
		}
		writeJSON(w, http.StatusCreated, ch)
	default:
		writeError(w, apperr.New(apperr.BadRequest, "type must be dm or group"))
	}
}

// memberChannel loads a channel the caller belongs to.
func (h *ChatHandler) memberChannel(r *http.Request, ac *auth.Context) (uuid.UUID, error) {
	id, err := parseID(r, "id")
	if err != nil {
		return uuid.Nil, err
	}
	ok, err := h.chat.IsMember(r.Context(), id, ac.Identity)
	if err != nil {
		return uuid.Nil, storeErr(err, "channel")
	}
	if !ok {
		return uuid.Nil, apperr.New(apperr.NotFound, "channel not found")
	}
	return id, nil
}

func (h *ChatHandler) handleListMessages(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := h.memberChannel(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	var before int64
	if v := q.Get("before"); v != "" {
		before, _ = strconv.ParseInt(v, 10, 64)
	}
	msgs, err := h.chat.ListMessages(r.Context(), id, limit, before)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "message list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *ChatHandler) handleSendMessage(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := h.memberChannel(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Body == "" {
		writeError(w, apperr.New(apperr.BadRequest, "body is required"))
		return
	}

	msg := &store.ChatMessage{ChannelID: id, Sender: ac.Identity, Body: req.Body}
	if err := h.chat.InsertMessage(r.Context(), msg); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "message insert failed", err))
		return
	}
	// Sending implies having read everything up to this point.
	if err := h.chat.MarkRead(r.Context(), id, ac.Identity, msg.CreatedAt); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "read mark failed", err))
		return
	}

	ch, err := h.chat.GetChannel(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "channel"))
		return
	}
	for _, member := range ch.Members {
		if member == ac.Identity {
			continue
		}
		h.bus.Emit(member, bus.NewEvent(bus.EventChatMessage, member, msg))
		h.dispatcher.Notify(member, "chat from "+ac.Identity+": "+req.Body)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (h *ChatHandler) handleMarkRead(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := h.memberChannel(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.chat.MarkRead(r.Context(), id, ac.Identity, time.Now()); err != nil {
		writeError(w, storeErr(err, "channel"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"read": true})
}

func (h *ChatHandler) handleTyping(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := h.memberChannel(r, ac)
	if err != nil {
		writeError(w, err)
		return
	}
	h.bus.Emit(bus.ChannelChat, bus.NewEvent(bus.EventChatTyping, ac.Identity, map[string]string{
		"channelId": id.String(),
		"identity":  ac.Identity,
	}))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
