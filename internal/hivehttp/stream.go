package hivehttp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/wake"
)

const (
	heartbeatEvery = 30 * time.Second
	wakePulseEvery = 30 * time.Minute
	// streamBuffer bounds the per-connection event queue. Bus listeners must
	// never block the emitter, so a full queue drops rather than stalls.
	streamBuffer = 64
)

// StreamHandler serves GET /api/stream as text/event-stream. EventSource
// cannot set headers, so authentication is via the token query parameter.
type StreamHandler struct {
	gate     *Gate
	bus      *bus.Bus
	presence *presence.Tracker
	wake     *wake.Service
}

// NewStreamHandler creates the SSE gateway.
func NewStreamHandler(gate *Gate, b *bus.Bus, tracker *presence.Tracker, wakeSvc *wake.Service) *StreamHandler {
	return &StreamHandler{gate: gate, bus: b, presence: tracker, wake: wakeSvc}
}

// RegisterRoutes registers the stream route on the mux.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stream", h.gate.Authed(h.handleStream))
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	identity := ac.Identity
	events := make(chan bus.Event, streamBuffer)
	pulse := make(chan struct{}, 1)

	enqueue := func(ev bus.Event) {
		select {
		case events <- ev:
		default:
			slog.Debug("stream queue full, event dropped", "identity", identity, "event", ev.Type)
		}
	}

	unsubs := []func(){
		h.bus.Subscribe(identity, enqueue),
		h.bus.Subscribe(bus.ChannelBroadcast, func(ev bus.Event) {
			ev.Type = bus.EventBroadcast
			enqueue(ev)
		}),
		h.bus.Subscribe(bus.ChannelSwarm, enqueue),
		h.bus.Subscribe(bus.ChannelChat, enqueue),
		h.bus.Subscribe(bus.ChannelWake, func(ev bus.Event) {
			if ev.Identity != identity {
				return
			}
			select {
			case pulse <- struct{}{}:
			default:
			}
		}),
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			for _, u := range unsubs {
				u()
			}
			h.presence.StreamDisconnected(identity)
		})
	}
	defer cleanup()

	h.presence.StreamConnected(identity)

	if err := writeSSE(w, flusher, bus.NewEvent(bus.EventConnected, identity, map[string]string{"identity": identity})); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	wakeTicker := time.NewTicker(wakePulseEvery)
	defer wakeTicker.Stop()

	sendWake := func() bool {
		resp, err := h.wake.Wake(r.Context(), identity, wake.Options{})
		if err != nil {
			slog.Warn("stream wake failed", "identity", identity, "error", err)
			return true
		}
		return writeSSE(w, flusher, bus.NewEvent(bus.EventWakePulse, identity, resp)) == nil
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
			h.presence.Touch(identity, presence.SourceSSE)
		case <-wakeTicker.C:
			if !sendWake() {
				return
			}
		case <-pulse:
			if !sendWake() {
				return
			}
		case ev := <-events:
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
		}
	}
}

// writeSSE emits one event in wire framing: an event line, a single-line
// JSON data line, then a blank line.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev bus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
