// Package ingest accepts external broadcast events, deduplicates repeats
// inside a cooldown window and fans accepted events out to the bus and to
// wake-registered agents.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/webhook"
)

// recentWindow caps how many prior events are checked for a repeat.
const recentWindow = 50

// Payload is one inbound event body.
type Payload struct {
	Title       string          `json:"title"`
	BodyText    string          `json:"bodyText,omitempty"`
	BodyJSON    json.RawMessage `json:"bodyJson,omitempty"`
	ForUsers    string          `json:"forUsers,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
}

// Result reports what happened to an inbound event.
type Result struct {
	Status     string    `json:"status"` // "accepted" or "suppressed"
	EventID    string    `json:"eventId,omitempty"`
	Suppressed bool      `json:"suppressed"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Service ingests events for registered webhooks.
type Service struct {
	broadcast  store.BroadcastStore
	bus        *bus.Bus
	dispatcher *webhook.Dispatcher
	cooldown   time.Duration
	now        func() time.Time
}

// New creates an ingest service. cooldown is the repeat-suppression window.
func New(broadcast store.BroadcastStore, b *bus.Bus, d *webhook.Dispatcher, cooldown time.Duration) *Service {
	return &Service{
		broadcast:  broadcast,
		bus:        b,
		dispatcher: d,
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Ingest authenticates the (appName, token) pair, applies the cooldown
// filter and stores plus fans out the event when accepted.
func (s *Service) Ingest(ctx context.Context, appName, token string, p Payload) (*Result, error) {
	wh, err := s.broadcast.GetWebhook(ctx, appName, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "unknown webhook")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "webhook lookup failed", err)
	}
	if !wh.Enabled {
		return nil, apperr.New(apperr.Forbidden, "webhook disabled")
	}
	if p.Title == "" {
		p.Title = wh.Title
	}
	if p.Title == "" {
		return nil, apperr.New(apperr.BadRequest, "title is required")
	}

	now := s.now()
	if err := s.broadcast.TouchWebhook(ctx, wh.ID, now); err != nil {
		slog.Debug("lastHitAt update failed", "webhook", wh.AppName, "error", err)
	}

	sig := Signature(p)
	recent, err := s.broadcast.RecentEvents(ctx, wh.ID, recentWindow)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "recent events lookup failed", err)
	}
	for _, prev := range recent {
		if now.Sub(prev.ReceivedAt) >= s.cooldown {
			break // newest-first: everything after is older still
		}
		if Signature(Payload{
			Title:       prev.Title,
			BodyText:    prev.BodyText,
			BodyJSON:    prev.BodyJSON,
			ForUsers:    prev.ForUsers,
			ContentType: prev.ContentType,
		}) == sig {
			return &Result{Status: "suppressed", EventID: prev.ID.String(), Suppressed: true, ReceivedAt: now}, nil
		}
	}

	forUsers := p.ForUsers
	if forUsers == "" {
		forUsers = wh.ForUsers
	}
	ev := &store.BroadcastEvent{
		WebhookID:   wh.ID,
		AppName:     wh.AppName,
		Title:       p.Title,
		ForUsers:    forUsers,
		ContentType: p.ContentType,
		BodyText:    p.BodyText,
		BodyJSON:    p.BodyJSON,
		ReceivedAt:  now,
	}
	if err := s.broadcast.InsertEvent(ctx, ev); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "event insert failed", err)
	}

	s.bus.Emit(bus.ChannelBroadcast, bus.NewEvent(bus.EventBroadcast, "", ev))
	if wh.WakeAgent != "" {
		s.bus.EmitWakeTrigger(wh.WakeAgent)
		s.dispatcher.Notify(wh.WakeAgent, "broadcast event from "+wh.AppName+": "+p.Title)
	}
	if wh.NotifyAgent != "" && wh.NotifyAgent != wh.WakeAgent {
		s.bus.EmitWakeTrigger(wh.NotifyAgent)
	}

	return &Result{Status: "accepted", EventID: ev.ID.String(), ReceivedAt: now}, nil
}

// Signature is the canonical repeat-detection fingerprint: a hash over the
// content fields with JSON objects key-sorted, so formatting and key order
// differences do not defeat the cooldown.
func Signature(p Payload) string {
	h := sha256.New()
	parts := []string{p.Title, p.BodyText, canonicalJSON(p.BodyJSON), p.ForUsers, p.ContentType}
	for _, part := range parts {
		var n [8]byte
		l := len(part)
		for i := 0; i < 8; i++ {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON re-renders a JSON value with object keys sorted at every
// level. Invalid or empty input canonicalizes to the raw bytes.
func canonicalJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := marshalCanonical(v)
	if err != nil {
		return string(raw)
	}
	return out
}

func marshalCanonical(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return "", err
			}
			vb, err := marshalCanonical(t[k])
			if err != nil {
				return "", err
			}
			out += string(kb) + ":" + vb
		}
		return out + "}", nil
	case []any:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			eb, err := marshalCanonical(e)
			if err != nil {
				return "", err
			}
			out += eb
		}
		return out + "]", nil
	default:
		b, err := json.Marshal(t)
		return string(b), err
	}
}
