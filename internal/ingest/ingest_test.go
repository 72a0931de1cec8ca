package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/ssrf"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/mem"
	"github.com/colonyops/hive/internal/webhook"
)

func newTestService(t *testing.T, cooldown time.Duration) (*Service, *store.Stores, *bus.Bus) {
	t.Helper()
	st := mem.New()
	b := bus.New()
	d := webhook.NewDispatcher(st.Tokens, ssrf.NewGuard(nil))
	return New(st.Broadcast, b, d, cooldown), st, b
}

func seedWebhook(t *testing.T, st *store.Stores, wakeAgent string) *store.BroadcastWebhook {
	t.Helper()
	wh := &store.BroadcastWebhook{
		AppName:   "alerts",
		Token:     "hook-token",
		Title:     "Alerts",
		Owner:     "queen",
		WakeAgent: wakeAgent,
		Enabled:   true,
	}
	if err := st.Broadcast.CreateWebhook(context.Background(), wh); err != nil {
		t.Fatal(err)
	}
	return wh
}

func TestIngestAcceptsAndFansOut(t *testing.T) {
	svc, st, b := newTestService(t, 3*time.Hour)
	seedWebhook(t, st, "oncall")
	ctx := context.Background()

	var wakes []string
	b.Subscribe(bus.ChannelWake, func(ev bus.Event) { wakes = append(wakes, ev.Identity) })
	var broadcasts int
	b.Subscribe(bus.ChannelBroadcast, func(bus.Event) { broadcasts++ })

	res, err := svc.Ingest(ctx, "alerts", "hook-token", Payload{Title: "disk full"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Suppressed || res.EventID == "" {
		t.Fatalf("result = %+v, want accepted with id", res)
	}
	if broadcasts != 1 {
		t.Fatalf("broadcast emits = %d, want 1", broadcasts)
	}
	if len(wakes) != 1 || wakes[0] != "oncall" {
		t.Fatalf("wake pulses = %v, want [oncall]", wakes)
	}

	wh, _ := st.Broadcast.GetWebhook(ctx, "alerts", "hook-token")
	if wh.LastHitAt == nil {
		t.Fatal("lastHitAt not touched")
	}
}

func TestIngestRejectsBadCredentials(t *testing.T) {
	svc, st, _ := newTestService(t, 3*time.Hour)
	seedWebhook(t, st, "")
	ctx := context.Background()

	// An unknown (appName, token) pair is a missing capability URL, not a
	// failed login.
	if _, err := svc.Ingest(ctx, "alerts", "wrong", Payload{Title: "x"}); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("bad token: err = %v, want not found", err)
	}
	if _, err := svc.Ingest(ctx, "nope", "hook-token", Payload{Title: "x"}); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("bad app: err = %v, want not found", err)
	}
	// An untitled payload falls back to the webhook title; only a webhook
	// with no title of its own rejects it.
	bare := &store.BroadcastWebhook{AppName: "bare", Token: "bare-token", Owner: "queen", Enabled: true}
	if err := st.Broadcast.CreateWebhook(ctx, bare); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ingest(ctx, "bare", "bare-token", Payload{}); apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("missing title: err = %v, want bad request", err)
	}
	if res, err := svc.Ingest(ctx, "alerts", "hook-token", Payload{}); err != nil || res.Suppressed {
		t.Fatalf("webhook-title fallback: res=%+v err=%v", res, err)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	svc, st, _ := newTestService(t, 3*time.Hour)
	seedWebhook(t, st, "")
	ctx := context.Background()

	now := time.Now()
	svc.SetClock(func() time.Time { return now })

	p := Payload{Title: "disk full", BodyText: "/dev/sda1 at 98%"}
	if res, _ := svc.Ingest(ctx, "alerts", "hook-token", p); res.Suppressed {
		t.Fatal("first event suppressed")
	}
	if res, _ := svc.Ingest(ctx, "alerts", "hook-token", p); !res.Suppressed {
		t.Fatal("repeat inside cooldown not suppressed")
	}

	// Different content passes.
	if res, _ := svc.Ingest(ctx, "alerts", "hook-token", Payload{Title: "disk full", BodyText: "/dev/sdb1 at 98%"}); res.Suppressed {
		t.Fatal("distinct event suppressed")
	}

	// Same content after the window passes again.
	now = now.Add(3*time.Hour + time.Minute)
	if res, _ := svc.Ingest(ctx, "alerts", "hook-token", p); res.Suppressed {
		t.Fatal("repeat after cooldown suppressed")
	}
}

func TestSignatureIgnoresJSONKeyOrder(t *testing.T) {
	a := Payload{Title: "t", BodyJSON: json.RawMessage(`{"b": 1, "a": {"y": 2, "x": 3}}`)}
	b := Payload{Title: "t", BodyJSON: json.RawMessage(`{"a":{"x":3,"y":2},"b":1}`)}
	if Signature(a) != Signature(b) {
		t.Fatal("signatures differ for equivalent json")
	}

	c := Payload{Title: "t", BodyJSON: json.RawMessage(`{"a":{"x":3,"y":2},"b":2}`)}
	if Signature(a) == Signature(c) {
		t.Fatal("signatures equal for different json")
	}
}

func TestSignatureFieldBoundaries(t *testing.T) {
	// Content split differently across fields must not collide.
	a := Payload{Title: "ab", BodyText: "c"}
	b := Payload{Title: "a", BodyText: "bc"}
	if Signature(a) == Signature(b) {
		t.Fatal("field boundary collision")
	}

	// contentType participates in the fingerprint.
	c := Payload{Title: "t", ContentType: "text"}
	d := Payload{Title: "t", ContentType: "html"}
	if Signature(c) == Signature(d) {
		t.Fatal("contentType not part of signature")
	}
}
