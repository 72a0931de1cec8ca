package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/colonyops/hive/internal/ssrf"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/mem"
)

func seedToken(t *testing.T, tokens store.TokenStore, identity, webhookURL, secret string) {
	t.Helper()
	tok := &store.Token{
		ID:       store.GenNewID(),
		Token:    store.NewSecretToken(),
		Identity: identity,
	}
	if err := tokens.Create(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
	if webhookURL != "" {
		if err := tokens.UpdateWebhook(context.Background(), tok.ID, webhookURL, secret); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNotifyDeliversToRegisteredEndpoint(t *testing.T) {
	type hit struct {
		auth string
		body map[string]string
	}
	hits := make(chan hit, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		hits <- hit{auth: r.Header.Get("Authorization"), body: body}
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	st := mem.New()
	seedToken(t, st.Tokens, "bob", srv.URL, "hook-secret")
	seedToken(t, st.Tokens, "alice", "", "")

	d := NewDispatcher(st.Tokens, ssrf.NewGuard([]string{u.Hostname()}))
	d.Notify("bob", "message from queen: report")

	select {
	case got := <-hits:
		if got.auth != "Bearer hook-secret" {
			t.Fatalf("auth header = %q", got.auth)
		}
		if got.body["message"] != "message from queen: report" || got.body["wakeMode"] != "now" {
			t.Fatalf("body = %v", got.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery within 2s")
	}

	// No endpoint registered means no call and no error.
	d.Notify("alice", "anything")
	select {
	case <-hits:
		t.Fatal("alice has no webhook but the endpoint was hit")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifySkipsBlockedURLs(t *testing.T) {
	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer srv.Close()

	st := mem.New()
	seedToken(t, st.Tokens, "bob", srv.URL, "")

	// Empty allowlist: the loopback httptest address must be rejected.
	d := NewDispatcher(st.Tokens, ssrf.NewGuard(nil))
	d.Notify("bob", "hi")

	select {
	case <-hits:
		t.Fatal("delivery to a loopback address was not blocked")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestInvalidateForcesCacheRefresh(t *testing.T) {
	hits := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	st := mem.New()
	d := NewDispatcher(st.Tokens, ssrf.NewGuard([]string{u.Hostname()}))

	// First notify caches the empty endpoint set.
	d.Notify("bob", "before registration")
	seedToken(t, st.Tokens, "bob", srv.URL, "")

	d.Notify("bob", "still cached")
	select {
	case <-hits:
		t.Fatal("stale cache should not have seen the new endpoint yet")
	case <-time.After(100 * time.Millisecond):
	}

	d.Invalidate()
	d.Notify("bob", "after invalidate")
	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after Invalidate")
	}
}
