package auth

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/mem"
)

func newTestService(t *testing.T) (*Service, *store.Stores) {
	t.Helper()
	st := mem.New()
	svc := New(st.Users, st.Tokens, st.Invites, "super-secret-token-0123456789", "queen")
	return svc, st
}

func TestAuthenticateEnvToken(t *testing.T) {
	svc, _ := newTestService(t)

	ac, err := svc.Authenticate(context.Background(), "super-secret-token-0123456789")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.Identity != "queen" || !ac.IsAdmin || ac.Source != SourceEnv {
		t.Fatalf("got %+v, want env superuser", ac)
	}
}

func TestAuthenticateDBToken(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if err := st.Users.Upsert(ctx, &store.User{ID: "drone", DisplayName: "Drone", IsAgent: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.Tokens.Create(ctx, &store.Token{Token: "db-token", Identity: "drone"}); err != nil {
		t.Fatal(err)
	}

	ac, err := svc.Authenticate(ctx, "db-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.Identity != "drone" || ac.IsAdmin || ac.Source != SourceDB {
		t.Fatalf("got %+v, want db-sourced drone", ac)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Hour)

	if err := st.Users.Upsert(ctx, &store.User{ID: "gone", DisplayName: "Gone"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Users.Archive(ctx, "gone", now); err != nil {
		t.Fatal(err)
	}
	st.Tokens.Create(ctx, &store.Token{Token: "revoked", Identity: "drone", RevokedAt: &past})
	st.Tokens.Create(ctx, &store.Token{Token: "expired", Identity: "drone", ExpiresAt: &past})
	st.Tokens.Create(ctx, &store.Token{Token: "archived-user", Identity: "gone"})

	for _, bearer := range []string{"", "unknown", "revoked", "expired", "archived-user"} {
		if _, err := svc.Authenticate(ctx, bearer); apperr.KindOf(err) != apperr.Unauthorized {
			t.Errorf("bearer %q: err = %v, want unauthorized", bearer, err)
		}
	}
}

func TestAuthenticateBackfillsMissingUser(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	st.Tokens.Create(ctx, &store.Token{Token: "orphan", Identity: "worker"})

	ac, err := svc.Authenticate(ctx, "orphan")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ac.Identity != "worker" {
		t.Fatalf("identity = %s, want worker", ac.Identity)
	}
	u, err := st.Users.Get(ctx, "worker")
	if err != nil {
		t.Fatalf("backfilled user missing: %v", err)
	}
	if !u.IsAgent {
		t.Fatal("backfilled user not marked as agent")
	}
}

func TestCacheServesStaleUntilCleared(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	st.Tokens.Create(ctx, &store.Token{Token: "tok", Identity: "drone"})
	if _, err := svc.Authenticate(ctx, "tok"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	toks, _ := st.Tokens.ListByIdentity(ctx, "drone")
	if err := st.Tokens.Revoke(ctx, toks[0].ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	// Still cached positive within the TTL window.
	if _, err := svc.Authenticate(ctx, "tok"); err != nil {
		t.Fatalf("cached authenticate: %v", err)
	}

	svc.ClearCache()
	if _, err := svc.Authenticate(ctx, "tok"); apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("err = %v, want unauthorized after cache clear", err)
	}
}

func TestRegisterWithInvite(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	inv, err := svc.CreateInvite(ctx, "queen", "", false, 1, 0)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	res, err := svc.RegisterWithInvite(ctx, inv.Code, "Scout", "Scout Agent")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Identity != "scout" {
		t.Fatalf("identity = %s, want lowercased scout", res.Identity)
	}
	if res.Token == "" {
		t.Fatal("no token minted")
	}

	ac, err := svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("authenticate minted token: %v", err)
	}
	if ac.Identity != "scout" {
		t.Fatalf("identity = %s, want scout", ac.Identity)
	}

	// Single-use invite is now exhausted.
	if _, err := svc.RegisterWithInvite(ctx, inv.Code, "other", ""); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("err = %v, want forbidden for exhausted invite", err)
	}

	u, _ := st.Users.Get(ctx, "scout")
	if u.DisplayName != "Scout Agent" {
		t.Fatalf("displayName = %s", u.DisplayName)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterWithInvite(ctx, "no-such-code", "x", ""); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("unknown code: err = %v, want forbidden", err)
	}

	inv, _ := svc.CreateInvite(ctx, "queen", "", false, 5, 0)
	if _, err := svc.RegisterWithInvite(ctx, inv.Code, "Bad Name!", ""); apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("bad slug: err = %v, want bad request", err)
	}
	if _, err := svc.RegisterWithInvite(ctx, inv.Code, "queen", ""); apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("reserved identity: err = %v, want conflict", err)
	}

	expired, _ := svc.CreateInvite(ctx, "queen", "", false, 1, time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	if _, err := svc.RegisterWithInvite(ctx, expired.Code, "late", ""); apperr.KindOf(err) != apperr.Forbidden {
		t.Fatalf("expired invite: err = %v, want forbidden", err)
	}
}

func TestRegisterHonorsIdentityHint(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.CreateInvite(ctx, "queen", "scout", false, 1, 0)

	if _, err := svc.RegisterWithInvite(ctx, inv.Code, "drone", ""); apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("mismatched identity: err = %v, want bad request", err)
	}

	res, err := svc.RegisterWithInvite(ctx, inv.Code, "", "")
	if err != nil {
		t.Fatalf("register with empty identity: %v", err)
	}
	if res.Identity != "scout" {
		t.Fatalf("identity = %s, want hinted scout", res.Identity)
	}

	u, _ := st.Users.Get(ctx, "scout")
	if u.IsAgent {
		t.Fatal("invite-registered user marked as agent")
	}
}

func TestFailedRegisterDoesNotConsumeInvite(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.CreateInvite(ctx, "queen", "", false, 1, 0)

	if _, err := svc.RegisterWithInvite(ctx, inv.Code, "Bad Name!", ""); apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("bad slug: err = %v, want bad request", err)
	}

	// The single use is still available after the failed attempt.
	if _, err := svc.RegisterWithInvite(ctx, inv.Code, "worker", ""); err != nil {
		t.Fatalf("register after failed attempt: %v", err)
	}
}

func TestRotateToken(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	st.Tokens.Create(ctx, &store.Token{Token: "old-secret", Identity: "drone", WebhookURL: "https://agent.example/hooks"})
	toks, _ := st.Tokens.ListByIdentity(ctx, "drone")

	res, err := svc.RotateToken(ctx, toks[0].ID, "drone")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if res.Token == "" || res.Token == "old-secret" {
		t.Fatalf("rotate returned %q", res.Token)
	}

	if _, err := svc.Authenticate(ctx, "old-secret"); apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("old token still valid: %v", err)
	}
	ac, err := svc.Authenticate(ctx, res.Token)
	if err != nil || ac.Identity != "drone" {
		t.Fatalf("new token: ctx=%+v err=%v", ac, err)
	}

	fresh, _ := st.Tokens.GetByToken(ctx, res.Token)
	if fresh.WebhookURL != "https://agent.example/hooks" {
		t.Fatalf("webhook url not carried over: %q", fresh.WebhookURL)
	}
}
