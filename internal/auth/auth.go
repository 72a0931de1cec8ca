// Package auth resolves bearer tokens to identities and owns the invite
// registration and token rotation flows.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/store"
)

// Auth sources.
const (
	SourceEnv = "env"
	SourceDB  = "db"
)

// Context is the resolved caller identity attached to each request.
type Context struct {
	Identity string
	IsAdmin  bool
	Source   string
	TokenID  uuid.UUID
}

const cacheTTL = 30 * time.Second

type cacheEntry struct {
	ctx       *Context // nil = cached negative
	expiresAt time.Time
}

// Service authenticates bearer tokens against the bootstrap env token and
// the token store, with a short positive+negative cache in front.
type Service struct {
	users   store.UserStore
	tokens  store.TokenStore
	invites store.InviteStore

	superToken    string
	superIdentity string

	now func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an auth service. superToken/superIdentity may be empty when
// no bootstrap superuser is configured.
func New(users store.UserStore, tokens store.TokenStore, invites store.InviteStore, superToken, superIdentity string) *Service {
	return &Service{
		users:         users,
		tokens:        tokens,
		invites:       invites,
		superToken:    superToken,
		superIdentity: superIdentity,
		now:           time.Now,
		cache:         make(map[string]cacheEntry),
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// BootstrapSuperuser reconciles the superuser row at startup: the env
// identity always exists and is always admin.
func (s *Service) BootstrapSuperuser(ctx context.Context, displayName string) error {
	if s.superIdentity == "" {
		return nil
	}
	if displayName == "" {
		displayName = s.superIdentity
	}
	return s.users.Upsert(ctx, &store.User{
		ID:          s.superIdentity,
		DisplayName: displayName,
		IsAdmin:     true,
	})
}

// Authenticate resolves a bearer token. Returns Unauthorized for unknown,
// revoked, or expired tokens and for archived users.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*Context, error) {
	if bearer == "" {
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized")
	}

	if s.superToken != "" && bearer == s.superToken {
		return &Context{Identity: s.superIdentity, IsAdmin: true, Source: SourceEnv}, nil
	}

	now := s.now()
	s.mu.Lock()
	if e, ok := s.cache[bearer]; ok && now.Before(e.expiresAt) {
		s.mu.Unlock()
		if e.ctx == nil {
			return nil, apperr.New(apperr.Unauthorized, "Unauthorized")
		}
		cp := *e.ctx
		return &cp, nil
	}
	s.mu.Unlock()

	ac, err := s.resolveDB(ctx, bearer, now)
	if err != nil && apperr.KindOf(err) != apperr.Unauthorized {
		return nil, err
	}

	s.mu.Lock()
	s.cache[bearer] = cacheEntry{ctx: ac, expiresAt: now.Add(cacheTTL)}
	s.mu.Unlock()

	if ac == nil {
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized")
	}
	cp := *ac
	return &cp, nil
}

func (s *Service) resolveDB(ctx context.Context, bearer string, now time.Time) (*Context, error) {
	tok, err := s.tokens.GetByToken(ctx, bearer)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token lookup failed", err)
	}
	if !tok.Valid(now) {
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized")
	}

	user, err := s.users.Get(ctx, tok.Identity)
	if errors.Is(err, store.ErrNotFound) {
		// Token without a user row: backfill a minimal agent row and retry.
		if upErr := s.users.Upsert(ctx, &store.User{
			ID:          tok.Identity,
			DisplayName: tok.Identity,
			IsAgent:     true,
		}); upErr != nil {
			return nil, apperr.Wrap(apperr.Internal, "user backfill failed", upErr)
		}
		user, err = s.users.Get(ctx, tok.Identity)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "user lookup failed", err)
	}
	if user.ArchivedAt != nil {
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized")
	}

	tokID := tok.ID
	go func() {
		if err := s.tokens.TouchLastUsed(context.Background(), tokID, now); err != nil {
			slog.Debug("lastUsedAt update failed", "error", err)
		}
	}()

	// isAdmin comes from the users row so admin changes apply without
	// reissuing tokens.
	return &Context{Identity: tok.Identity, IsAdmin: user.IsAdmin, Source: SourceDB, TokenID: tok.ID}, nil
}

// ClearCache drops all cached auth results. Called on every mutation that
// changes token validity.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}
