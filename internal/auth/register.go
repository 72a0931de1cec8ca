package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/store"
)

// RegisterResult is returned from invite registration and token rotation.
// Token is the plaintext secret and is only available here.
type RegisterResult struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
	IsAdmin  bool   `json:"isAdmin"`
}

// RegisterWithInvite consumes one use of an invite code and mints an
// identity plus its first token. The identity slug is caller-chosen unless
// the invite pins one.
func (s *Service) RegisterWithInvite(ctx context.Context, code, identity, displayName string) (*RegisterResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.New(apperr.BadRequest, "invite code is required")
	}

	inv, err := s.invites.GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.Forbidden, "invalid invite code")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "invite lookup failed", err)
	}

	now := s.now()
	if inv.ExpiresAt != nil && !inv.ExpiresAt.After(now) {
		return nil, apperr.New(apperr.Forbidden, "invite code expired")
	}

	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		identity = inv.IdentityHint
	} else if inv.IdentityHint != "" && identity != inv.IdentityHint {
		return nil, apperr.New(apperr.BadRequest, "identity does not match invite")
	}
	if err := store.ValidateIdentity(identity); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid identity", err)
	}
	if identity == s.superIdentity {
		return nil, apperr.New(apperr.Conflict, "identity is reserved")
	}
	if u, err := s.users.Get(ctx, identity); err == nil && u.ArchivedAt != nil {
		return nil, apperr.New(apperr.Conflict, "identity is archived")
	}

	if inv.UseCount >= inv.MaxUses {
		return nil, apperr.New(apperr.Forbidden, "invite code exhausted")
	}

	if displayName == "" {
		displayName = identity
	}
	if err := s.users.Upsert(ctx, &store.User{
		ID:          identity,
		DisplayName: displayName,
		IsAdmin:     inv.IsAdmin,
		IsAgent:     false,
	}); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "user create failed", err)
	}

	secret := store.NewSecretToken()
	if err := s.tokens.Create(ctx, &store.Token{
		Token:     secret,
		Identity:  identity,
		Label:     "registered via invite",
		CreatedBy: inv.CreatedBy,
		CreatedAt: now,
		// Inbound webhook calls from this agent's gateway authenticate
		// with the same secret unless rotated separately.
		WebhookToken: secret,
	}); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token create failed", err)
	}

	// Consume the invite use last so a failed registration does not burn it.
	ok, err := s.invites.IncrementUse(ctx, inv.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "invite consume failed", err)
	}
	if !ok {
		return nil, apperr.New(apperr.Forbidden, "invite code exhausted")
	}

	s.ClearCache()
	return &RegisterResult{Identity: identity, Token: secret, IsAdmin: inv.IsAdmin}, nil
}

// CreateInvite mints an invite code. Admin only, enforced by the caller.
func (s *Service) CreateInvite(ctx context.Context, createdBy, identityHint string, isAdmin bool, maxUses int, ttl time.Duration) (*store.Invite, error) {
	if maxUses <= 0 {
		maxUses = 1
	}
	code := store.NewShortToken()
	inv := &store.Invite{
		Code:         code,
		IdentityHint: strings.ToLower(strings.TrimSpace(identityHint)),
		IsAdmin:      isAdmin,
		MaxUses:      maxUses,
		CreatedBy:    createdBy,
		CreatedAt:    s.now(),
	}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		inv.ExpiresAt = &exp
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "invite create failed", err)
	}
	return inv, nil
}

// CreateToken mints an additional token for an identity.
func (s *Service) CreateToken(ctx context.Context, identity, label, createdBy string, expiresAt *time.Time) (*store.Token, error) {
	if err := store.ValidateIdentity(identity); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid identity", err)
	}
	secret := store.NewSecretToken()
	tok := &store.Token{
		Token:        secret,
		Identity:     identity,
		Label:        label,
		CreatedBy:    createdBy,
		CreatedAt:    s.now(),
		ExpiresAt:    expiresAt,
		WebhookToken: secret,
	}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token create failed", err)
	}
	s.ClearCache()
	return tok, nil
}

// RotateToken revokes the current token and mints a replacement for the
// same identity, carrying the webhook registration over.
func (s *Service) RotateToken(ctx context.Context, tokenID uuid.UUID, actor string) (*RegisterResult, error) {
	old, err := s.tokens.GetByID(ctx, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "token not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token lookup failed", err)
	}

	now := s.now()
	secret := store.NewSecretToken()
	fresh := &store.Token{
		Token:             secret,
		Identity:          old.Identity,
		Label:             old.Label,
		CreatedBy:         actor,
		CreatedAt:         now,
		ExpiresAt:         old.ExpiresAt,
		WebhookURL:        old.WebhookURL,
		WebhookToken:      secret,
		BackupAgent:       old.BackupAgent,
		StaleTriggerHours: old.StaleTriggerHours,
	}
	if err := s.tokens.Create(ctx, fresh); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token create failed", err)
	}
	if err := s.tokens.Revoke(ctx, old.ID, now); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "token revoke failed", err)
	}

	s.ClearCache()
	return &RegisterResult{Identity: old.Identity, Token: secret}, nil
}

// RevokeToken marks a token revoked immediately.
func (s *Service) RevokeToken(ctx context.Context, tokenID uuid.UUID) error {
	err := s.tokens.Revoke(ctx, tokenID, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.NotFound, "token not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "token revoke failed", err)
	}
	s.ClearCache()
	return nil
}
