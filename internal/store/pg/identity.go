package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/store"
)

// ============================================================
// Users
// ============================================================

type userStore struct{ db *sql.DB }

const userCols = `id, display_name, is_admin, is_agent, avatar_url, archived_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.IsAdmin, &u.IsAgent, &u.AvatarURL, &u.ArchivedAt, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Get(ctx context.Context, id string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (s *userStore) List(ctx context.Context, includeArchived bool) ([]store.User, error) {
	where := "WHERE archived_at IS NULL"
	if includeArchived {
		where = ""
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users `+where+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *userStore) Upsert(ctx context.Context, u *store.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, is_admin, is_agent, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   is_admin = EXCLUDED.is_admin,
		   is_agent = EXCLUDED.is_agent,
		   avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE users.avatar_url END`,
		u.ID, u.DisplayName, u.IsAdmin, u.IsAgent, u.AvatarURL, u.CreatedAt,
	)
	return err
}

func (s *userStore) Archive(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET archived_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ============================================================
// Tokens
// ============================================================

type tokenStore struct{ db *sql.DB }

const tokenCols = `id, token, identity, label, created_by, created_at, last_used_at,
	revoked_at, expires_at, webhook_url, webhook_token, backup_agent, stale_trigger_hours`

func scanToken(row interface{ Scan(...any) error }) (*store.Token, error) {
	var t store.Token
	if err := row.Scan(&t.ID, &t.Token, &t.Identity, &t.Label, &t.CreatedBy, &t.CreatedAt,
		&t.LastUsedAt, &t.RevokedAt, &t.ExpiresAt, &t.WebhookURL, &t.WebhookToken,
		&t.BackupAgent, &t.StaleTriggerHours); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *tokenStore) GetByToken(ctx context.Context, token string) (*store.Token, error) {
	return scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenCols+` FROM tokens WHERE token = $1`, token))
}

func (s *tokenStore) GetByID(ctx context.Context, id uuid.UUID) (*store.Token, error) {
	return scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenCols+` FROM tokens WHERE id = $1`, id))
}

func (s *tokenStore) listWhere(ctx context.Context, where string, args ...any) ([]store.Token, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenCols+` FROM tokens `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *tokenStore) ListByIdentity(ctx context.Context, identity string) ([]store.Token, error) {
	return s.listWhere(ctx, "WHERE identity = $1", identity)
}

func (s *tokenStore) ListAll(ctx context.Context) ([]store.Token, error) {
	return s.listWhere(ctx, "")
}

func (s *tokenStore) Create(ctx context.Context, t *store.Token) error {
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, token, identity, label, created_by, created_at,
		   expires_at, webhook_url, webhook_token, backup_agent, stale_trigger_hours)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Token, t.Identity, t.Label, t.CreatedBy, t.CreatedAt,
		t.ExpiresAt, t.WebhookURL, t.WebhookToken, t.BackupAgent, t.StaleTriggerHours,
	)
	return err
}

func (s *tokenStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *tokenStore) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET last_used_at = $1 WHERE id = $2`, at, id)
	return err
}

func (s *tokenStore) UpdateWebhook(ctx context.Context, id uuid.UUID, url, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET webhook_url = $1, webhook_token = $2 WHERE id = $3`, url, token, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ============================================================
// Invites
// ============================================================

type inviteStore struct{ db *sql.DB }

const inviteCols = `id, code, identity_hint, is_admin, max_uses, use_count, expires_at, created_by, created_at`

func scanInvite(row interface{ Scan(...any) error }) (*store.Invite, error) {
	var i store.Invite
	if err := row.Scan(&i.ID, &i.Code, &i.IdentityHint, &i.IsAdmin, &i.MaxUses,
		&i.UseCount, &i.ExpiresAt, &i.CreatedBy, &i.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

func (s *inviteStore) GetByCode(ctx context.Context, code string) (*store.Invite, error) {
	return scanInvite(s.db.QueryRowContext(ctx,
		`SELECT `+inviteCols+` FROM invites WHERE code = $1`, code))
}

func (s *inviteStore) Create(ctx context.Context, inv *store.Invite) error {
	if inv.ID == uuid.Nil {
		inv.ID = store.GenNewID()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invites (id, code, identity_hint, is_admin, max_uses, use_count, expires_at, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.Code, inv.IdentityHint, inv.IsAdmin, inv.MaxUses, inv.UseCount,
		inv.ExpiresAt, inv.CreatedBy, inv.CreatedAt,
	)
	return err
}

func (s *inviteStore) List(ctx context.Context) ([]store.Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inviteCols+` FROM invites ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Invite
	for rows.Next() {
		i, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func (s *inviteStore) IncrementUse(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invites SET use_count = use_count + 1
		 WHERE id = $1 AND use_count < max_uses`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish missing from exhausted.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM invites WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, store.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *inviteStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM invites WHERE id = $1`, id)
	return err
}
