package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/colonyops/hive/internal/store"
)

type broadcastStore struct{ db *sql.DB }

// ============================================================
// Webhooks
// ============================================================

const webhookCols = `id, app_name, token, title, owner, for_users, wake_agent,
	notify_agent, enabled, last_hit_at, created_at`

func scanWebhook(row interface{ Scan(...any) error }) (*store.BroadcastWebhook, error) {
	var w store.BroadcastWebhook
	if err := row.Scan(&w.ID, &w.AppName, &w.Token, &w.Title, &w.Owner, &w.ForUsers,
		&w.WakeAgent, &w.NotifyAgent, &w.Enabled, &w.LastHitAt, &w.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *broadcastStore) CreateWebhook(ctx context.Context, w *store.BroadcastWebhook) error {
	if w.ID == uuid.Nil {
		w.ID = store.GenNewID()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_webhooks (id, app_name, token, title, owner, for_users,
		   wake_agent, notify_agent, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.AppName, w.Token, w.Title, w.Owner, w.ForUsers,
		w.WakeAgent, w.NotifyAgent, w.Enabled, w.CreatedAt,
	)
	return err
}

func (s *broadcastStore) GetWebhook(ctx context.Context, appName, token string) (*store.BroadcastWebhook, error) {
	return scanWebhook(s.db.QueryRowContext(ctx,
		`SELECT `+webhookCols+` FROM broadcast_webhooks WHERE app_name = $1 AND token = $2`,
		appName, token))
}

func (s *broadcastStore) GetWebhookByID(ctx context.Context, id uuid.UUID) (*store.BroadcastWebhook, error) {
	return scanWebhook(s.db.QueryRowContext(ctx,
		`SELECT `+webhookCols+` FROM broadcast_webhooks WHERE id = $1`, id))
}

func (s *broadcastStore) ListWebhooks(ctx context.Context) ([]store.BroadcastWebhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookCols+` FROM broadcast_webhooks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.BroadcastWebhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *broadcastStore) UpdateWebhook(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return execMapUpdate(ctx, s.db, "broadcast_webhooks", id, updates)
}

func (s *broadcastStore) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broadcast_webhooks WHERE id = $1`, id)
	return err
}

func (s *broadcastStore) TouchWebhook(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_webhooks SET last_hit_at = $1 WHERE id = $2`, at, id)
	return err
}

// ============================================================
// Events
// ============================================================

const eventCols = `id, webhook_id, app_name, title, for_users, content_type,
	body_text, body_json, received_at, delivered_to_wake`

func scanEvent(row interface{ Scan(...any) error }) (*store.BroadcastEvent, error) {
	var ev store.BroadcastEvent
	if err := row.Scan(&ev.ID, &ev.WebhookID, &ev.AppName, &ev.Title, &ev.ForUsers,
		&ev.ContentType, &ev.BodyText, &ev.BodyJSON, &ev.ReceivedAt,
		pq.Array(&ev.DeliveredToWake)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (s *broadcastStore) InsertEvent(ctx context.Context, ev *store.BroadcastEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = store.GenNewID()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_events (id, webhook_id, app_name, title, for_users,
		   content_type, body_text, body_json, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.WebhookID, ev.AppName, ev.Title, ev.ForUsers,
		ev.ContentType, ev.BodyText, ev.BodyJSON, ev.ReceivedAt,
	)
	return err
}

func (s *broadcastStore) collectEvents(rows *sql.Rows) ([]store.BroadcastEvent, error) {
	var out []store.BroadcastEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (s *broadcastStore) RecentEvents(ctx context.Context, webhookID uuid.UUID, limit int) ([]store.BroadcastEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM broadcast_events
		 WHERE webhook_id = $1 ORDER BY received_at DESC LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectEvents(rows)
}

func (s *broadcastStore) ListEvents(ctx context.Context, appName string, limit int) ([]store.BroadcastEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	where := ""
	args := []any{limit}
	if appName != "" {
		where = "WHERE app_name = $2"
		args = append(args, appName)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM broadcast_events `+where+
			` ORDER BY received_at DESC LIMIT $1`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectEvents(rows)
}

func (s *broadcastStore) UndeliveredForAgent(ctx context.Context, identity, role string) ([]store.BroadcastEvent, error) {
	agentCol := "wake_agent"
	if role == "notify" {
		agentCol = "notify_agent"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.webhook_id, e.app_name, e.title, e.for_users, e.content_type,
		   e.body_text, e.body_json, e.received_at, e.delivered_to_wake
		 FROM broadcast_events e
		 JOIN broadcast_webhooks w ON w.id = e.webhook_id
		 WHERE w.`+agentCol+` = $1 AND w.enabled
		   AND NOT ($1 = ANY(e.delivered_to_wake))
		 ORDER BY e.received_at`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectEvents(rows)
}

func (s *broadcastStore) MarkDelivered(ctx context.Context, eventIDs []uuid.UUID, identity string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	ids := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		ids[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_events
		 SET delivered_to_wake = array_append(delivered_to_wake, $1)
		 WHERE id = ANY($2::uuid[]) AND NOT ($1 = ANY(delivered_to_wake))`,
		identity, pq.Array(ids))
	return err
}

// ============================================================
// Recurring templates
// ============================================================

type recurringStore struct{ db *sql.DB }

const templateCols = `id, project_id, title, detail, assignee_user_id, cron_expr,
	timezone, initial_status, enabled, last_tick_at, created_at`

func scanTemplate(row interface{ Scan(...any) error }) (*store.RecurringTemplate, error) {
	var t store.RecurringTemplate
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Detail, &t.AssigneeUserID,
		&t.CronExpr, &t.Timezone, &t.InitialStatus, &t.Enabled, &t.LastTickAt,
		&t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *recurringStore) Create(ctx context.Context, t *store.RecurringTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recurring_templates (id, project_id, title, detail, assignee_user_id,
		   cron_expr, timezone, initial_status, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ProjectID, t.Title, t.Detail, t.AssigneeUserID,
		t.CronExpr, t.Timezone, t.InitialStatus, t.Enabled, t.CreatedAt,
	)
	return err
}

func (s *recurringStore) Get(ctx context.Context, id uuid.UUID) (*store.RecurringTemplate, error) {
	return scanTemplate(s.db.QueryRowContext(ctx,
		`SELECT `+templateCols+` FROM recurring_templates WHERE id = $1`, id))
}

func (s *recurringStore) list(ctx context.Context, where string) ([]store.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateCols+` FROM recurring_templates `+where+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *recurringStore) ListEnabled(ctx context.Context) ([]store.RecurringTemplate, error) {
	return s.list(ctx, "WHERE enabled")
}

func (s *recurringStore) List(ctx context.Context) ([]store.RecurringTemplate, error) {
	return s.list(ctx, "")
}

func (s *recurringStore) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return execMapUpdate(ctx, s.db, "recurring_templates", id, updates)
}

func (s *recurringStore) SetLastTick(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recurring_templates SET last_tick_at = $1 WHERE id = $2`, at, id)
	return err
}

func (s *recurringStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recurring_templates WHERE id = $1`, id)
	return err
}

// ============================================================
// Notebook pages
// ============================================================

type notebookStore struct{ db *sql.DB }

const pageCols = `id, title, content, created_by, tagged_users, tags, locked, locked_by,
	expires_at, review_at, archived_at, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (*store.NotebookPage, error) {
	var p store.NotebookPage
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.CreatedBy, pq.Array(&p.TaggedUsers),
		pq.Array(&p.Tags), &p.Locked, &p.LockedBy, &p.ExpiresAt, &p.ReviewAt,
		&p.ArchivedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *notebookStore) Create(ctx context.Context, p *store.NotebookPage) error {
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notebook_pages (id, title, content, created_by, tagged_users, tags,
		   locked, locked_by, expires_at, review_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Title, p.Content, p.CreatedBy, pq.Array(p.TaggedUsers), pq.Array(p.Tags),
		p.Locked, p.LockedBy, p.ExpiresAt, p.ReviewAt, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *notebookStore) Get(ctx context.Context, id uuid.UUID) (*store.NotebookPage, error) {
	return scanPage(s.db.QueryRowContext(ctx,
		`SELECT `+pageCols+` FROM notebook_pages WHERE id = $1`, id))
}

func (s *notebookStore) ListVisible(ctx context.Context, identity string) ([]store.NotebookPage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageCols+` FROM notebook_pages
		 WHERE archived_at IS NULL
		   AND (tagged_users = '{}' OR $1 = ANY(tagged_users) OR created_by = $1)
		 ORDER BY updated_at DESC`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.NotebookPage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *notebookStore) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "notebook_pages", id, updates)
}

func (s *notebookStore) SaveContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notebook_pages SET content = $1, updated_at = $2 WHERE id = $3`,
		content, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *notebookStore) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execMapUpdate(ctx, s.db, "notebook_pages", id, map[string]any{"archived_at": at})
}

func (s *notebookStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notebook_pages WHERE id = $1`, id)
	return err
}
