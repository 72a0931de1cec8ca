package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/colonyops/hive/internal/store"
)

type swarmStore struct{ db *sql.DB }

// ============================================================
// Projects
// ============================================================

const projectCols = `id, title, color, description, project_lead_user_id, dev_lead_user_id,
	work_hours_start, work_hours_end, work_hours_timezone, blocking_mode,
	repo_url, docs_url, archived_at, created_at`

func scanProject(row interface{ Scan(...any) error }) (*store.Project, error) {
	var p store.Project
	if err := row.Scan(&p.ID, &p.Title, &p.Color, &p.Description, &p.ProjectLeadUserID,
		&p.DevLeadUserID, &p.WorkHoursStart, &p.WorkHoursEnd, &p.WorkHoursTimezone,
		&p.BlockingMode, &p.RepoURL, &p.DocsURL, &p.ArchivedAt, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *swarmStore) CreateProject(ctx context.Context, p *store.Project) error {
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, color, description, project_lead_user_id, dev_lead_user_id,
		   work_hours_start, work_hours_end, work_hours_timezone, blocking_mode, repo_url, docs_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Title, p.Color, p.Description, p.ProjectLeadUserID, p.DevLeadUserID,
		p.WorkHoursStart, p.WorkHoursEnd, p.WorkHoursTimezone, p.BlockingMode,
		p.RepoURL, p.DocsURL, p.CreatedAt,
	)
	return err
}

func (s *swarmStore) GetProject(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = $1`, id))
}

func (s *swarmStore) ListProjects(ctx context.Context, includeArchived bool) ([]store.Project, error) {
	where := "WHERE archived_at IS NULL"
	if includeArchived {
		where = ""
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectCols+` FROM projects `+where+` ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *swarmStore) UpdateProject(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return execMapUpdate(ctx, s.db, "projects", id, updates)
}

func (s *swarmStore) ArchiveProject(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execMapUpdate(ctx, s.db, "projects", id, map[string]any{"archived_at": at})
}

// ============================================================
// Tasks
// ============================================================

const taskCols = `id, project_id, title, detail, follow_up, issue_url, creator_user_id,
	assignee_user_id, status, sort_key, on_or_after_at, must_be_done_after_task,
	next_task_id, next_task_assignee, recurring_template_id, recurring_instance_at,
	completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*store.Task, error) {
	var t store.Task
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Detail, &t.FollowUp, &t.IssueURL,
		&t.CreatorUserID, &t.AssigneeUserID, &t.Status, &t.SortKey, &t.OnOrAfterAt,
		&t.MustBeDoneAfterTask, &t.NextTaskID, &t.NextTaskAssignee, &t.RecurringTemplateID,
		&t.RecurringInstanceAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *swarmStore) CreateTask(ctx context.Context, t *store.Task) error {
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, detail, follow_up, issue_url, creator_user_id,
		   assignee_user_id, status, sort_key, on_or_after_at, must_be_done_after_task,
		   next_task_id, next_task_assignee, recurring_template_id, recurring_instance_at,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.ProjectID, t.Title, t.Detail, t.FollowUp, t.IssueURL, t.CreatorUserID,
		t.AssigneeUserID, t.Status, t.SortKey, t.OnOrAfterAt, t.MustBeDoneAfterTask,
		t.NextTaskID, t.NextTaskAssignee, t.RecurringTemplateID, t.RecurringInstanceAt,
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *swarmStore) GetTask(ctx context.Context, id uuid.UUID) (*store.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = $1`, id))
}

// statusRankCase is the SQL mirror of store.StatusRank.
const statusRankCase = `CASE status
	WHEN 'in_progress' THEN 0
	WHEN 'review' THEN 1
	WHEN 'ready' THEN 2
	WHEN 'queued' THEN 3
	WHEN 'holding' THEN 4
	WHEN 'complete' THEN 5
	ELSE 6 END`

func (s *swarmStore) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error) {
	where := "WHERE TRUE"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		where += " AND status = ANY(" + arg(pq.Array(f.Statuses)) + ")"
	} else if !f.IncludeCompleted {
		where += " AND status <> 'complete'"
	}
	if f.Assignee != "" {
		where += " AND assignee_user_id = " + arg(f.Assignee)
	}
	if f.ProjectID != nil {
		where += " AND project_id = " + arg(*f.ProjectID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks `+where+
			` ORDER BY `+statusRankCase+`, sort_key, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *swarmStore) UpdateTask(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "tasks", id, updates)
}

func (s *swarmStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *swarmStore) MaxSortKey(ctx context.Context, projectID *uuid.UUID) (float64, error) {
	var max float64
	var err error
	if projectID == nil {
		err = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_key), 0) FROM tasks WHERE project_id IS NULL`).Scan(&max)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_key), 0) FROM tasks WHERE project_id = $1`, *projectID).Scan(&max)
	}
	return max, err
}

// ============================================================
// Task events
// ============================================================

func (s *swarmStore) AppendTaskEvent(ctx context.Context, ev *store.TaskEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO task_events (task_id, actor_user_id, kind, before_state, after_state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ev.TaskID, ev.ActorUserID, ev.Kind, ev.BeforeState, ev.AfterState, ev.CreatedAt,
	).Scan(&ev.ID)
}

func (s *swarmStore) ListTaskEvents(ctx context.Context, taskID uuid.UUID) ([]store.TaskEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, actor_user_id, kind, before_state, after_state, created_at
		 FROM task_events WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TaskEvent
	for rows.Next() {
		var ev store.TaskEvent
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.ActorUserID, &ev.Kind,
			&ev.BeforeState, &ev.AfterState, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ============================================================
// Workflows
// ============================================================

type workflowStore struct{ db *sql.DB }

const workflowCols = `id, title, url, body, created_by, tagged_users, created_at`

func scanWorkflow(row interface{ Scan(...any) error }) (*store.Workflow, error) {
	var w store.Workflow
	if err := row.Scan(&w.ID, &w.Title, &w.URL, &w.Body, &w.CreatedBy,
		pq.Array(&w.TaggedUsers), &w.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *workflowStore) Create(ctx context.Context, w *store.Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = store.GenNewID()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, title, url, body, created_by, tagged_users, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.Title, w.URL, w.Body, w.CreatedBy, pq.Array(w.TaggedUsers), w.CreatedAt,
	)
	return err
}

func (s *workflowStore) Get(ctx context.Context, id uuid.UUID) (*store.Workflow, error) {
	return scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+workflowCols+` FROM workflows WHERE id = $1`, id))
}

func (s *workflowStore) ListVisible(ctx context.Context, identity string) ([]store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowCols+` FROM workflows
		 WHERE tagged_users = '{}' OR $1 = ANY(tagged_users)
		 ORDER BY created_at`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func (s *workflowStore) Attach(ctx context.Context, workflowID, taskID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_attachments (workflow_id, task_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, workflowID, taskID)
	return err
}

func (s *workflowStore) ListForTask(ctx context.Context, taskID uuid.UUID) ([]store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.title, w.url, w.body, w.created_by, w.tagged_users, w.created_at
		 FROM workflows w
		 JOIN workflow_attachments a ON a.workflow_id = w.id
		 WHERE a.task_id = $1 ORDER BY a.created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func (s *workflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	return err
}

func collectWorkflows(rows *sql.Rows) ([]store.Workflow, error) {
	var out []store.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
