package mem

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/store"
)

// --- broadcast ---

type broadcastStore struct{ s *state }

func (b *broadcastStore) CreateWebhook(_ context.Context, w *store.BroadcastWebhook) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = store.GenNewID()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	cp := *w
	b.s.webhooks[w.ID] = &cp
	return nil
}

func (b *broadcastStore) GetWebhook(_ context.Context, appName, token string) (*store.BroadcastWebhook, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, w := range b.s.webhooks {
		if w.AppName == appName && w.Token == token {
			cp := *w
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (b *broadcastStore) GetWebhookByID(_ context.Context, id uuid.UUID) (*store.BroadcastWebhook, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	w, ok := b.s.webhooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (b *broadcastStore) ListWebhooks(_ context.Context) ([]store.BroadcastWebhook, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []store.BroadcastWebhook
	for _, w := range b.s.webhooks {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *broadcastStore) UpdateWebhook(_ context.Context, id uuid.UUID, updates map[string]any) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	w, ok := b.s.webhooks[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			w.Title, _ = v.(string)
		case "for_users":
			w.ForUsers, _ = v.(string)
		case "wake_agent":
			w.WakeAgent, _ = v.(string)
		case "notify_agent":
			w.NotifyAgent, _ = v.(string)
		case "enabled":
			w.Enabled, _ = v.(bool)
		}
	}
	return nil
}

func (b *broadcastStore) DeleteWebhook(_ context.Context, id uuid.UUID) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.webhooks[id]; !ok {
		return store.ErrNotFound
	}
	delete(b.s.webhooks, id)
	return nil
}

func (b *broadcastStore) TouchWebhook(_ context.Context, id uuid.UUID, at time.Time) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if w, ok := b.s.webhooks[id]; ok {
		w.LastHitAt = &at
	}
	return nil
}

func (b *broadcastStore) InsertEvent(_ context.Context, ev *store.BroadcastEvent) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = store.GenNewID()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	cp := *ev
	b.s.events[ev.ID] = &cp
	return nil
}

func (b *broadcastStore) RecentEvents(_ context.Context, webhookID uuid.UUID, limit int) ([]store.BroadcastEvent, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []store.BroadcastEvent
	for _, ev := range b.s.events {
		if ev.WebhookID == webhookID {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *broadcastStore) ListEvents(_ context.Context, appName string, limit int) ([]store.BroadcastEvent, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []store.BroadcastEvent
	for _, ev := range b.s.events {
		if appName != "" && ev.AppName != appName {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *broadcastStore) UndeliveredForAgent(_ context.Context, identity, role string) ([]store.BroadcastEvent, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	var out []store.BroadcastEvent
	for _, ev := range b.s.events {
		w, ok := b.s.webhooks[ev.WebhookID]
		if !ok {
			continue
		}
		switch role {
		case "wake":
			if w.WakeAgent != identity {
				continue
			}
		case "notify":
			if w.NotifyAgent != identity {
				continue
			}
		default:
			continue
		}
		if containsStr(ev.DeliveredToWake, identity) {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (b *broadcastStore) MarkDelivered(_ context.Context, eventIDs []uuid.UUID, identity string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	for _, id := range eventIDs {
		ev, ok := b.s.events[id]
		if !ok {
			continue
		}
		if !containsStr(ev.DeliveredToWake, identity) {
			ev.DeliveredToWake = append(ev.DeliveredToWake, identity)
		}
	}
	return nil
}

func containsStr(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// --- recurring ---

type recurringStore struct{ s *state }

func (r *recurringStore) Create(_ context.Context, t *store.RecurringTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	r.s.templates[t.ID] = &cp
	return nil
}

func (r *recurringStore) Get(_ context.Context, id uuid.UUID) (*store.RecurringTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *recurringStore) ListEnabled(_ context.Context) ([]store.RecurringTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []store.RecurringTemplate
	for _, t := range r.s.templates {
		if t.Enabled {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *recurringStore) List(_ context.Context) ([]store.RecurringTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []store.RecurringTemplate
	for _, t := range r.s.templates {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *recurringStore) Update(_ context.Context, id uuid.UUID, updates map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			t.Title, _ = v.(string)
		case "detail":
			t.Detail, _ = v.(string)
		case "assignee_user_id":
			t.AssigneeUserID, _ = v.(string)
		case "cron_expr":
			t.CronExpr, _ = v.(string)
		case "timezone":
			t.Timezone, _ = v.(string)
		case "initial_status":
			t.InitialStatus, _ = v.(string)
		case "enabled":
			t.Enabled, _ = v.(bool)
		}
	}
	return nil
}

func (r *recurringStore) SetLastTick(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastTickAt = &at
	return nil
}

func (r *recurringStore) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.templates, id)
	return nil
}

// --- workflows ---

type workflowStore struct{ s *state }

func (w *workflowStore) Create(_ context.Context, wf *store.Workflow) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if wf.ID == uuid.Nil {
		wf.ID = store.GenNewID()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now()
	}
	cp := *wf
	w.s.workflows[wf.ID] = &cp
	return nil
}

func (w *workflowStore) Get(_ context.Context, id uuid.UUID) (*store.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	wf, ok := w.s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (w *workflowStore) ListVisible(_ context.Context, identity string) ([]store.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	var out []store.Workflow
	for _, wf := range w.s.workflows {
		if len(wf.TaggedUsers) == 0 || containsStr(wf.TaggedUsers, identity) {
			out = append(out, *wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (w *workflowStore) Attach(_ context.Context, workflowID, taskID uuid.UUID) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	for _, a := range w.s.attachments {
		if a.WorkflowID == workflowID && a.TaskID == taskID {
			return nil
		}
	}
	w.s.attachments = append(w.s.attachments, store.WorkflowAttachment{
		WorkflowID: workflowID, TaskID: taskID, CreatedAt: time.Now(),
	})
	return nil
}

func (w *workflowStore) ListForTask(_ context.Context, taskID uuid.UUID) ([]store.Workflow, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	var out []store.Workflow
	for _, a := range w.s.attachments {
		if a.TaskID != taskID {
			continue
		}
		if wf, ok := w.s.workflows[a.WorkflowID]; ok {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (w *workflowStore) Delete(_ context.Context, id uuid.UUID) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	delete(w.s.workflows, id)
	return nil
}

// --- notebook ---

type notebookStore struct{ s *state }

func (n *notebookStore) Create(_ context.Context, p *store.NotebookPage) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	cp := *p
	n.s.pages[p.ID] = &cp
	return nil
}

func (n *notebookStore) Get(_ context.Context, id uuid.UUID) (*store.NotebookPage, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	p, ok := n.s.pages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (n *notebookStore) ListVisible(_ context.Context, identity string) ([]store.NotebookPage, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	var out []store.NotebookPage
	for _, p := range n.s.pages {
		if p.ArchivedAt != nil {
			continue
		}
		if len(p.TaggedUsers) == 0 || containsStr(p.TaggedUsers, identity) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (n *notebookStore) Update(_ context.Context, id uuid.UUID, updates map[string]any) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	p, ok := n.s.pages[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			p.Title, _ = v.(string)
		case "content":
			p.Content, _ = v.(string)
		case "locked":
			p.Locked, _ = v.(bool)
		case "locked_by":
			p.LockedBy, _ = v.(string)
		case "tags":
			if tags, ok := v.([]string); ok {
				p.Tags = tags
			}
		case "tagged_users":
			if users, ok := v.([]string); ok {
				p.TaggedUsers = users
			}
		}
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (n *notebookStore) SaveContent(_ context.Context, id uuid.UUID, content string, at time.Time) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	p, ok := n.s.pages[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Content = content
	p.UpdatedAt = at
	return nil
}

func (n *notebookStore) Archive(_ context.Context, id uuid.UUID, at time.Time) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	p, ok := n.s.pages[id]
	if !ok {
		return store.ErrNotFound
	}
	p.ArchivedAt = &at
	return nil
}

func (n *notebookStore) Delete(_ context.Context, id uuid.UUID) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	delete(n.s.pages, id)
	return nil
}
