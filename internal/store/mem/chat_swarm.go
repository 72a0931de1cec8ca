package mem

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/store"
)

// --- chat ---

type chatStore struct{ s *state }

func (c *chatStore) GetOrCreateDM(_ context.Context, a, b string) (*store.ChatChannel, bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	for id, ch := range c.s.channels {
		if ch.Type != store.ChannelDM {
			continue
		}
		mem := c.s.members[id]
		if len(mem) == 2 {
			_, hasA := mem[a]
			_, hasB := mem[b]
			if hasA && hasB {
				cp := *ch
				cp.Members = memberIDs(mem)
				return &cp, false, nil
			}
		}
	}

	now := time.Now()
	ch := &store.ChatChannel{ID: store.GenNewID(), Type: store.ChannelDM, CreatedBy: a, CreatedAt: now}
	c.s.channels[ch.ID] = ch
	c.s.members[ch.ID] = map[string]*store.ChatMember{
		a: {ChannelID: ch.ID, Identity: a, JoinedAt: now},
		b: {ChannelID: ch.ID, Identity: b, JoinedAt: now},
	}
	cp := *ch
	cp.Members = []string{a, b}
	return &cp, true, nil
}

func (c *chatStore) CreateGroup(_ context.Context, name, createdBy string, members []string) (*store.ChatChannel, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	now := time.Now()
	ch := &store.ChatChannel{ID: store.GenNewID(), Type: store.ChannelGroup, Name: name, CreatedBy: createdBy, CreatedAt: now}
	c.s.channels[ch.ID] = ch
	mm := make(map[string]*store.ChatMember)
	for _, m := range members {
		mm[m] = &store.ChatMember{ChannelID: ch.ID, Identity: m, JoinedAt: now}
	}
	c.s.members[ch.ID] = mm
	cp := *ch
	cp.Members = memberIDs(mm)
	return &cp, nil
}

func (c *chatStore) GetChannel(_ context.Context, id uuid.UUID) (*store.ChatChannel, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	ch, ok := c.s.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ch
	cp.Members = memberIDs(c.s.members[id])
	return &cp, nil
}

func (c *chatStore) ListChannels(_ context.Context, identity string) ([]store.ChatChannel, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []store.ChatChannel
	for id, ch := range c.s.channels {
		mem, ok := c.s.members[id][identity]
		if !ok {
			continue
		}
		cp := *ch
		cp.Members = memberIDs(c.s.members[id])
		for _, msg := range c.s.chatMsgs {
			if msg.ChannelID != id || msg.Sender == identity {
				continue
			}
			if mem.LastReadAt == nil || msg.CreatedAt.After(*mem.LastReadAt) {
				cp.Unread++
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *chatStore) IsMember(_ context.Context, channelID uuid.UUID, identity string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	_, ok := c.s.members[channelID][identity]
	return ok, nil
}

func (c *chatStore) InsertMessage(_ context.Context, m *store.ChatMessage) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.nextChatID++
	m.ID = c.s.nextChatID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	c.s.chatMsgs = append(c.s.chatMsgs, &cp)
	return nil
}

func (c *chatStore) ListMessages(_ context.Context, channelID uuid.UUID, limit int, before int64) ([]store.ChatMessage, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []store.ChatMessage
	for _, m := range c.s.chatMsgs {
		if m.ChannelID != channelID {
			continue
		}
		if before > 0 && m.ID >= before {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	// Return ascending for display.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *chatStore) MarkRead(_ context.Context, channelID uuid.UUID, identity string, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	mem, ok := c.s.members[channelID][identity]
	if !ok {
		return store.ErrNotFound
	}
	mem.LastReadAt = &at
	return nil
}

func memberIDs(mm map[string]*store.ChatMember) []string {
	out := make([]string, 0, len(mm))
	for id := range mm {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// --- swarm ---

type swarmStore struct{ s *state }

func (w *swarmStore) CreateProject(_ context.Context, p *store.Project) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	w.s.projects[p.ID] = &cp
	return nil
}

func (w *swarmStore) GetProject(_ context.Context, id uuid.UUID) (*store.Project, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	p, ok := w.s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (w *swarmStore) ListProjects(_ context.Context, includeArchived bool) ([]store.Project, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	var out []store.Project
	for _, p := range w.s.projects {
		if !includeArchived && p.ArchivedAt != nil {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (w *swarmStore) UpdateProject(_ context.Context, id uuid.UUID, updates map[string]any) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	p, ok := w.s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	applyProjectUpdates(p, updates)
	return nil
}

func (w *swarmStore) ArchiveProject(_ context.Context, id uuid.UUID, at time.Time) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	p, ok := w.s.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	p.ArchivedAt = &at
	return nil
}

func (w *swarmStore) CreateTask(_ context.Context, t *store.Task) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	cp := *t
	w.s.tasks[t.ID] = &cp
	return nil
}

func (w *swarmStore) GetTask(_ context.Context, id uuid.UUID) (*store.Task, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	t, ok := w.s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (w *swarmStore) ListTasks(_ context.Context, f store.TaskFilter) ([]store.Task, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	var out []store.Task
	for _, t := range w.s.tasks {
		if len(f.Statuses) > 0 {
			if !contains(f.Statuses, t.Status) {
				continue
			}
		} else if t.Status == store.TaskComplete && !f.IncludeCompleted {
			continue
		}
		if f.Assignee != "" && t.AssigneeUserID != f.Assignee {
			continue
		}
		if f.ProjectID != nil && (t.ProjectID == nil || *t.ProjectID != *f.ProjectID) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := store.StatusRank(out[i].Status), store.StatusRank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		if out[i].SortKey != out[j].SortKey {
			return out[i].SortKey < out[j].SortKey
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (w *swarmStore) UpdateTask(_ context.Context, id uuid.UUID, updates map[string]any) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	t, ok := w.s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	applyTaskUpdates(t, updates)
	t.UpdatedAt = time.Now()
	return nil
}

func (w *swarmStore) DeleteTask(_ context.Context, id uuid.UUID) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(w.s.tasks, id)
	return nil
}

func (w *swarmStore) MaxSortKey(_ context.Context, projectID *uuid.UUID) (float64, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	max := 0.0
	for _, t := range w.s.tasks {
		if projectID != nil && (t.ProjectID == nil || *t.ProjectID != *projectID) {
			continue
		}
		if t.SortKey > max {
			max = t.SortKey
		}
	}
	return max, nil
}

func (w *swarmStore) AppendTaskEvent(_ context.Context, ev *store.TaskEvent) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.nextEventID++
	ev.ID = w.s.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	cp := *ev
	w.s.taskEvents = append(w.s.taskEvents, &cp)
	return nil
}

func (w *swarmStore) ListTaskEvents(_ context.Context, taskID uuid.UUID) ([]store.TaskEvent, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	var out []store.TaskEvent
	for _, ev := range w.s.taskEvents {
		if ev.TaskID == taskID {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func applyProjectUpdates(p *store.Project, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "title":
			p.Title, _ = v.(string)
		case "color":
			p.Color, _ = v.(string)
		case "description":
			p.Description, _ = v.(string)
		case "work_hours_start":
			p.WorkHoursStart, _ = v.(string)
		case "work_hours_end":
			p.WorkHoursEnd, _ = v.(string)
		case "work_hours_timezone":
			p.WorkHoursTimezone, _ = v.(string)
		case "blocking_mode":
			p.BlockingMode, _ = v.(string)
		case "project_lead_user_id":
			p.ProjectLeadUserID, _ = v.(string)
		case "dev_lead_user_id":
			p.DevLeadUserID, _ = v.(string)
		}
	}
}

func applyTaskUpdates(t *store.Task, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "title":
			t.Title, _ = v.(string)
		case "detail":
			t.Detail, _ = v.(string)
		case "follow_up":
			t.FollowUp, _ = v.(string)
		case "issue_url":
			t.IssueURL, _ = v.(string)
		case "status":
			t.Status, _ = v.(string)
		case "assignee_user_id":
			t.AssigneeUserID, _ = v.(string)
		case "sort_key":
			if f, ok := v.(float64); ok {
				t.SortKey = f
			}
		case "completed_at":
			if v == nil {
				t.CompletedAt = nil
			} else if ts, ok := v.(time.Time); ok {
				t.CompletedAt = &ts
			}
		case "on_or_after_at":
			if v == nil {
				t.OnOrAfterAt = nil
			} else if ts, ok := v.(time.Time); ok {
				t.OnOrAfterAt = &ts
			}
		case "project_id":
			if v == nil {
				t.ProjectID = nil
			} else if id, ok := v.(uuid.UUID); ok {
				t.ProjectID = &id
			}
		}
	}
}
