package hivehttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/scheduler"
	"github.com/colonyops/hive/internal/ssrf"
	"github.com/colonyops/hive/internal/store"
)

// taskStatuses is the accepted status vocabulary for create and patch.
var taskStatuses = map[string]bool{
	store.TaskQueued:     true,
	store.TaskReady:      true,
	store.TaskInProgress: true,
	store.TaskHolding:    true,
	store.TaskReview:     true,
	store.TaskComplete:   true,
}

// SwarmHandler exposes projects, tasks, workflows and recurring templates.
type SwarmHandler struct {
	gate      *Gate
	swarm     store.SwarmStore
	workflows store.WorkflowStore
	recurring store.RecurringStore
	bus       *bus.Bus
	sched     *scheduler.Scheduler
	guard     *ssrf.Guard
}

// NewSwarmHandler creates the swarm endpoints.
func NewSwarmHandler(gate *Gate, st *store.Stores, b *bus.Bus, sched *scheduler.Scheduler, guard *ssrf.Guard) *SwarmHandler {
	return &SwarmHandler{gate: gate, swarm: st.Swarm, workflows: st.Workflows, recurring: st.Recurring, bus: b, sched: sched, guard: guard}
}

// RegisterRoutes registers swarm routes on the mux.
func (h *SwarmHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/swarm/projects", h.gate.Authed(h.handleListProjects))
	mux.HandleFunc("POST /api/swarm/projects", h.gate.Authed(h.handleCreateProject))
	mux.HandleFunc("GET /api/swarm/projects/{id}", h.gate.Authed(h.handleGetProject))
	mux.HandleFunc("PATCH /api/swarm/projects/{id}", h.gate.Authed(h.handleUpdateProject))
	mux.HandleFunc("POST /api/swarm/projects/{id}/archive", h.gate.Authed(h.handleArchiveProject))

	mux.HandleFunc("GET /api/swarm/tasks", h.gate.Authed(h.handleListTasks))
	mux.HandleFunc("POST /api/swarm/tasks", h.gate.Authed(h.handleCreateTask))
	mux.HandleFunc("GET /api/swarm/tasks/{id}", h.gate.Authed(h.handleGetTask))
	mux.HandleFunc("PATCH /api/swarm/tasks/{id}", h.gate.Authed(h.handleUpdateTask))
	mux.HandleFunc("DELETE /api/swarm/tasks/{id}", h.gate.Authed(h.handleDeleteTask))
	mux.HandleFunc("GET /api/swarm/tasks/{id}/events", h.gate.Authed(h.handleTaskEvents))
	mux.HandleFunc("GET /api/swarm/tasks/{id}/workflows", h.gate.Authed(h.handleTaskWorkflows))
	mux.HandleFunc("POST /api/swarm/tasks/{id}/workflows", h.gate.Authed(h.handleAttachWorkflow))
	mux.HandleFunc("POST /api/swarm/tasks/{id}/status", h.gate.Authed(h.handleTaskStatus))

	mux.HandleFunc("GET /api/swarm/workflows", h.gate.Authed(h.handleListWorkflows))
	mux.HandleFunc("POST /api/swarm/workflows", h.gate.Authed(h.handleCreateWorkflow))
	mux.HandleFunc("DELETE /api/swarm/workflows/{id}", h.gate.Authed(h.handleDeleteWorkflow))

	mux.HandleFunc("GET /api/swarm/recurring", h.gate.Authed(h.handleListRecurring))
	mux.HandleFunc("POST /api/swarm/recurring", h.gate.Authed(h.handleCreateRecurring))
	mux.HandleFunc("PATCH /api/swarm/recurring/{id}", h.gate.Authed(h.handleUpdateRecurring))
	mux.HandleFunc("DELETE /api/swarm/recurring/{id}", h.gate.Authed(h.handleDeleteRecurring))
	mux.HandleFunc("POST /api/swarm/recurring/tick", h.gate.Admin(h.handleRecurringTick))
}

func (h *SwarmHandler) handleListProjects(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	projects, err := h.swarm.ListProjects(r.Context(), r.URL.Query().Get("includeArchived") == "true")
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "project list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *SwarmHandler) handleCreateProject(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	var p store.Project
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if p.Title == "" {
		writeError(w, apperr.New(apperr.BadRequest, "title is required"))
		return
	}
	if err := h.swarm.CreateProject(r.Context(), &p); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "project create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (h *SwarmHandler) handleGetProject(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.swarm.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "project"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *SwarmHandler) handleUpdateProject(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Title             *string `json:"title"`
		Color             *string `json:"color"`
		Description       *string `json:"description"`
		ProjectLeadUserID *string `json:"projectLeadUserId"`
		DevLeadUserID     *string `json:"developerLeadUserId"`
		WorkHoursStart    *string `json:"workHoursStart"`
		WorkHoursEnd      *string `json:"workHoursEnd"`
		WorkHoursTimezone *string `json:"workHoursTimezone"`
		BlockingMode      *string `json:"blockingMode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updates := map[string]any{}
	put := func(col string, v *string) {
		if v != nil {
			updates[col] = *v
		}
	}
	put("title", req.Title)
	put("color", req.Color)
	put("description", req.Description)
	put("project_lead_user_id", req.ProjectLeadUserID)
	put("dev_lead_user_id", req.DevLeadUserID)
	put("work_hours_start", req.WorkHoursStart)
	put("work_hours_end", req.WorkHoursEnd)
	put("work_hours_timezone", req.WorkHoursTimezone)
	put("blocking_mode", req.BlockingMode)
	if len(updates) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "no fields to update"))
		return
	}
	if err := h.swarm.UpdateProject(r.Context(), id, updates); err != nil {
		writeError(w, storeErr(err, "project"))
		return
	}
	p, err := h.swarm.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "project"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *SwarmHandler) handleArchiveProject(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.swarm.ArchiveProject(r.Context(), id, time.Now()); err != nil {
		writeError(w, storeErr(err, "project"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true})
}

func (h *SwarmHandler) handleListTasks(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	q := r.URL.Query()
	f := store.TaskFilter{
		Assignee:         q.Get("assignee"),
		IncludeCompleted: q.Get("includeCompleted") == "true",
	}
	if s := q.Get("status"); s != "" {
		f.Statuses = strings.Split(s, ",")
	}
	if p := q.Get("projectId"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			writeError(w, apperr.New(apperr.BadRequest, "invalid projectId"))
			return
		}
		f.ProjectID = &id
	}
	tasks, err := h.swarm.ListTasks(r.Context(), f)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "task list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *SwarmHandler) handleCreateTask(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		ProjectID      *uuid.UUID `json:"projectId"`
		Title          string     `json:"title"`
		Detail         string     `json:"detail"`
		FollowUp       string     `json:"followUp"`
		IssueURL       string     `json:"issueUrl"`
		AssigneeUserID string     `json:"assigneeUserId"`
		Status         string     `json:"status"`
		OnOrAfterAt    *time.Time `json:"onOrAfterAt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Title == "" {
		writeError(w, apperr.New(apperr.BadRequest, "title is required"))
		return
	}
	status := req.Status
	if status == "" {
		status = store.TaskQueued
	}
	if !taskStatuses[status] {
		writeError(w, apperr.New(apperr.BadRequest, "unknown status"))
		return
	}

	maxKey, err := h.swarm.MaxSortKey(r.Context(), req.ProjectID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "sort key lookup failed", err))
		return
	}
	task := &store.Task{
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Detail:         req.Detail,
		FollowUp:       req.FollowUp,
		IssueURL:       req.IssueURL,
		CreatorUserID:  ac.Identity,
		AssigneeUserID: strings.ToLower(req.AssigneeUserID),
		Status:         status,
		SortKey:        maxKey + 1,
		OnOrAfterAt:    req.OnOrAfterAt,
	}
	if err := h.swarm.CreateTask(r.Context(), task); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "task create failed", err))
		return
	}
	h.appendEvent(r, task.ID, ac.Identity, store.TaskEventCreated, nil, task)

	h.bus.Emit(bus.ChannelSwarm, bus.NewEvent(bus.EventSwarmTaskCreated, task.AssigneeUserID, task))
	if task.AssigneeUserID != "" {
		h.bus.EmitWakeTrigger(task.AssigneeUserID)
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *SwarmHandler) handleGetTask(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.swarm.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// taskState is the audit subset captured around a mutation.
type taskState struct {
	Status         string  `json:"status"`
	AssigneeUserID string  `json:"assigneeUserId,omitempty"`
	SortKey        float64 `json:"sortKey"`
}

func stateOf(t *store.Task) taskState {
	return taskState{Status: t.Status, AssigneeUserID: t.AssigneeUserID, SortKey: t.SortKey}
}

func (h *SwarmHandler) appendEvent(r *http.Request, taskID uuid.UUID, actor, kind string, before, after any) {
	ev := &store.TaskEvent{TaskID: taskID, ActorUserID: actor, Kind: kind}
	if before != nil {
		ev.BeforeState, _ = json.Marshal(before)
	}
	if after != nil {
		ev.AfterState, _ = json.Marshal(after)
	}
	if err := h.swarm.AppendTaskEvent(r.Context(), ev); err != nil {
		slog.Warn("task event append failed", "task", taskID, "error", err)
	}
}

func (h *SwarmHandler) handleUpdateTask(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Title          *string    `json:"title"`
		Detail         *string    `json:"detail"`
		FollowUp       *string    `json:"followUp"`
		IssueURL       *string    `json:"issueUrl"`
		AssigneeUserID *string    `json:"assigneeUserId"`
		Status         *string    `json:"status"`
		OnOrAfterAt    *time.Time `json:"onOrAfterAt"`
		BeforeTaskID   *uuid.UUID `json:"beforeTaskId"`
		Reorder        bool       `json:"reorder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	before, err := h.swarm.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}

	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Detail != nil {
		updates["detail"] = *req.Detail
	}
	if req.FollowUp != nil {
		updates["follow_up"] = *req.FollowUp
	}
	if req.IssueURL != nil {
		updates["issue_url"] = *req.IssueURL
	}
	if req.OnOrAfterAt != nil {
		updates["on_or_after_at"] = *req.OnOrAfterAt
	}
	if req.AssigneeUserID != nil {
		updates["assignee_user_id"] = strings.ToLower(*req.AssigneeUserID)
	}
	if req.Status != nil {
		if !taskStatuses[*req.Status] {
			writeError(w, apperr.New(apperr.BadRequest, "unknown status"))
			return
		}
		updates["status"] = *req.Status
		if *req.Status == store.TaskComplete {
			updates["completed_at"] = time.Now()
		} else if before.Status == store.TaskComplete {
			updates["completed_at"] = nil
		}
	}
	if req.Reorder || req.BeforeTaskID != nil {
		key, err := h.reorderKey(r, before, req.BeforeTaskID)
		if err != nil {
			writeError(w, err)
			return
		}
		updates["sort_key"] = key
	}
	if len(updates) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "no fields to update"))
		return
	}

	if err := h.swarm.UpdateTask(r.Context(), id, updates); err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	after, err := h.swarm.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}

	switch {
	case req.Status != nil && *req.Status != before.Status:
		h.appendEvent(r, id, ac.Identity, store.TaskEventStatusChanged, stateOf(before), stateOf(after))
	case req.AssigneeUserID != nil && after.AssigneeUserID != before.AssigneeUserID:
		h.appendEvent(r, id, ac.Identity, store.TaskEventAssigned, stateOf(before), stateOf(after))
	default:
		h.appendEvent(r, id, ac.Identity, store.TaskEventUpdated, stateOf(before), stateOf(after))
	}

	h.bus.Emit(bus.ChannelSwarm, bus.NewEvent(bus.EventSwarmTaskUpdated, after.AssigneeUserID, after))
	if req.AssigneeUserID != nil && after.AssigneeUserID != "" && after.AssigneeUserID != before.AssigneeUserID {
		h.bus.EmitWakeTrigger(after.AssigneeUserID)
	}
	writeJSON(w, http.StatusOK, after)
}

// reorderKey computes the new sortKey for a task moved before target, or to
// the end of the project when target is nil.
func (h *SwarmHandler) reorderKey(r *http.Request, task *store.Task, beforeTaskID *uuid.UUID) (float64, error) {
	if beforeTaskID == nil {
		maxKey, err := h.swarm.MaxSortKey(r.Context(), task.ProjectID)
		if err != nil {
			return 0, apperr.Wrap(apperr.Internal, "sort key lookup failed", err)
		}
		return maxKey + 1, nil
	}

	target, err := h.swarm.GetTask(r.Context(), *beforeTaskID)
	if err != nil {
		return 0, storeErr(err, "beforeTaskId")
	}
	// Midpoint between the target and its closest predecessor keeps the
	// move local; halving below the target covers the front of the list.
	siblings, err := h.swarm.ListTasks(r.Context(), store.TaskFilter{ProjectID: target.ProjectID, IncludeCompleted: true})
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "task list failed", err)
	}
	pred := target.SortKey - 2
	for _, s := range siblings {
		if s.ID != task.ID && s.SortKey < target.SortKey && s.SortKey > pred {
			pred = s.SortKey
		}
	}
	return (pred + target.SortKey) / 2, nil
}

// handleTaskStatus is the slim status-only transition endpoint.
func (h *SwarmHandler) handleTaskStatus(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !taskStatuses[req.Status] {
		writeError(w, apperr.New(apperr.BadRequest, "unknown status"))
		return
	}

	before, err := h.swarm.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	updates := map[string]any{"status": req.Status}
	if req.Status == store.TaskComplete {
		updates["completed_at"] = time.Now()
	} else if before.Status == store.TaskComplete {
		updates["completed_at"] = nil
	}
	if err := h.swarm.UpdateTask(r.Context(), id, updates); err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	after, err := h.swarm.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	h.appendEvent(r, id, ac.Identity, store.TaskEventStatusChanged, stateOf(before), stateOf(after))
	h.bus.Emit(bus.ChannelSwarm, bus.NewEvent(bus.EventSwarmTaskUpdated, after.AssigneeUserID, after))
	writeJSON(w, http.StatusOK, after)
}

func (h *SwarmHandler) handleDeleteTask(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.swarm.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	if err := h.swarm.DeleteTask(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	h.bus.Emit(bus.ChannelSwarm, bus.NewEvent(bus.EventSwarmTaskDeleted, task.AssigneeUserID, map[string]string{"id": id.String()}))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *SwarmHandler) handleTaskEvents(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.swarm.ListTaskEvents(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "event list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *SwarmHandler) handleTaskWorkflows(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	wfs, err := h.workflows.ListForTask(r.Context(), id)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "workflow list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func (h *SwarmHandler) handleAttachWorkflow(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		WorkflowID uuid.UUID `json:"workflowId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.workflows.Get(r.Context(), req.WorkflowID); err != nil {
		writeError(w, storeErr(err, "workflow"))
		return
	}
	if _, err := h.swarm.GetTask(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "task"))
		return
	}
	if err := h.workflows.Attach(r.Context(), req.WorkflowID, id); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "attach failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attached": true})
}

func (h *SwarmHandler) handleListWorkflows(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	wfs, err := h.workflows.ListVisible(r.Context(), ac.Identity)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "workflow list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func (h *SwarmHandler) handleCreateWorkflow(w http.ResponseWriter, r *http.Request, ac *auth.Context) {
	var req struct {
		Title       string   `json:"title"`
		URL         string   `json:"url"`
		Body        string   `json:"body"`
		TaggedUsers []string `json:"taggedUsers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Title == "" {
		writeError(w, apperr.New(apperr.BadRequest, "title is required"))
		return
	}
	if req.URL != "" {
		// Workflow documents get fetched server-side later; vet the URL now.
		if err := h.guard.CheckURL(r.Context(), req.URL); err != nil {
			writeError(w, apperr.Wrap(apperr.BadRequest, "url rejected", err))
			return
		}
	}
	wf := &store.Workflow{Title: req.Title, URL: req.URL, Body: req.Body, CreatedBy: ac.Identity, TaggedUsers: req.TaggedUsers}
	if err := h.workflows.Create(r.Context(), wf); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "workflow create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *SwarmHandler) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.workflows.Delete(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "workflow"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *SwarmHandler) handleListRecurring(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	templates, err := h.recurring.List(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "template list failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (h *SwarmHandler) handleCreateRecurring(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	var req struct {
		ProjectID      *uuid.UUID `json:"projectId"`
		Title          string     `json:"title"`
		Detail         string     `json:"detail"`
		AssigneeUserID string     `json:"assigneeUserId"`
		CronExpr       string     `json:"cronExpr"`
		Timezone       string     `json:"timezone"`
		InitialStatus  string     `json:"initialStatus"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Title == "" {
		writeError(w, apperr.New(apperr.BadRequest, "title is required"))
		return
	}
	if !scheduler.Validate(req.CronExpr) {
		writeError(w, apperr.New(apperr.BadRequest, "invalid cron expression"))
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "invalid timezone"))
		return
	}
	status := req.InitialStatus
	if status == "" {
		status = store.TaskQueued
	}
	if !taskStatuses[status] {
		writeError(w, apperr.New(apperr.BadRequest, "unknown initialStatus"))
		return
	}
	tpl := &store.RecurringTemplate{
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Detail:         req.Detail,
		AssigneeUserID: strings.ToLower(req.AssigneeUserID),
		CronExpr:       req.CronExpr,
		Timezone:       tz,
		InitialStatus:  status,
		Enabled:        true,
	}
	if err := h.recurring.Create(r.Context(), tpl); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "template create failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *SwarmHandler) handleUpdateRecurring(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Title          *string `json:"title"`
		Detail         *string `json:"detail"`
		AssigneeUserID *string `json:"assigneeUserId"`
		CronExpr       *string `json:"cronExpr"`
		Timezone       *string `json:"timezone"`
		Enabled        *bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updates := map[string]any{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Detail != nil {
		updates["detail"] = *req.Detail
	}
	if req.AssigneeUserID != nil {
		updates["assignee_user_id"] = strings.ToLower(*req.AssigneeUserID)
	}
	if req.CronExpr != nil {
		if !scheduler.Validate(*req.CronExpr) {
			writeError(w, apperr.New(apperr.BadRequest, "invalid cron expression"))
			return
		}
		updates["cron_expr"] = *req.CronExpr
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			writeError(w, apperr.New(apperr.BadRequest, "invalid timezone"))
			return
		}
		updates["timezone"] = *req.Timezone
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "no fields to update"))
		return
	}
	if err := h.recurring.Update(r.Context(), id, updates); err != nil {
		writeError(w, storeErr(err, "template"))
		return
	}
	tpl, err := h.recurring.Get(r.Context(), id)
	if err != nil {
		writeError(w, storeErr(err, "template"))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *SwarmHandler) handleDeleteRecurring(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.recurring.Delete(r.Context(), id); err != nil {
		writeError(w, storeErr(err, "template"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleRecurringTick forces a scheduler pass, for operators poking a
// template that should have fired.
func (h *SwarmHandler) handleRecurringTick(w http.ResponseWriter, r *http.Request, _ *auth.Context) {
	h.sched.TickAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
