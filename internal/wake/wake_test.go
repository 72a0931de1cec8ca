package wake

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/mem"
)

func sources(r *Response) map[string]int {
	out := make(map[string]int)
	for _, it := range r.Items {
		out[it.Source]++
	}
	return out
}

func TestWakeCollectsMailSources(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "https://hive.example")
	ctx := context.Background()

	st.Messages.Insert(ctx, &store.Message{Sender: "alice", Recipient: "agent", Title: "hi"})
	m2, _, _ := st.Messages.Insert(ctx, &store.Message{Sender: "agent", Recipient: "bob", Title: "question"})
	st.Messages.MarkPending(ctx, m2.ID, "agent", time.Now())

	resp, err := svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatalf("wake: %v", err)
	}
	got := sources(resp)
	if got[SourceMessage] != 1 || got[SourceMessagePending] != 1 {
		t.Fatalf("sources = %v, want one message and one pending", got)
	}
	for _, it := range resp.Items {
		if it.Source == SourceMessage && it.Action != "Read and respond to this message." {
			t.Fatalf("message action = %q", it.Action)
		}
	}
	// One skill pointer per non-empty category, both backed by the
	// mailbox doc.
	if len(resp.Actions) != 2 {
		t.Fatalf("actions = %+v, want one per category", resp.Actions)
	}
	for _, a := range resp.Actions {
		if a.SkillURL != "https://hive.example/api/skills/mailbox" {
			t.Fatalf("skill url = %s", a.SkillURL)
		}
	}
	if resp.Summary == nil || *resp.Summary != "1 unread message, 1 pending reply" {
		t.Fatalf("summary = %v", resp.Summary)
	}
	if resp.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestEmptyWakeShape(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "")

	resp, err := svc.Wake(context.Background(), "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Items == nil || len(resp.Items) != 0 {
		t.Fatalf("items = %#v, want empty slice", resp.Items)
	}
	if resp.Actions == nil || len(resp.Actions) != 0 {
		t.Fatalf("actions = %#v, want empty slice", resp.Actions)
	}
	if resp.Summary != nil {
		t.Fatalf("summary = %q, want null", *resp.Summary)
	}
}

func TestBuzzIsServedExactlyOnce(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "")
	ctx := context.Background()

	wh := &store.BroadcastWebhook{AppName: "ci", Token: "tok", Owner: "queen", WakeAgent: "agent", Enabled: true}
	st.Broadcast.CreateWebhook(ctx, wh)
	st.Broadcast.InsertEvent(ctx, &store.BroadcastEvent{WebhookID: wh.ID, AppName: "ci", Title: "build red"})

	resp, err := svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sources(resp)[SourceBuzz] != 1 {
		t.Fatalf("first wake buzzes = %d, want 1", sources(resp)[SourceBuzz])
	}
	buzz := resp.Items[0]
	if buzz.Role != RoleWake || buzz.Priority != PriorityHigh {
		t.Fatalf("buzz item = %+v, want high-priority wake role", buzz)
	}
	if buzz.Action != "Create a swarm task in ready to investigate this alert." {
		t.Fatalf("buzz action = %q", buzz.Action)
	}

	resp, err = svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sources(resp)[SourceBuzz] != 0 {
		t.Fatal("buzz served twice")
	}

	// A different identity on the same webhook still gets nothing: the
	// event only targets the configured wake agent.
	resp, _ = svc.Wake(ctx, "other", Options{})
	if len(resp.Items) != 0 {
		t.Fatalf("unrelated identity got %d items", len(resp.Items))
	}
}

func TestNotifyBuzzIsNormalPriority(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "")
	ctx := context.Background()

	wh := &store.BroadcastWebhook{AppName: "ci", Token: "tok", Owner: "queen", NotifyAgent: "watcher", Enabled: true}
	st.Broadcast.CreateWebhook(ctx, wh)
	st.Broadcast.InsertEvent(ctx, &store.BroadcastEvent{WebhookID: wh.ID, AppName: "ci", Title: "deploy done"})

	resp, err := svc.Wake(ctx, "watcher", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("items = %+v", resp.Items)
	}
	it := resp.Items[0]
	if it.Role != RoleNotify || it.Priority != PriorityNormal || it.Action != "Review for awareness." {
		t.Fatalf("notify item = %+v", it)
	}
}

func TestBackupAlertOnStalePrimary(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "")
	ctx := context.Background()

	stale := time.Now().Add(-30 * time.Hour)
	st.Tokens.Create(ctx, &store.Token{
		Token: "t1", Identity: "primary", BackupAgent: "agent",
		StaleTriggerHours: 24, LastUsedAt: &stale,
	})
	fresh := time.Now().Add(-time.Hour)
	st.Tokens.Create(ctx, &store.Token{
		Token: "t2", Identity: "active", BackupAgent: "agent",
		StaleTriggerHours: 24, LastUsedAt: &fresh,
	})

	resp, err := svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	var backups []Item
	for _, it := range resp.Items {
		if it.Source == SourceBackup {
			backups = append(backups, it)
		}
	}
	if len(backups) != 1 || backups[0].Ref != "primary" {
		t.Fatalf("backup alerts = %+v, want one for primary", backups)
	}
	if backups[0].Action != "Check if primary is offline and notify the team." {
		t.Fatalf("backup action = %q", backups[0].Action)
	}
}

func TestBackupPrefersPresenceActivity(t *testing.T) {
	st := mem.New()
	tracker := presence.NewTracker()
	svc := New(st, tracker, "")
	ctx := context.Background()

	// The token looks stale but the tracker saw the primary just now.
	stale := time.Now().Add(-30 * time.Hour)
	st.Tokens.Create(ctx, &store.Token{
		Token: "t1", Identity: "primary", BackupAgent: "agent",
		StaleTriggerHours: 24, LastUsedAt: &stale,
	})
	tracker.Touch("primary", presence.SourceAPI)

	resp, err := svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sources(resp)[SourceBackup] != 0 {
		t.Fatalf("items = %+v, want no backup alert for a present primary", resp.Items)
	}

	// Presence last saw the primary long ago: the alert fires even with
	// a recently used token.
	past := time.Now().Add(-48 * time.Hour)
	tracker.SetClock(func() time.Time { return past })
	tracker.Touch("primary", presence.SourceAPI)
	tracker.SetClock(time.Now)
	fresh := time.Now().Add(-time.Hour)
	st.Tokens.Create(ctx, &store.Token{
		Token: "t2", Identity: "primary", BackupAgent: "agent",
		StaleTriggerHours: 24, LastUsedAt: &fresh,
	})

	resp, err = svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sources(resp)[SourceBackup] != 1 {
		t.Fatalf("items = %+v, want a backup alert for a quiet primary", resp.Items)
	}
}

func TestTaskWorkingHoursSuppression(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "")
	ctx := context.Background()

	p := &store.Project{Title: "ops", WorkHoursStart: "09:00", WorkHoursEnd: "17:00", WorkHoursTimezone: "UTC"}
	st.Swarm.CreateProject(ctx, p)
	st.Swarm.CreateTask(ctx, &store.Task{
		ProjectID: &p.ID, Title: "rotate keys", CreatorUserID: "queen",
		AssigneeUserID: "agent", Status: store.TaskReady,
	})

	// 03:00 UTC is outside the window.
	night := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return night })

	resp, err := svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sources(resp)[SourceSwarm] != 0 || resp.OffHoursSuppressed != 1 {
		t.Fatalf("night wake = %+v, want suppression", resp)
	}

	resp, _ = svc.Wake(ctx, "agent", Options{IncludeOffHours: true})
	if sources(resp)[SourceSwarm] != 1 {
		t.Fatal("includeOffHours did not surface the task")
	}

	noon := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return noon })
	resp, _ = svc.Wake(ctx, "agent", Options{})
	if sources(resp)[SourceSwarm] != 1 || resp.OffHoursSuppressed != 0 {
		t.Fatalf("noon wake = %+v, want task visible", resp)
	}
}

func TestOnlyActionableTaskStatusesWake(t *testing.T) {
	st := mem.New()
	svc := New(st, nil, "")
	ctx := context.Background()

	st.Swarm.CreateTask(ctx, &store.Task{Title: "parked", CreatorUserID: "q", AssigneeUserID: "agent", Status: store.TaskHolding})
	st.Swarm.CreateTask(ctx, &store.Task{Title: "someday", CreatorUserID: "q", AssigneeUserID: "agent", Status: store.TaskQueued})
	future := time.Now().Add(48 * time.Hour)
	st.Swarm.CreateTask(ctx, &store.Task{Title: "later", CreatorUserID: "q", AssigneeUserID: "agent", Status: store.TaskReady, OnOrAfterAt: &future})
	st.Swarm.CreateTask(ctx, &store.Task{Title: "now", CreatorUserID: "q", AssigneeUserID: "agent", Status: store.TaskInProgress})

	resp, err := svc.Wake(ctx, "agent", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n := sources(resp)[SourceSwarm]; n != 1 {
		t.Fatalf("swarm items = %d, want only the active one", n)
	}
	it := resp.Items[0]
	if it.Ref == "" || it.Title != "task in_progress: now" {
		t.Fatalf("item = %+v", it)
	}
	if it.Action != "Verify and update" {
		t.Fatalf("in_progress action = %q", it.Action)
	}
}

func TestWithinWorkHours(t *testing.T) {
	day := &store.Project{WorkHoursStart: "09:00", WorkHoursEnd: "17:00", WorkHoursTimezone: "UTC"}
	night := &store.Project{WorkHoursStart: "22:00", WorkHoursEnd: "06:00", WorkHoursTimezone: "UTC"}
	open := &store.Project{}

	at := func(h int) time.Time { return time.Date(2026, 8, 24, h, 0, 0, 0, time.UTC) }

	if !withinWorkHours(day, at(9)) || withinWorkHours(day, at(17)) {
		t.Fatal("day window boundaries wrong: start inclusive, end exclusive")
	}
	if withinWorkHours(day, at(3)) {
		t.Fatal("night inside day window")
	}
	if !withinWorkHours(night, at(23)) || !withinWorkHours(night, at(3)) || withinWorkHours(night, at(12)) {
		t.Fatal("overnight window wrong")
	}
	if !withinWorkHours(open, at(3)) {
		t.Fatal("project without hours suppressed")
	}
}
