package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/mem"
)

func TestTickTemplateMintsDueInstance(t *testing.T) {
	st := mem.New()
	b := bus.New()
	s := New(st.Recurring, st.Swarm, b)
	ctx := context.Background()

	var wakes []string
	b.Subscribe(bus.ChannelWake, func(ev bus.Event) { wakes = append(wakes, ev.Identity) })

	created := time.Date(2026, 8, 24, 8, 30, 0, 0, time.UTC)
	tpl := &store.RecurringTemplate{
		Title:          "standup notes",
		AssigneeUserID: "scribe",
		CronExpr:       "0 9 * * *",
		Timezone:       "UTC",
		Enabled:        true,
		CreatedAt:      created,
	}
	st.Recurring.Create(ctx, tpl)

	// Before 09:00 nothing is due.
	s.SetClock(func() time.Time { return created })
	n, err := s.TickTemplate(ctx, tpl)
	if err != nil || n != 0 {
		t.Fatalf("early tick: n=%d err=%v", n, err)
	}

	// After 09:00 exactly one instance is minted.
	s.SetClock(func() time.Time { return created.Add(time.Hour) })
	tpl2, _ := st.Recurring.Get(ctx, tpl.ID)
	n, err = s.TickTemplate(ctx, tpl2)
	if err != nil || n != 1 {
		t.Fatalf("due tick: n=%d err=%v", n, err)
	}

	tasks, _ := st.Swarm.ListTasks(ctx, store.TaskFilter{Assignee: "scribe"})
	if len(tasks) != 1 || tasks[0].RecurringTemplateID == nil || *tasks[0].RecurringTemplateID != tpl.ID {
		t.Fatalf("tasks = %+v", tasks)
	}
	if len(wakes) != 1 || wakes[0] != "scribe" {
		t.Fatalf("wakes = %v", wakes)
	}

	// Ticking again at the same time mints nothing: lastTickAt advanced.
	tpl3, _ := st.Recurring.Get(ctx, tpl.ID)
	n, err = s.TickTemplate(ctx, tpl3)
	if err != nil || n != 0 {
		t.Fatalf("repeat tick: n=%d err=%v", n, err)
	}
}

func TestCatchUpIsCapped(t *testing.T) {
	st := mem.New()
	s := New(st.Recurring, st.Swarm, bus.New())
	ctx := context.Background()

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tpl := &store.RecurringTemplate{
		Title:     "hourly sync",
		CronExpr:  "0 * * * *",
		Timezone:  "UTC",
		Enabled:   true,
		CreatedAt: created,
	}
	st.Recurring.Create(ctx, tpl)

	// Ten hours of downtime, but only catchUpCap instances mint.
	s.SetClock(func() time.Time { return created.Add(10 * time.Hour) })
	n, err := s.TickTemplate(ctx, tpl)
	if err != nil {
		t.Fatal(err)
	}
	if n != catchUpCap {
		t.Fatalf("minted = %d, want %d", n, catchUpCap)
	}
}

func TestTickTemplateBadInputs(t *testing.T) {
	st := mem.New()
	s := New(st.Recurring, st.Swarm, bus.New())
	ctx := context.Background()

	bad := &store.RecurringTemplate{Title: "x", CronExpr: "not a cron", Timezone: "UTC", CreatedAt: time.Now().Add(-time.Hour)}
	st.Recurring.Create(ctx, bad)
	if _, err := s.TickTemplate(ctx, bad); err == nil {
		t.Fatal("bad cron accepted")
	}

	tz := &store.RecurringTemplate{Title: "y", CronExpr: "* * * * *", Timezone: "Mars/Olympus", CreatedAt: time.Now()}
	st.Recurring.Create(ctx, tz)
	if _, err := s.TickTemplate(ctx, tz); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestValidate(t *testing.T) {
	if !Validate("*/5 * * * *") {
		t.Fatal("valid cron rejected")
	}
	if Validate("banana") {
		t.Fatal("garbage cron accepted")
	}
}
