// Package scheduler mints task instances from recurring templates on their
// cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/store"
)

const (
	tickInterval = time.Minute
	// catchUpCap bounds how many missed instances a template mints in one
	// pass, so a long outage does not flood a project.
	catchUpCap = 5
)

// Scheduler runs the recurring-template loop.
type Scheduler struct {
	recurring store.RecurringStore
	swarm     store.SwarmStore
	bus       *bus.Bus
	now       func() time.Time
}

// New creates a scheduler.
func New(recurring store.RecurringStore, swarm store.SwarmStore, b *bus.Bus) *Scheduler {
	return &Scheduler{recurring: recurring, swarm: swarm, bus: b, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run ticks once immediately (catching up anything missed while down) and
// then every minute until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.TickAll(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickAll(ctx)
		}
	}
}

// TickAll evaluates every enabled template. One broken template never
// stops the rest.
func (s *Scheduler) TickAll(ctx context.Context) {
	templates, err := s.recurring.ListEnabled(ctx)
	if err != nil {
		slog.Error("recurring template list failed", "error", err)
		return
	}
	for i := range templates {
		if n, err := s.TickTemplate(ctx, &templates[i]); err != nil {
			slog.Error("recurring tick failed", "template", templates[i].Title, "error", err)
		} else if n > 0 {
			slog.Info("recurring tasks minted", "template", templates[i].Title, "count", n)
		}
	}
}

// TickTemplate mints all due instances for one template and returns how
// many were created.
func (s *Scheduler) TickTemplate(ctx context.Context, tpl *store.RecurringTemplate) (int, error) {
	loc := time.UTC
	if tpl.Timezone != "" {
		l, err := time.LoadLocation(tpl.Timezone)
		if err != nil {
			return 0, fmt.Errorf("bad timezone %q: %w", tpl.Timezone, err)
		}
		loc = l
	}

	now := s.now()
	cursor := tpl.CreatedAt
	if tpl.LastTickAt != nil {
		cursor = *tpl.LastTickAt
	}

	minted := 0
	for minted < catchUpCap {
		next, err := gronx.NextTickAfter(tpl.CronExpr, cursor.In(loc), false)
		if err != nil {
			return minted, fmt.Errorf("bad cron %q: %w", tpl.CronExpr, err)
		}
		if next.After(now) {
			break
		}

		if err := s.mintInstance(ctx, tpl, next); err != nil {
			return minted, err
		}
		if err := s.recurring.SetLastTick(ctx, tpl.ID, next); err != nil {
			return minted, err
		}
		cursor = next
		minted++
	}
	return minted, nil
}

func (s *Scheduler) mintInstance(ctx context.Context, tpl *store.RecurringTemplate, at time.Time) error {
	status := tpl.InitialStatus
	if status == "" {
		status = store.TaskQueued
	}
	maxKey, err := s.swarm.MaxSortKey(ctx, tpl.ProjectID)
	if err != nil {
		return err
	}

	instanceAt := at
	task := &store.Task{
		ProjectID:           tpl.ProjectID,
		Title:               tpl.Title,
		Detail:              tpl.Detail,
		CreatorUserID:       "scheduler",
		AssigneeUserID:      tpl.AssigneeUserID,
		Status:              status,
		SortKey:             maxKey + 1,
		RecurringTemplateID: &tpl.ID,
		RecurringInstanceAt: &instanceAt,
	}
	if err := s.swarm.CreateTask(ctx, task); err != nil {
		return err
	}
	if err := s.swarm.AppendTaskEvent(ctx, &store.TaskEvent{
		TaskID:      task.ID,
		ActorUserID: "scheduler",
		Kind:        store.TaskEventCreated,
	}); err != nil {
		slog.Warn("task event append failed", "task", task.ID, "error", err)
	}

	s.bus.Emit(bus.ChannelSwarm, bus.NewEvent(bus.EventSwarmTaskCreated, tpl.AssigneeUserID, task))
	if tpl.AssigneeUserID != "" {
		s.bus.EmitWakeTrigger(tpl.AssigneeUserID)
	}
	return nil
}

// Validate reports whether expr is an acceptable cron expression.
func Validate(expr string) bool {
	return gronx.New().IsValid(expr)
}
