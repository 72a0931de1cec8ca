// Package wake assembles the "what should I do right now" answer an agent
// polls for: unread mail, replies it owes, actionable swarm tasks, undelivered
// broadcast buzzes and stale-backup alerts, collapsed into one response.
package wake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/apperr"
	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/store"
)

// Item source tags.
const (
	SourceMessage        = "message"
	SourceMessagePending = "message_pending"
	SourceSwarm          = "swarm"
	SourceBuzz           = "buzz"
	SourceBackup         = "backup"
)

// Item priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// Buzz roles.
const (
	RoleWake   = "wake"
	RoleNotify = "notify"
)

// Pending follow-ups older than this are promoted to high priority.
const pendingPromoteAfter = 24 * time.Hour

// Item is one reason the agent was woken.
type Item struct {
	Source   string `json:"source"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Action   string `json:"action"`
	Ref      string `json:"ref,omitempty"`
	// Role distinguishes wake from notify buzzes; empty on other sources.
	Role string `json:"role,omitempty"`
}

// Action points at the skill documentation for one non-empty source
// category.
type Action struct {
	Source   string `json:"source"`
	SkillURL string `json:"skill_url"`
}

// Response is a full wake answer. Summary is null when there is nothing to
// do.
type Response struct {
	Identity  string    `json:"identity"`
	Items     []Item    `json:"items"`
	Actions   []Action  `json:"actions"`
	Summary   *string   `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	// OffHoursSuppressed counts swarm items hidden by project working
	// hours; callers pass includeOffHours to see them anyway.
	OffHoursSuppressed int `json:"offHoursSuppressed,omitempty"`
}

// Options tunes one wake call.
type Options struct {
	IncludeOffHours bool
}

// Service aggregates wake sources.
type Service struct {
	stores   *store.Stores
	presence *presence.Tracker
	baseURL  string
	now      func() time.Time
}

// New creates a wake service. tracker supplies presence activity for
// stale-backup detection; baseURL is used to mint skill doc links.
func New(stores *store.Stores, tracker *presence.Tracker, baseURL string) *Service {
	return &Service{stores: stores, presence: tracker, baseURL: baseURL, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Wake builds the item list for identity. Buzz items are at-most-once:
// serving them marks the underlying events delivered to this identity.
func (s *Service) Wake(ctx context.Context, identity string, opts Options) (*Response, error) {
	now := s.now()
	resp := &Response{Identity: identity, Timestamp: now, Items: []Item{}, Actions: []Action{}}

	buzzIDs, err := s.addBuzzes(ctx, identity, resp)
	if err != nil {
		return nil, err
	}
	if err := s.addBackupAlerts(ctx, identity, now, resp); err != nil {
		return nil, err
	}
	if err := s.addMessages(ctx, identity, now, resp); err != nil {
		return nil, err
	}
	if err := s.addTasks(ctx, identity, now, opts, resp); err != nil {
		return nil, err
	}

	resp.Actions = s.actionsFor(resp.Items)
	resp.Summary = summarize(resp.Items)

	// Delivery is recorded once the whole response is assembled, so an
	// error in a later source cannot burn the buzz.
	if len(buzzIDs) > 0 {
		if err := s.stores.Broadcast.MarkDelivered(ctx, buzzIDs, identity); err != nil {
			slog.Error("buzz delivery mark failed", "identity", identity, "error", err)
		}
	}
	return resp, nil
}

func (s *Service) addBuzzes(ctx context.Context, identity string, resp *Response) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, role := range []string{RoleWake, RoleNotify} {
		events, err := s.stores.Broadcast.UndeliveredForAgent(ctx, identity, role)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "buzz lookup failed", err)
		}
		prio, action := PriorityHigh, "Create a swarm task in ready to investigate this alert."
		if role == RoleNotify {
			prio, action = PriorityNormal, "Review for awareness."
		}
		for _, ev := range events {
			resp.Items = append(resp.Items, Item{
				Source:   SourceBuzz,
				Priority: prio,
				Title:    fmt.Sprintf("%s: %s", ev.AppName, ev.Title),
				Detail:   ev.BodyText,
				Action:   action,
				Ref:      ev.ID.String(),
				Role:     role,
			})
			ids = append(ids, ev.ID)
		}
	}
	return ids, nil
}

func (s *Service) addBackupAlerts(ctx context.Context, identity string, now time.Time, resp *Response) error {
	toks, err := s.stores.Tokens.ListAll(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "token scan failed", err)
	}
	flagged := make(map[string]bool)
	for _, t := range toks {
		if t.BackupAgent != identity || t.StaleTriggerHours <= 0 || !t.Valid(now) {
			continue
		}
		if flagged[t.Identity] {
			continue
		}
		// Presence activity is authoritative; tokens only seed the clock
		// for identities not seen since the process started.
		last, seen := s.lastSeen(t.Identity)
		if !seen {
			last = t.CreatedAt
			if t.LastUsedAt != nil {
				last = *t.LastUsedAt
			}
		}
		staleFor := now.Sub(last)
		if staleFor < time.Duration(t.StaleTriggerHours)*time.Hour {
			continue
		}
		flagged[t.Identity] = true
		resp.Items = append(resp.Items, Item{
			Source:   SourceBackup,
			Priority: PriorityHigh,
			Title:    fmt.Sprintf("%s has been quiet for %dh", t.Identity, int(staleFor.Hours())),
			Action:   fmt.Sprintf("Check if %s is offline and notify the team.", t.Identity),
			Ref:      t.Identity,
		})
	}
	return nil
}

func (s *Service) lastSeen(identity string) (time.Time, bool) {
	if s.presence == nil {
		return time.Time{}, false
	}
	return s.presence.LastSeen(identity)
}

func (s *Service) addMessages(ctx context.Context, identity string, now time.Time, resp *Response) error {
	unread, _, err := s.stores.Messages.List(ctx, identity, store.MessageListOpts{Status: store.MessageUnread})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "unread lookup failed", err)
	}
	for _, m := range unread {
		prio := PriorityNormal
		if m.Urgent {
			prio = PriorityHigh
		}
		resp.Items = append(resp.Items, Item{
			Source:   SourceMessage,
			Priority: prio,
			Title:    fmt.Sprintf("message from %s: %s", m.Sender, m.Title),
			Action:   "Read and respond to this message.",
			Ref:      fmt.Sprintf("%d", m.ID),
		})
	}

	pending, err := s.stores.Messages.ListPendingForResponder(ctx, identity)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "pending lookup failed", err)
	}
	for _, m := range pending {
		age := now.Sub(m.CreatedAt)
		if m.WaitingSince != nil {
			age = now.Sub(*m.WaitingSince)
		}
		prio := PriorityNormal
		if age >= pendingPromoteAfter {
			prio = PriorityHigh
		}
		resp.Items = append(resp.Items, Item{
			Source:   SourceMessagePending,
			Priority: prio,
			Title:    fmt.Sprintf("%s is waiting on your reply: %s", m.Sender, m.Title),
			Action:   fmt.Sprintf("You marked this for follow-up %dh ago. Deliver or clear pending.", int(age.Hours())),
			Ref:      fmt.Sprintf("%d", m.ID),
		})
	}
	return nil
}

func (s *Service) addTasks(ctx context.Context, identity string, now time.Time, opts Options, resp *Response) error {
	tasks, err := s.stores.Swarm.ListTasks(ctx, store.TaskFilter{
		Assignee: identity,
		Statuses: []string{store.TaskReady, store.TaskInProgress, store.TaskReview},
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "task lookup failed", err)
	}

	projects := make(map[uuid.UUID]*store.Project)
	for _, task := range tasks {
		if task.OnOrAfterAt != nil && task.OnOrAfterAt.After(now) {
			continue
		}

		if task.ProjectID != nil && !opts.IncludeOffHours {
			p, ok := projects[*task.ProjectID]
			if !ok {
				p, err = s.stores.Swarm.GetProject(ctx, *task.ProjectID)
				if err != nil {
					p = nil
				}
				projects[*task.ProjectID] = p
			}
			if p != nil && !withinWorkHours(p, now) {
				resp.OffHoursSuppressed++
				continue
			}
		}

		resp.Items = append(resp.Items, Item{
			Source:   SourceSwarm,
			Priority: PriorityNormal,
			Title:    fmt.Sprintf("task %s: %s", task.Status, task.Title),
			Detail:   task.Detail,
			Action:   taskAction(task.Status),
			Ref:      task.ID.String(),
		})
	}
	return nil
}

func taskAction(status string) string {
	switch status {
	case store.TaskReady:
		return "Pick it up"
	case store.TaskInProgress:
		return "Verify and update"
	case store.TaskReview:
		return "Review and approve/reject"
	}
	return ""
}

// actionsFor emits one skill pointer per source category present in items.
func (s *Service) actionsFor(items []Item) []Action {
	skills := map[string]string{
		SourceMessage:        "mailbox",
		SourceMessagePending: "mailbox",
		SourceSwarm:          "swarm",
		SourceBuzz:           "broadcast",
		SourceBackup:         "backup",
	}
	seen := make(map[string]bool)
	out := []Action{}
	for _, it := range items {
		if seen[it.Source] {
			continue
		}
		seen[it.Source] = true
		out = append(out, Action{Source: it.Source, SkillURL: s.skillURL(skills[it.Source])})
	}
	return out
}

func summarize(items []Item) *string {
	if len(items) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, it := range items {
		counts[it.Source]++
	}
	var parts []string
	add := func(source, singular, plural string) {
		n := counts[source]
		if n == 0 {
			return
		}
		word := singular
		if n != 1 {
			word = plural
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, word))
	}
	add(SourceMessage, "unread message", "unread messages")
	add(SourceMessagePending, "pending reply", "pending replies")
	add(SourceSwarm, "swarm task", "swarm tasks")
	add(SourceBuzz, "buzz", "buzzes")
	add(SourceBackup, "backup alert", "backup alerts")
	s := strings.Join(parts, ", ")
	return &s
}

func (s *Service) skillURL(name string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/api/skills/" + name
}

// withinWorkHours reports whether now falls inside the project's working
// window [start, end) in its timezone. Projects without a window are always
// in hours.
func withinWorkHours(p *store.Project, now time.Time) bool {
	if p.WorkHoursStart == "" || p.WorkHoursEnd == "" {
		return true
	}
	loc := time.UTC
	if p.WorkHoursTimezone != "" {
		if l, err := time.LoadLocation(p.WorkHoursTimezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	start, ok1 := parseClock(p.WorkHoursStart)
	end, ok2 := parseClock(p.WorkHoursEnd)
	if !ok1 || !ok2 {
		return true
	}
	if start == end {
		return true
	}
	if start < end {
		return cur >= start && cur < end
	}
	// Overnight window, e.g. 22:00 to 06:00.
	return cur >= start || cur < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
