package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Users     UserStore
	Tokens    TokenStore
	Invites   InviteStore
	Messages  MessageStore
	Chat      ChatStore
	Swarm     SwarmStore
	Workflows WorkflowStore
	Broadcast BroadcastStore
	Recurring RecurringStore
	Notebook  NotebookStore
}

// UserStore persists identity rows.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, includeArchived bool) ([]User, error)
	// Upsert inserts or updates the row by id.
	Upsert(ctx context.Context, u *User) error
	Archive(ctx context.Context, id string, at time.Time) error
}

// TokenStore persists bearer credentials.
type TokenStore interface {
	GetByToken(ctx context.Context, token string) (*Token, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Token, error)
	ListByIdentity(ctx context.Context, identity string) ([]Token, error)
	ListAll(ctx context.Context) ([]Token, error)
	Create(ctx context.Context, t *Token) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateWebhook(ctx context.Context, id uuid.UUID, url, token string) error
}

// InviteStore persists registration codes.
type InviteStore interface {
	GetByCode(ctx context.Context, code string) (*Invite, error)
	Create(ctx context.Context, inv *Invite) error
	List(ctx context.Context) ([]Invite, error)
	// IncrementUse bumps useCount only while useCount < maxUses and reports
	// whether the increment happened.
	IncrementUse(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageListOpts filters a mailbox page.
type MessageListOpts struct {
	Status string
	Limit  int
	Cursor int64
}

// MessageStore persists mailbox rows.
type MessageStore interface {
	// Insert stores the message. When DedupeKey is set and a row with the
	// same (sender, recipient, dedupeKey) exists, the existing row is
	// returned with inserted=false.
	Insert(ctx context.Context, m *Message) (msg *Message, inserted bool, err error)
	Get(ctx context.Context, id int64) (*Message, error)
	List(ctx context.Context, recipient string, opts MessageListOpts) (msgs []Message, total int, err error)
	Ack(ctx context.Context, id int64, now time.Time) (*Message, error)
	MarkPending(ctx context.Context, id int64, responder string, now time.Time) error
	ClearPending(ctx context.Context, id int64) error
	ListPendingForResponder(ctx context.Context, responder string) ([]Message, error)
	ListWaitingOnOthers(ctx context.Context, sender string) ([]Message, error)
	CountUnread(ctx context.Context, recipient string) (int, error)
}

// ChatStore persists rooms, membership and chat messages.
type ChatStore interface {
	// GetOrCreateDM returns the unique DM channel for the member pair,
	// creating it when absent.
	GetOrCreateDM(ctx context.Context, a, b string) (*ChatChannel, bool, error)
	CreateGroup(ctx context.Context, name, createdBy string, members []string) (*ChatChannel, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*ChatChannel, error)
	ListChannels(ctx context.Context, identity string) ([]ChatChannel, error)
	IsMember(ctx context.Context, channelID uuid.UUID, identity string) (bool, error)
	InsertMessage(ctx context.Context, m *ChatMessage) error
	ListMessages(ctx context.Context, channelID uuid.UUID, limit int, before int64) ([]ChatMessage, error)
	MarkRead(ctx context.Context, channelID uuid.UUID, identity string, at time.Time) error
}

// TaskFilter narrows a task listing.
type TaskFilter struct {
	Statuses         []string
	Assignee         string
	ProjectID        *uuid.UUID
	IncludeCompleted bool
}

// SwarmStore persists projects, tasks and task audit events.
type SwarmStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ListProjects(ctx context.Context, includeArchived bool) ([]Project, error)
	UpdateProject(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ArchiveProject(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	// ListTasks returns rows in the fixed order: status precedence, then
	// sortKey ascending, then createdAt ascending.
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, updates map[string]any) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
	MaxSortKey(ctx context.Context, projectID *uuid.UUID) (float64, error)

	AppendTaskEvent(ctx context.Context, ev *TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID uuid.UUID) ([]TaskEvent, error)
}

// WorkflowStore persists reference documents and their task attachments.
type WorkflowStore interface {
	Create(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id uuid.UUID) (*Workflow, error)
	// ListVisible returns workflows whose taggedUsers set is empty or
	// contains identity.
	ListVisible(ctx context.Context, identity string) ([]Workflow, error)
	Attach(ctx context.Context, workflowID, taskID uuid.UUID) error
	ListForTask(ctx context.Context, taskID uuid.UUID) ([]Workflow, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// BroadcastStore persists ingest webhooks and their events.
type BroadcastStore interface {
	CreateWebhook(ctx context.Context, w *BroadcastWebhook) error
	GetWebhook(ctx context.Context, appName, token string) (*BroadcastWebhook, error)
	GetWebhookByID(ctx context.Context, id uuid.UUID) (*BroadcastWebhook, error)
	ListWebhooks(ctx context.Context) ([]BroadcastWebhook, error)
	UpdateWebhook(ctx context.Context, id uuid.UUID, updates map[string]any) error
	DeleteWebhook(ctx context.Context, id uuid.UUID) error
	TouchWebhook(ctx context.Context, id uuid.UUID, at time.Time) error

	InsertEvent(ctx context.Context, ev *BroadcastEvent) error
	// RecentEvents returns up to limit most recent events for the webhook,
	// newest first.
	RecentEvents(ctx context.Context, webhookID uuid.UUID, limit int) ([]BroadcastEvent, error)
	ListEvents(ctx context.Context, appName string, limit int) ([]BroadcastEvent, error)
	// UndeliveredForAgent returns events from webhooks naming identity as
	// wakeAgent (role "wake") or notifyAgent (role "notify") that have not
	// yet been delivered to that identity.
	UndeliveredForAgent(ctx context.Context, identity, role string) ([]BroadcastEvent, error)
	// MarkDelivered appends identity to deliveredToWake for each event id.
	MarkDelivered(ctx context.Context, eventIDs []uuid.UUID, identity string) error
}

// RecurringStore persists recurring task templates.
type RecurringStore interface {
	Create(ctx context.Context, t *RecurringTemplate) error
	Get(ctx context.Context, id uuid.UUID) (*RecurringTemplate, error)
	ListEnabled(ctx context.Context) ([]RecurringTemplate, error)
	List(ctx context.Context) ([]RecurringTemplate, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SetLastTick(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// NotebookStore persists notebook pages.
type NotebookStore interface {
	Create(ctx context.Context, p *NotebookPage) error
	Get(ctx context.Context, id uuid.UUID) (*NotebookPage, error)
	ListVisible(ctx context.Context, identity string) ([]NotebookPage, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SaveContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}
