// Package store defines Hive's persisted entity types and the storage
// interfaces the rest of the server is written against.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is an identity row. The id is a lowercase slug and doubles as the
// identity used on bus channels, mailboxes and presence.
type User struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	IsAdmin     bool       `json:"isAdmin"`
	IsAgent     bool       `json:"isAgent"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Token is a bearer credential bound to an identity. The token string is the
// secret and is only ever returned from create/rotate responses.
type Token struct {
	ID                uuid.UUID  `json:"id"`
	Token             string     `json:"-"`
	Identity          string     `json:"identity"`
	Label             string     `json:"label"`
	CreatedBy         string     `json:"createdBy"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastUsedAt        *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	WebhookURL        string     `json:"webhookUrl,omitempty"`
	WebhookToken      string     `json:"-"`
	BackupAgent       string     `json:"backupAgent,omitempty"`
	StaleTriggerHours int        `json:"staleTriggerHours,omitempty"`
}

// Valid reports whether the token is usable right now.
func (t *Token) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// Invite is a consumable registration code.
type Invite struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	IdentityHint string     `json:"identityHint,omitempty"`
	IsAdmin      bool       `json:"isAdmin"`
	MaxUses      int        `json:"maxUses"`
	UseCount     int        `json:"useCount"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Message statuses.
const (
	MessageUnread = "unread"
	MessageRead   = "read"
)

// Message is a durable mailbox row addressed to a single recipient.
type Message struct {
	ID               int64           `json:"id"`
	Sender           string          `json:"sender"`
	Recipient        string          `json:"recipient"`
	Title            string          `json:"title"`
	Body             string          `json:"body,omitempty"`
	Status           string          `json:"status"`
	Urgent           bool            `json:"urgent"`
	CreatedAt        time.Time       `json:"createdAt"`
	ViewedAt         *time.Time      `json:"viewedAt,omitempty"`
	ThreadID         string          `json:"threadId,omitempty"`
	ReplyToMessageID *int64          `json:"replyToMessageId,omitempty"`
	DedupeKey        string          `json:"dedupeKey,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	ResponseWaiting  bool            `json:"responseWaiting"`
	WaitingResponder string          `json:"waitingResponder,omitempty"`
	WaitingSince     *time.Time      `json:"waitingSince,omitempty"`
}

// Chat channel types.
const (
	ChannelDM    = "dm"
	ChannelGroup = "group"
)

// ChatChannel is a DM or group room.
type ChatChannel struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []string  `json:"members,omitempty"`
	Unread    int       `json:"unread,omitempty"`
}

// ChatMember tracks membership and read position.
type ChatMember struct {
	ChannelID  uuid.UUID  `json:"channelId"`
	Identity   string     `json:"identity"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
}

// ChatMessage is one message in a channel.
type ChatMessage struct {
	ID        int64     `json:"id"`
	ChannelID uuid.UUID `json:"channelId"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Task statuses in listing-precedence order.
const (
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskReady      = "ready"
	TaskQueued     = "queued"
	TaskHolding    = "holding"
	TaskComplete   = "complete"
)

// StatusRank returns the fixed listing precedence for a task status.
// Unknown statuses sort last.
func StatusRank(status string) int {
	switch status {
	case TaskInProgress:
		return 0
	case TaskReview:
		return 1
	case TaskReady:
		return 2
	case TaskQueued:
		return 3
	case TaskHolding:
		return 4
	case TaskComplete:
		return 5
	default:
		return 6
	}
}

// Project groups tasks and defines a working-hours window.
type Project struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Color             string     `json:"color"`
	Description       string     `json:"description,omitempty"`
	ProjectLeadUserID string     `json:"projectLeadUserId,omitempty"`
	DevLeadUserID     string     `json:"developerLeadUserId,omitempty"`
	WorkHoursStart    string     `json:"workHoursStart,omitempty"` // "09:00"
	WorkHoursEnd      string     `json:"workHoursEnd,omitempty"`   // "17:00"
	WorkHoursTimezone string     `json:"workHoursTimezone,omitempty"`
	BlockingMode      string     `json:"blockingMode,omitempty"`
	RepoURL           string     `json:"repoUrl,omitempty"`
	DocsURL           string     `json:"docsUrl,omitempty"`
	ArchivedAt        *time.Time `json:"archivedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Task is a unit of swarm work.
type Task struct {
	ID                   uuid.UUID  `json:"id"`
	ProjectID            *uuid.UUID `json:"projectId,omitempty"`
	Title                string     `json:"title"`
	Detail               string     `json:"detail,omitempty"`
	FollowUp             string     `json:"followUp,omitempty"`
	IssueURL             string     `json:"issueUrl,omitempty"`
	CreatorUserID        string     `json:"creatorUserId"`
	AssigneeUserID       string     `json:"assigneeUserId,omitempty"`
	Status               string     `json:"status"`
	SortKey              float64    `json:"sortKey"`
	OnOrAfterAt          *time.Time `json:"onOrAfterAt,omitempty"`
	MustBeDoneAfterTask  *uuid.UUID `json:"mustBeDoneAfterTaskId,omitempty"`
	NextTaskID           *uuid.UUID `json:"nextTaskId,omitempty"`
	NextTaskAssignee     string     `json:"nextTaskAssigneeUserId,omitempty"`
	RecurringTemplateID  *uuid.UUID `json:"recurringTemplateId,omitempty"`
	RecurringInstanceAt  *time.Time `json:"recurringInstanceAt,omitempty"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// TaskEvent is an append-only audit entry for a task.
type TaskEvent struct {
	ID          int64           `json:"id"`
	TaskID      uuid.UUID       `json:"taskId"`
	ActorUserID string          `json:"actorUserId"`
	Kind        string          `json:"kind"`
	BeforeState json.RawMessage `json:"beforeState,omitempty"`
	AfterState  json.RawMessage `json:"afterState,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Task event kinds.
const (
	TaskEventCreated       = "created"
	TaskEventStatusChanged = "status_changed"
	TaskEventAssigned      = "assigned"
	TaskEventUpdated       = "updated"
	TaskEventDeleted       = "deleted"
)

// Workflow is a reference document attached to tasks.
type Workflow struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Body        string    `json:"body,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	TaggedUsers []string  `json:"taggedUsers,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WorkflowAttachment links a workflow to a task.
type WorkflowAttachment struct {
	WorkflowID uuid.UUID `json:"workflowId"`
	TaskID     uuid.UUID `json:"taskId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BroadcastWebhook is an ingest capability. The (AppName, Token) pair is
// the credential for the public ingest URL.
type BroadcastWebhook struct {
	ID          uuid.UUID  `json:"id"`
	AppName     string     `json:"appName"`
	Token       string     `json:"token"`
	Title       string     `json:"title"`
	Owner       string     `json:"owner"`
	ForUsers    string     `json:"forUsers,omitempty"`
	WakeAgent   string     `json:"wakeAgent,omitempty"`
	NotifyAgent string     `json:"notifyAgent,omitempty"`
	Enabled     bool       `json:"enabled"`
	LastHitAt   *time.Time `json:"lastHitAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// BroadcastEvent is one ingested external event. DeliveredToWake holds the
// identities already served this event through a wake call.
type BroadcastEvent struct {
	ID              uuid.UUID       `json:"id"`
	WebhookID       uuid.UUID       `json:"webhookId"`
	AppName         string          `json:"appName"`
	Title           string          `json:"title"`
	ForUsers        string          `json:"forUsers,omitempty"`
	ContentType     string          `json:"contentType,omitempty"`
	BodyText        string          `json:"bodyText,omitempty"`
	BodyJSON        json.RawMessage `json:"bodyJson,omitempty"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	DeliveredToWake []string        `json:"deliveredToWake,omitempty"`
}

// RecurringTemplate mints task instances on a cron cadence.
type RecurringTemplate struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      *uuid.UUID `json:"projectId,omitempty"`
	Title          string     `json:"title"`
	Detail         string     `json:"detail,omitempty"`
	AssigneeUserID string     `json:"assigneeUserId,omitempty"`
	CronExpr       string     `json:"cronExpr"`
	Timezone       string     `json:"timezone"`
	InitialStatus  string     `json:"initialStatus"`
	Enabled        bool       `json:"enabled"`
	LastTickAt     *time.Time `json:"lastTickAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// NotebookPage is a collaborative text document. Content is the serialized
// document snapshot; the live state is mastered in memory while editing.
type NotebookPage struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	CreatedBy   string     `json:"createdBy"`
	TaggedUsers []string   `json:"taggedUsers,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Locked      bool       `json:"locked"`
	LockedBy    string     `json:"lockedBy,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ReviewAt    *time.Time `json:"reviewAt,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// GenNewID returns a fresh v4 UUID.
func GenNewID() uuid.UUID { return uuid.New() }
