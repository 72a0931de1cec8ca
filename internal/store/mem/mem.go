// Package mem provides in-memory store implementations used by tests and
// by the doctor command's dry-run mode. Behavior mirrors the Postgres
// implementations including ordering and conflict semantics.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/store"
)

// Stores bundles all in-memory backends over one shared state and lock.
type Stores struct {
	state *state
}

type state struct {
	mu sync.Mutex

	users   map[string]*store.User
	tokens  map[uuid.UUID]*store.Token
	invites map[uuid.UUID]*store.Invite

	messages  map[int64]*store.Message
	nextMsgID int64

	channels    map[uuid.UUID]*store.ChatChannel
	members     map[uuid.UUID]map[string]*store.ChatMember
	chatMsgs    []*store.ChatMessage
	nextChatID  int64
	nextEventID int64

	projects   map[uuid.UUID]*store.Project
	tasks      map[uuid.UUID]*store.Task
	taskEvents []*store.TaskEvent

	workflows   map[uuid.UUID]*store.Workflow
	attachments []store.WorkflowAttachment

	webhooks map[uuid.UUID]*store.BroadcastWebhook
	events   map[uuid.UUID]*store.BroadcastEvent

	templates map[uuid.UUID]*store.RecurringTemplate
	pages     map[uuid.UUID]*store.NotebookPage
}

// New creates an empty in-memory store set.
func New() *store.Stores {
	s := &state{
		users:     make(map[string]*store.User),
		tokens:    make(map[uuid.UUID]*store.Token),
		invites:   make(map[uuid.UUID]*store.Invite),
		messages:  make(map[int64]*store.Message),
		channels:  make(map[uuid.UUID]*store.ChatChannel),
		members:   make(map[uuid.UUID]map[string]*store.ChatMember),
		projects:  make(map[uuid.UUID]*store.Project),
		tasks:     make(map[uuid.UUID]*store.Task),
		workflows: make(map[uuid.UUID]*store.Workflow),
		webhooks:  make(map[uuid.UUID]*store.BroadcastWebhook),
		events:    make(map[uuid.UUID]*store.BroadcastEvent),
		templates: make(map[uuid.UUID]*store.RecurringTemplate),
		pages:     make(map[uuid.UUID]*store.NotebookPage),
	}
	return &store.Stores{
		Users:     &userStore{s},
		Tokens:    &tokenStore{s},
		Invites:   &inviteStore{s},
		Messages:  &messageStore{s},
		Chat:      &chatStore{s},
		Swarm:     &swarmStore{s},
		Workflows: &workflowStore{s},
		Broadcast: &broadcastStore{s},
		Recurring: &recurringStore{s},
		Notebook:  &notebookStore{s},
	}
}

// --- users ---

type userStore struct{ s *state }

func (u *userStore) Get(_ context.Context, id string) (*store.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	row, ok := u.s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (u *userStore) List(_ context.Context, includeArchived bool) ([]store.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	var out []store.User
	for _, row := range u.s.users {
		if !includeArchived && row.ArchivedAt != nil {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *userStore) Upsert(_ context.Context, row *store.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if existing, ok := u.s.users[row.ID]; ok {
		existing.DisplayName = row.DisplayName
		existing.IsAdmin = row.IsAdmin
		existing.IsAgent = row.IsAgent
		if row.AvatarURL != "" {
			existing.AvatarURL = row.AvatarURL
		}
		return nil
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	cp := *row
	u.s.users[row.ID] = &cp
	return nil
}

func (u *userStore) Archive(_ context.Context, id string, at time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	row, ok := u.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	row.ArchivedAt = &at
	return nil
}

// --- tokens ---

type tokenStore struct{ s *state }

func (t *tokenStore) GetByToken(_ context.Context, token string) (*store.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, row := range t.s.tokens {
		if row.Token == token {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tokenStore) GetByID(_ context.Context, id uuid.UUID) (*store.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.s.tokens[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (t *tokenStore) ListByIdentity(_ context.Context, identity string) ([]store.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []store.Token
	for _, row := range t.s.tokens {
		if row.Identity == identity {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tokenStore) ListAll(_ context.Context) ([]store.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []store.Token
	for _, row := range t.s.tokens {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tokenStore) Create(_ context.Context, row *store.Token) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = store.GenNewID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	cp := *row
	t.s.tokens[row.ID] = &cp
	return nil
}

func (t *tokenStore) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.s.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	row.RevokedAt = &at
	return nil
}

func (t *tokenStore) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if row, ok := t.s.tokens[id]; ok {
		row.LastUsedAt = &at
	}
	return nil
}

func (t *tokenStore) UpdateWebhook(_ context.Context, id uuid.UUID, url, token string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	row, ok := t.s.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	row.WebhookURL = url
	row.WebhookToken = token
	return nil
}

// --- invites ---

type inviteStore struct{ s *state }

func (i *inviteStore) GetByCode(_ context.Context, code string) (*store.Invite, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	for _, row := range i.s.invites {
		if row.Code == code {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (i *inviteStore) Create(_ context.Context, row *store.Invite) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = store.GenNewID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	cp := *row
	i.s.invites[row.ID] = &cp
	return nil
}

func (i *inviteStore) List(_ context.Context) ([]store.Invite, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var out []store.Invite
	for _, row := range i.s.invites {
		out = append(out, *row)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (i *inviteStore) IncrementUse(_ context.Context, id uuid.UUID) (bool, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	row, ok := i.s.invites[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if row.UseCount >= row.MaxUses {
		return false, nil
	}
	row.UseCount++
	return true, nil
}

func (i *inviteStore) Delete(_ context.Context, id uuid.UUID) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	delete(i.s.invites, id)
	return nil
}
