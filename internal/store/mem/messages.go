package mem

import (
	"context"
	"sort"
	"time"

	"github.com/colonyops/hive/internal/store"
)

type messageStore struct{ s *state }

func (m *messageStore) Insert(_ context.Context, msg *store.Message) (*store.Message, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if msg.DedupeKey != "" {
		for _, row := range m.s.messages {
			if row.Sender == msg.Sender && row.Recipient == msg.Recipient && row.DedupeKey == msg.DedupeKey {
				cp := *row
				return &cp, false, nil
			}
		}
	}

	m.s.nextMsgID++
	msg.ID = m.s.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = store.MessageUnread
	}
	cp := *msg
	m.s.messages[msg.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *messageStore) Get(_ context.Context, id int64) (*store.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *messageStore) List(_ context.Context, recipient string, opts store.MessageListOpts) ([]store.Message, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var rows []store.Message
	for _, row := range m.s.messages {
		if row.Recipient != recipient {
			continue
		}
		if opts.Status != "" && row.Status != opts.Status {
			continue
		}
		rows = append(rows, *row)
	}
	total := len(rows)

	if opts.Status == store.MessageUnread {
		// Urgent first, then oldest first within each group.
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Urgent != rows[j].Urgent {
				return rows[i].Urgent
			}
			if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
				return rows[i].CreatedAt.Before(rows[j].CreatedAt)
			}
			return rows[i].ID < rows[j].ID
		})
	} else {
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
				return rows[i].CreatedAt.After(rows[j].CreatedAt)
			}
			return rows[i].ID > rows[j].ID
		})
	}

	if opts.Cursor > 0 {
		for i, row := range rows {
			if row.ID == opts.Cursor {
				rows = rows[i+1:]
				break
			}
		}
	}
	limit := opts.Limit
	if limit <= 0 || limit > 101 {
		limit = 101
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, total, nil
}

func (m *messageStore) Ack(_ context.Context, id int64, now time.Time) (*store.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	row.Status = store.MessageRead
	if row.ViewedAt == nil {
		row.ViewedAt = &now
	}
	cp := *row
	return &cp, nil
}

func (m *messageStore) MarkPending(_ context.Context, id int64, responder string, now time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	row.ResponseWaiting = true
	row.WaitingResponder = responder
	row.WaitingSince = &now
	return nil
}

func (m *messageStore) ClearPending(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	row.ResponseWaiting = false
	row.WaitingResponder = ""
	row.WaitingSince = nil
	return nil
}

func (m *messageStore) ListPendingForResponder(_ context.Context, responder string) ([]store.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []store.Message
	for _, row := range m.s.messages {
		if row.ResponseWaiting && row.WaitingResponder == responder {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *messageStore) ListWaitingOnOthers(_ context.Context, sender string) ([]store.Message, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []store.Message
	for _, row := range m.s.messages {
		if row.ResponseWaiting && row.Sender == sender && row.WaitingResponder != sender {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *messageStore) CountUnread(_ context.Context, recipient string) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, row := range m.s.messages {
		if row.Recipient == recipient && row.Status == store.MessageUnread {
			n++
		}
	}
	return n, nil
}
