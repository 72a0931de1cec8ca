package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/colonyops/hive/internal/store"
)

type messageStore struct{ db *sql.DB }

const messageCols = `id, sender, recipient, title, body, status, urgent, created_at, viewed_at,
	thread_id, reply_to_message_id, COALESCE(dedupe_key, ''), metadata,
	response_waiting, waiting_responder, waiting_since`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var m store.Message
	if err := row.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Title, &m.Body, &m.Status,
		&m.Urgent, &m.CreatedAt, &m.ViewedAt, &m.ThreadID, &m.ReplyToMessageID,
		&m.DedupeKey, &m.Metadata, &m.ResponseWaiting, &m.WaitingResponder,
		&m.WaitingSince); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *messageStore) Insert(ctx context.Context, m *store.Message) (*store.Message, bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Status == "" {
		m.Status = store.MessageUnread
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (sender, recipient, title, body, status, urgent, created_at,
		   thread_id, reply_to_message_id, dedupe_key, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (sender, recipient, dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
		 RETURNING id`,
		m.Sender, m.Recipient, m.Title, m.Body, m.Status, m.Urgent, m.CreatedAt,
		m.ThreadID, m.ReplyToMessageID, nullStr(m.DedupeKey), m.Metadata,
	).Scan(&m.ID)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	// Conflict on the dedupe index: return the existing row.
	existing, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE sender = $1 AND recipient = $2 AND dedupe_key = $3`,
		m.Sender, m.Recipient, m.DedupeKey))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *messageStore) Get(ctx context.Context, id int64) (*store.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
}

func (s *messageStore) List(ctx context.Context, recipient string, opts store.MessageListOpts) ([]store.Message, int, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 101 {
		limit = 101
	}

	where := `WHERE recipient = $1`
	args := []any{recipient}
	if opts.Status != "" {
		where += ` AND status = $2`
		args = append(args, opts.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Unread pages surface urgent first, then oldest first. Everything else
	// pages newest first.
	order := `ORDER BY created_at DESC, id DESC`
	cursorCmp := `(created_at, id) < (SELECT created_at, id FROM messages WHERE id = %d)`
	if opts.Status == store.MessageUnread {
		order = `ORDER BY urgent DESC, created_at, id`
		cursorCmp = `(CASE WHEN urgent THEN 0 ELSE 1 END, created_at, id) >
			(SELECT CASE WHEN urgent THEN 0 ELSE 1 END, created_at, id FROM messages WHERE id = %d)`
	}
	if opts.Cursor > 0 {
		where += ` AND ` + fmt.Sprintf(cursorCmp, opts.Cursor)
	}

	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages `+where+` `+order+
			fmt.Sprintf(` LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

func (s *messageStore) Ack(ctx context.Context, id int64, now time.Time) (*store.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1, viewed_at = COALESCE(viewed_at, $2) WHERE id = $3`,
		store.MessageRead, now, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *messageStore) MarkPending(ctx context.Context, id int64, responder string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET response_waiting = TRUE, waiting_responder = $1, waiting_since = $2
		 WHERE id = $3`, responder, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *messageStore) ClearPending(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET response_waiting = FALSE, waiting_responder = '', waiting_since = NULL
		 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *messageStore) ListPendingForResponder(ctx context.Context, responder string) ([]store.Message, error) {
	return s.listWhere(ctx,
		`WHERE response_waiting = TRUE AND waiting_responder = $1 ORDER BY waiting_since`, responder)
}

func (s *messageStore) ListWaitingOnOthers(ctx context.Context, sender string) ([]store.Message, error) {
	return s.listWhere(ctx,
		`WHERE response_waiting = TRUE AND sender = $1 ORDER BY waiting_since`, sender)
}

func (s *messageStore) listWhere(ctx context.Context, clause string, args ...any) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *messageStore) CountUnread(ctx context.Context, recipient string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient = $1 AND status = $2`,
		recipient, store.MessageUnread).Scan(&n)
	return n, err
}
