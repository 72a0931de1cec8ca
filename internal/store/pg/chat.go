package pg

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/store"
)

type chatStore struct{ db *sql.DB }

func dmKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func (s *chatStore) GetOrCreateDM(ctx context.Context, a, b string) (*store.ChatChannel, bool, error) {
	key := dmKey(a, b)

	id := store.GenNewID()
	now := time.Now()
	var created bool
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_channels (id, type, created_by, created_at, dm_key)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (dm_key) WHERE dm_key IS NOT NULL DO NOTHING
		 RETURNING id`,
		id, store.ChannelDM, a, now, key,
	).Scan(&id)
	switch {
	case err == nil:
		created = true
		for _, m := range []string{a, b} {
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO chat_members (channel_id, identity, joined_at) VALUES ($1, $2, $3)
				 ON CONFLICT DO NOTHING`, id, m, now); err != nil {
				return nil, false, err
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		if err := s.db.QueryRowContext(ctx,
			`SELECT id FROM chat_channels WHERE dm_key = $1`, key).Scan(&id); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, err
	}

	ch, err := s.GetChannel(ctx, id)
	return ch, created, err
}

func (s *chatStore) CreateGroup(ctx context.Context, name, createdBy string, members []string) (*store.ChatChannel, error) {
	id := store.GenNewID()
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_channels (id, type, name, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, store.ChannelGroup, name, createdBy, now); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, m := range append(members, createdBy) {
		if seen[m] {
			continue
		}
		seen[m] = true
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO chat_members (channel_id, identity, joined_at) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`, id, m, now); err != nil {
			return nil, err
		}
	}
	return s.GetChannel(ctx, id)
}

func (s *chatStore) GetChannel(ctx context.Context, id uuid.UUID) (*store.ChatChannel, error) {
	var ch store.ChatChannel
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, name, created_by, created_at FROM chat_channels WHERE id = $1`, id).
		Scan(&ch.ID, &ch.Type, &ch.Name, &ch.CreatedBy, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity FROM chat_members WHERE channel_id = $1 ORDER BY identity`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		ch.Members = append(ch.Members, m)
	}
	return &ch, rows.Err()
}

func (s *chatStore) ListChannels(ctx context.Context, identity string) ([]store.ChatChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.type, c.name, c.created_by, c.created_at,
		   (SELECT COUNT(*) FROM chat_messages m
		    WHERE m.channel_id = c.id AND m.sender <> $1
		      AND (me.last_read_at IS NULL OR m.created_at > me.last_read_at)) AS unread
		 FROM chat_channels c
		 JOIN chat_members me ON me.channel_id = c.id AND me.identity = $1
		 ORDER BY c.created_at DESC`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ChatChannel
	for rows.Next() {
		var ch store.ChatChannel
		if err := rows.Scan(&ch.ID, &ch.Type, &ch.Name, &ch.CreatedBy, &ch.CreatedAt, &ch.Unread); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		full, err := s.GetChannel(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Members = full.Members
	}
	return out, nil
}

func (s *chatStore) IsMember(ctx context.Context, channelID uuid.UUID, identity string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_members WHERE channel_id = $1 AND identity = $2)`,
		channelID, identity).Scan(&ok)
	return ok, err
}

func (s *chatStore) InsertMessage(ctx context.Context, m *store.ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (channel_id, sender, body, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		m.ChannelID, m.Sender, m.Body, m.CreatedAt,
	).Scan(&m.ID)
}

func (s *chatStore) ListMessages(ctx context.Context, channelID uuid.UUID, limit int, before int64) ([]store.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	where := `WHERE channel_id = $1`
	args := []any{channelID}
	if before > 0 {
		where += ` AND id < $2`
		args = append(args, before)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, sender, body, created_at
		 FROM (SELECT * FROM chat_messages `+where+` ORDER BY id DESC LIMIT $`+
			itoa(len(args))+`) sub ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ChatMessage
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *chatStore) MarkRead(ctx context.Context, channelID uuid.UUID, identity string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_members SET last_read_at = $1 WHERE channel_id = $2 AND identity = $3`,
		at, channelID, identity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
