// Package notebook hosts live collaborative editing sessions over notebook
// pages. While a page has connected editors its document is mastered in
// memory; snapshots are persisted on a debounce and the in-memory document
// is torn down shortly after the last editor leaves.
package notebook

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/colonyops/hive/internal/crdt"
	"github.com/colonyops/hive/internal/store"
)

const (
	saveDebounce = 5 * time.Second
	idleTeardown = 10 * time.Second
)

// peer is one connected editor.
type peer struct {
	identity string
	send     chan []byte
}

// session is the live in-memory state of one page being edited.
type session struct {
	pageID uuid.UUID
	doc    *crdt.Doc

	mu        sync.Mutex
	peers     map[*peer]bool
	dirty     bool
	saveTimer *time.Timer
	idleTimer *time.Timer
	closed    bool
}

// Manager owns all live sessions.
type Manager struct {
	pages store.NotebookStore

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewManager creates a session manager over the page store.
func NewManager(pages store.NotebookStore) *Manager {
	return &Manager{
		pages:    pages,
		sessions: make(map[uuid.UUID]*session),
	}
}

// acquire returns the live session for a page, loading the persisted
// snapshot into a fresh document when no session exists.
func (m *Manager) acquire(ctx context.Context, pageID uuid.UUID) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[pageID]; ok {
		return s, nil
	}

	page, err := m.pages.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}

	doc := crdt.NewDoc("server")
	if page.Content != "" {
		// Content is either a CRDT snapshot or plain text from before the
		// page was first edited collaboratively.
		if strings.HasPrefix(page.Content, "[") {
			if err := doc.LoadSnapshot([]byte(page.Content)); err != nil {
				doc = crdt.NewDoc("server")
				doc.SeedText(page.Content)
			}
		} else {
			doc.SeedText(page.Content)
		}
	}

	s := &session{
		pageID: pageID,
		doc:    doc,
		peers:  make(map[*peer]bool),
	}
	m.sessions[pageID] = s
	return s, nil
}

func (m *Manager) attach(s *session, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p] = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (m *Manager) detach(s *session, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
	close(p.send)
	if len(s.peers) > 0 {
		return
	}
	// Last editor left: keep the document around briefly for reconnects,
	// then flush and tear down.
	s.idleTimer = time.AfterFunc(idleTeardown, func() { m.teardown(s) })
}

func (m *Manager) teardown(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) > 0 || s.closed {
		return
	}
	s.closed = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	if s.dirty {
		m.persistLocked(s)
	}
	delete(m.sessions, s.pageID)
}

// markDirty schedules a debounced snapshot save.
func (m *Manager) markDirty(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.mu.Lock()
		s.saveTimer = nil
		if !s.dirty || s.closed {
			s.mu.Unlock()
			return
		}
		m.persistLocked(s)
		s.mu.Unlock()
	})
}

// persistLocked writes the current snapshot. Caller holds s.mu.
func (m *Manager) persistLocked(s *session) {
	snap, err := s.doc.Snapshot()
	if err != nil {
		slog.Error("notebook snapshot failed", "page", s.pageID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.pages.SaveContent(ctx, s.pageID, string(snap), time.Now()); err != nil {
		slog.Error("notebook save failed", "page", s.pageID, "error", err)
		return
	}
	s.dirty = false
}

// Flush persists every dirty session now. Used on shutdown.
func (m *Manager) Flush() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if s.dirty {
			m.persistLocked(s)
		}
		s.mu.Unlock()
	}
}

// broadcast queues a frame to every peer except the sender. Slow peers are
// skipped rather than blocking the document.
func (s *session) broadcast(from *peer, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		if p == from {
			continue
		}
		select {
		case p.send <- frame:
		default:
			slog.Warn("notebook peer send buffer full", "identity", p.identity)
		}
	}
}

// viewers snapshots connected editor identities, deduplicated and sorted.
func (s *session) viewers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for p := range s.peers {
		if !seen[p.identity] {
			seen[p.identity] = true
			out = append(out, p.identity)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyOps integrates remote ops into the page document and returns the
// frame to relay.
func (m *Manager) applyOps(s *session, ops []crdt.Op) error {
	for _, op := range ops {
		if err := s.doc.Apply(op); err != nil {
			return err
		}
	}
	m.markDirty(s)
	return nil
}

// LiveText returns the current text of a page if it has a live session.
func (m *Manager) LiveText(pageID uuid.UUID) (string, bool) {
	m.mu.Lock()
	s, ok := m.sessions[pageID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return s.doc.Text(), true
}

// PageText renders a stored page's content as plain text, decoding the
// snapshot form when present.
func PageText(content string) string {
	if content == "" || !strings.HasPrefix(content, "[") {
		return content
	}
	doc := crdt.NewDoc("render")
	if err := doc.LoadSnapshot([]byte(content)); err != nil {
		return content
	}
	return doc.Text()
}

func marshalFrame(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("notebook frame marshal failed", "error", err)
		return nil
	}
	return b
}
