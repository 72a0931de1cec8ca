// Package presence tracks which identities have been seen recently and
// through what path.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Sources, in increasing priority. A live SSE stream outranks a plain API
// call when both are current.
const (
	SourceAPI = "api"
	SourceSSE = "sse"
)

// onlineWindow is how long after the last touch an identity counts online.
const onlineWindow = 5 * time.Minute

// Entry is one identity's presence snapshot.
type Entry struct {
	Identity   string    `json:"identity"`
	Source     string    `json:"source"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Online     bool      `json:"online"`
	Streams    int       `json:"streams,omitempty"`
}

type record struct {
	source     string
	lastSeenAt time.Time
	streams    int
}

// Tracker is an in-memory presence table.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*record
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*record),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Touch records activity for an identity.
func (t *Tracker) Touch(identity, source string) {
	if identity == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[identity]
	if !ok {
		r = &record{}
		t.entries[identity] = r
	}
	r.lastSeenAt = t.now()
	if r.streams > 0 {
		// A live stream keeps the identity pinned to the sse source.
		r.source = SourceSSE
		return
	}
	r.source = source
}

// StreamConnected marks an open SSE stream for identity.
func (t *Tracker) StreamConnected(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[identity]
	if !ok {
		r = &record{}
		t.entries[identity] = r
	}
	r.streams++
	r.source = SourceSSE
	r.lastSeenAt = t.now()
}

// StreamDisconnected drops one open stream for identity.
func (t *Tracker) StreamDisconnected(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.entries[identity]; ok && r.streams > 0 {
		r.streams--
		r.lastSeenAt = t.now()
	}
}

// Snapshot returns all tracked identities, online first, then by identity.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	out := make([]Entry, 0, len(t.entries))
	for id, r := range t.entries {
		out = append(out, Entry{
			Identity:   id,
			Source:     r.source,
			LastSeenAt: r.lastSeenAt,
			Online:     r.streams > 0 || now.Sub(r.lastSeenAt) < onlineWindow,
			Streams:    r.streams,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// LastSeen returns the most recent activity time for identity and whether
// the tracker has seen it at all since startup.
func (t *Tracker) LastSeen(identity string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[identity]
	if !ok {
		return time.Time{}, false
	}
	if r.streams > 0 {
		return t.now(), true
	}
	return r.lastSeenAt, true
}

// Online reports whether identity is currently considered online.
func (t *Tracker) Online(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[identity]
	if !ok {
		return false
	}
	return r.streams > 0 || t.now().Sub(r.lastSeenAt) < onlineWindow
}

// Sweep drops identities idle past ttl with no open streams. Run it
// periodically so the table does not grow unbounded.
func (t *Tracker) Sweep(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for id, r := range t.entries {
		if r.streams == 0 && now.Sub(r.lastSeenAt) > ttl {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}
