// Package crdt implements a replicated growable array over runes: a
// convergent sequence type where concurrent inserts and deletes from any
// number of peers merge to the same document without coordination.
package crdt

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ElemID identifies one inserted element. Peer disambiguates concurrent
// counters; IDs are totally ordered by (Counter, Peer).
type ElemID struct {
	Peer    string `json:"p"`
	Counter uint64 `json:"c"`
}

// Zero is the sentinel origin for inserts at the head of the document.
var Zero = ElemID{}

func (a ElemID) less(b ElemID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Peer < b.Peer
}

// Op kinds.
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// Op is one replicated edit. Insert carries the new element's ID, its
// left-neighbor Origin at insert time and the rune Value. Delete names the
// target element in ID.
type Op struct {
	Type   string `json:"type"`
	ID     ElemID `json:"id"`
	Origin ElemID `json:"origin,omitempty"`
	Value  string `json:"value,omitempty"`
}

type element struct {
	id      ElemID
	origin  ElemID
	value   rune
	deleted bool
}

// Doc is one replica of the document. All methods are safe for concurrent
// use.
type Doc struct {
	mu       sync.Mutex
	peer     string
	counter  uint64
	elems    []element
	applied  map[ElemID]bool
	deferred []Op
}

// NewDoc creates an empty replica owned by peer.
func NewDoc(peer string) *Doc {
	return &Doc{
		peer:    peer,
		applied: make(map[ElemID]bool),
	}
}

// Text renders the visible document.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]rune, 0, len(d.elems))
	for _, e := range d.elems {
		if !e.deleted {
			out = append(out, e.value)
		}
	}
	return string(out)
}

// Len reports the visible rune count.
func (d *Doc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.elems {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Insert inserts text before visible position pos and returns the ops to
// replicate. pos is clamped to the document bounds.
func (d *Doc) Insert(pos int, text string) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	origin := d.originAtLocked(pos)
	ops := make([]Op, 0, len(text))
	for _, r := range text {
		d.counter++
		op := Op{
			Type:   OpInsert,
			ID:     ElemID{Peer: d.peer, Counter: d.counter},
			Origin: origin,
			Value:  string(r),
		}
		d.integrateInsertLocked(op)
		ops = append(ops, op)
		origin = op.ID
	}
	return ops
}

// Delete removes n visible runes starting at pos and returns the ops.
func (d *Doc) Delete(pos, n int) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ops []Op
	visible := -1
	for i := range d.elems {
		if d.elems[i].deleted {
			continue
		}
		visible++
		if visible < pos {
			continue
		}
		if len(ops) == n {
			break
		}
		d.elems[i].deleted = true
		ops = append(ops, Op{Type: OpDelete, ID: d.elems[i].id})
	}
	return ops
}

// Apply integrates a remote op. Duplicate delivery is a no-op; an insert
// whose origin has not arrived yet is deferred until it can attach.
func (d *Doc) Apply(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(op)
}

func (d *Doc) applyLocked(op Op) error {
	switch op.Type {
	case OpInsert:
		if d.applied[op.ID] {
			return nil
		}
		if op.Origin != Zero && !d.applied[op.Origin] {
			d.deferred = append(d.deferred, op)
			return nil
		}
		d.integrateInsertLocked(op)
		d.drainDeferredLocked()
		return nil
	case OpDelete:
		for i := range d.elems {
			if d.elems[i].id == op.ID {
				d.elems[i].deleted = true
				return nil
			}
		}
		// Delete for an element we have not seen: defer.
		d.deferred = append(d.deferred, op)
		return nil
	default:
		return fmt.Errorf("unknown op type %q", op.Type)
	}
}

func (d *Doc) drainDeferredLocked() {
	for {
		progressed := false
		pending := d.deferred
		d.deferred = nil
		for _, op := range pending {
			before := len(d.deferred)
			d.applyLocked(op)
			if len(d.deferred) == before {
				progressed = true
			}
		}
		if !progressed || len(d.deferred) == 0 {
			return
		}
	}
}

// integrateInsertLocked places the element after its origin, skipping over
// concurrent inserts with the same origin that carry a larger ID. This is
// what makes concurrent edits commute.
func (d *Doc) integrateInsertLocked(op Op) {
	if op.Value == "" {
		return
	}
	d.applied[op.ID] = true
	if op.ID.Peer == d.peer && op.ID.Counter > d.counter {
		d.counter = op.ID.Counter
	}

	originIdx := -1
	if op.Origin != Zero {
		for i := range d.elems {
			if d.elems[i].id == op.Origin {
				originIdx = i
				break
			}
		}
	}

	at := originIdx + 1
	for at < len(d.elems) {
		e := d.elems[at]
		if e.origin == op.Origin && op.ID.less(e.id) {
			at++
			continue
		}
		// An element originated at something to our right belongs to a
		// sibling subtree that sorts before us.
		if e.origin != op.Origin && d.withinSubtreeLocked(at, originIdx) {
			at++
			continue
		}
		break
	}

	runes := []rune(op.Value)
	el := element{id: op.ID, origin: op.Origin, value: runes[0]}
	d.elems = append(d.elems, element{})
	copy(d.elems[at+1:], d.elems[at:])
	d.elems[at] = el
}

// withinSubtreeLocked reports whether elems[idx] descends from an origin at
// or after rootIdx, i.e. still inside a sibling's subtree.
func (d *Doc) withinSubtreeLocked(idx, rootIdx int) bool {
	for {
		origin := d.elems[idx].origin
		if origin == Zero {
			return rootIdx < 0
		}
		oi := -1
		for i := range d.elems {
			if d.elems[i].id == origin {
				oi = i
				break
			}
		}
		if oi <= rootIdx {
			return oi == rootIdx && rootIdx >= 0
		}
		idx = oi
	}
}

// snapshotElem is the wire form of one element.
type snapshotElem struct {
	ID      ElemID `json:"id"`
	Origin  ElemID `json:"origin"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Snapshot serializes the full replica state, tombstones included.
func (d *Doc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]snapshotElem, len(d.elems))
	for i, e := range d.elems {
		out[i] = snapshotElem{ID: e.id, Origin: e.origin, Value: string(e.value), Deleted: e.deleted}
	}
	return json.Marshal(out)
}

// LoadSnapshot replaces the replica state with a serialized snapshot.
func (d *Doc) LoadSnapshot(data []byte) error {
	var in []snapshotElem
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.elems = make([]element, 0, len(in))
	d.applied = make(map[ElemID]bool, len(in))
	d.deferred = nil
	for _, e := range in {
		runes := []rune(e.Value)
		if len(runes) == 0 {
			continue
		}
		d.elems = append(d.elems, element{id: e.ID, origin: e.Origin, value: runes[0], deleted: e.Deleted})
		d.applied[e.ID] = true
		if e.ID.Peer == d.peer && e.ID.Counter > d.counter {
			d.counter = e.ID.Counter
		}
	}
	return nil
}

// SeedText initializes an empty replica with plain text, used when opening
// a page persisted before collaborative editing.
func (d *Doc) SeedText(text string) {
	d.Insert(0, text)
}

// originAtLocked returns the ID of the visible element before position pos,
// or Zero at the head.
func (d *Doc) originAtLocked(pos int) ElemID {
	if pos <= 0 {
		return Zero
	}
	visible := 0
	for _, e := range d.elems {
		if e.deleted {
			continue
		}
		visible++
		if visible == pos {
			return e.id
		}
	}
	// Past the end: anchor at the last element, deleted or not.
	if len(d.elems) > 0 {
		return d.elems[len(d.elems)-1].id
	}
	return Zero
}
