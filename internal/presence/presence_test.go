package presence

import (
	"testing"
	"time"
)

func TestTouchAndOnline(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.SetClock(func() time.Time { return now })

	tr.Touch("alice", SourceAPI)
	if !tr.Online("alice") {
		t.Fatal("alice should be online after touch")
	}
	if tr.Online("bob") {
		t.Fatal("bob never seen but online")
	}

	now = now.Add(6 * time.Minute)
	if tr.Online("alice") {
		t.Fatal("alice still online past the window")
	}
}

func TestStreamsPinSSESource(t *testing.T) {
	tr := NewTracker()

	tr.StreamConnected("agent")
	tr.Touch("agent", SourceAPI)

	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].Source != SourceSSE || snap[0].Streams != 1 {
		t.Fatalf("snapshot = %+v, want sse-pinned with one stream", snap)
	}

	tr.StreamDisconnected("agent")
	tr.Touch("agent", SourceAPI)
	if snap := tr.Snapshot(); snap[0].Source != SourceAPI {
		t.Fatalf("source = %s, want api after last stream closed", snap[0].Source)
	}
}

func TestSweep(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.SetClock(func() time.Time { return now })

	tr.Touch("idle", SourceAPI)
	tr.StreamConnected("streaming")
	now = now.Add(time.Hour)
	tr.Touch("fresh", SourceAPI)

	if removed := tr.Sweep(30 * time.Minute); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("entries = %d, want streaming and fresh kept", len(snap))
	}
	for _, e := range snap {
		if e.Identity == "idle" {
			t.Fatal("idle entry survived sweep")
		}
	}
}

func TestSnapshotOrder(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.SetClock(func() time.Time { return now })

	tr.Touch("zed", SourceAPI)
	now = now.Add(10 * time.Minute)
	tr.Touch("amy", SourceAPI)

	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].Identity != "amy" || !snap[0].Online || snap[1].Online {
		t.Fatalf("snapshot = %+v, want online amy first", snap)
	}
}
