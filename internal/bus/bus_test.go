package bus

import (
	"sync"
	"testing"
)

func TestSubscribeEmitUnsubscribe(t *testing.T) {
	b := New()

	var got []EventType
	unsub := b.Subscribe("alice", func(ev Event) {
		got = append(got, ev.Type)
	})

	b.Emit("alice", Event{Type: EventMessage})
	b.Emit("bob", Event{Type: EventMessage}) // different channel, not delivered
	b.Emit("alice", Event{Type: EventChatMessage})

	if len(got) != 2 || got[0] != EventMessage || got[1] != EventChatMessage {
		t.Fatalf("got %v, want [message chat_message]", got)
	}

	unsub()
	b.Emit("alice", Event{Type: EventMessage})
	if len(got) != 2 {
		t.Fatalf("listener still invoked after unsubscribe")
	}

	// Double unsubscribe is harmless.
	unsub()
	if n := b.SubscriberCount("alice"); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}
}

func TestEmitSurvivesPanickingListener(t *testing.T) {
	b := New()

	delivered := false
	b.Subscribe("ch", func(Event) { panic("boom") })
	b.Subscribe("ch", func(Event) { delivered = true })

	b.Emit("ch", Event{Type: EventMessage})

	if !delivered {
		t.Fatal("second listener not invoked after first panicked")
	}
}

func TestEmitWakeTrigger(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []string
	b.Subscribe(ChannelWake, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Type != EventWakePulse {
			t.Errorf("type = %s, want wake_pulse", ev.Type)
		}
		got = append(got, ev.Identity)
	})

	b.EmitWakeTrigger("bob")
	b.EmitWakeTrigger("carol")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("identities = %v, want [bob carol]", got)
	}
}

func TestUnsubscribeDuringEmitDoesNotDoubleDispatch(t *testing.T) {
	b := New()

	count := 0
	var unsub func()
	unsub = b.Subscribe("ch", func(Event) {
		count++
		unsub()
	})

	b.Emit("ch", Event{Type: EventMessage})
	b.Emit("ch", Event{Type: EventMessage})

	if count != 1 {
		t.Fatalf("listener invoked %d times, want 1", count)
	}
}

func TestConcurrentSubscribeEmit(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("ch", func(Event) {})
			b.Emit("ch", Event{Type: EventMessage})
			unsub()
		}()
	}
	wg.Wait()

	if n := b.SubscriberCount("ch"); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}
}
