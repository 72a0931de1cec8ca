// Package bus is Hive's in-process publish/subscribe hub. Channels are
// identity slugs plus a few reserved globals; dispatch is synchronous and
// per-channel FIFO from the emitter's goroutine.
package bus

import (
	"log/slog"
	"sync"
)

// Reserved global channels.
const (
	ChannelBroadcast = "__broadcast__"
	ChannelSwarm     = "__swarm__"
	ChannelChat      = "__chat__"
	ChannelWake      = "__wake__"
)

// Listener receives events for a channel. Listeners must be cheap; a
// blocking listener blocks the emitter.
type Listener func(Event)

type subscription struct {
	id int64
	fn Listener
}

// Bus fans events out to per-channel subscriber sets.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a listener on a channel and returns an unsubscribe
// closure. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(channel string, fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[channel] = append(b.subs[channel], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, s := range list {
			if s.id == id {
				b.subs[channel] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
}

// Emit delivers the event to a snapshot of the channel's current
// subscribers. A panicking listener is logged and must not prevent
// delivery to the rest.
func (b *Bus) Emit(channel string, ev Event) {
	b.mu.Lock()
	list := b.subs[channel]
	snapshot := make([]subscription, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	for _, s := range snapshot {
		b.dispatch(channel, s, ev)
	}
}

func (b *Bus) dispatch(channel string, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus listener panic", "channel", channel, "event", ev.Type, "panic", r)
		}
	}()
	s.fn(ev)
}

// EmitWakeTrigger emits a wake pulse for an identity on the reserved wake
// channel. The SSE gateway filters pulses by identity.
func (b *Bus) EmitWakeTrigger(identity string) {
	b.Emit(ChannelWake, Event{Type: EventWakePulse, Identity: identity})
}

// SubscriberCount reports the current listener count for a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
