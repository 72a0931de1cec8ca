package bus

import "encoding/json"

// EventType is the closed set of event tags carried on the bus and over SSE.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventMessage          EventType = "message"
	EventChatMessage      EventType = "chat_message"
	EventChatTyping       EventType = "chat_typing"
	EventBroadcast        EventType = "broadcast"
	EventSwarmTaskCreated EventType = "swarm_task_created"
	EventSwarmTaskUpdated EventType = "swarm_task_updated"
	EventSwarmTaskDeleted EventType = "swarm_task_deleted"
	EventWakePulse        EventType = "wake_pulse"
)

// Event is a tagged variant. Identity carries the target identity for
// wake pulses and recipient-addressed events; Payload is the JSON body
// forwarded verbatim to SSE clients.
type Event struct {
	Type     EventType       `json:"type"`
	Identity string          `json:"identity,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event; marshal failures yield an event
// with an empty payload rather than an error, since emitters treat the bus
// as fire-and-forget.
func NewEvent(t EventType, identity string, payload any) Event {
	ev := Event{Type: t, Identity: identity}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}
