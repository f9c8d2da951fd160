// Package event implements the core's publish/subscribe fan-out: every
// lifecycle, message, part, task, and permission occurrence flows
// through here so any number of transports (SSE, websocket, CLI,
// tests) can observe it without coupling to the session manager.
package event

import "github.com/opencode-ai/opencode/pkg/types"

// Event is the payload type carried by the bus. It is a thin alias so
// call sites read "event.Event" while the wire shape is owned by
// pkg/types, which also defines the closed catalogue of event types.
type Event = types.Event

// New is a convenience constructor matching types.NewEvent.
func New(typ types.EventType, sessionID string, extra map[string]any) Event {
	return types.NewEvent(typ, sessionID, extra)
}
