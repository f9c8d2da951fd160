/*
Package event implements the core's fan-out bus: every session,
message, part, task, and permission occurrence publishes here, and any
number of subscribers — SSE transports, the CLI, tests — observe it
without coupling to the session manager.

# Delivery contract

Each subscriber gets its own bounded, ordered channel. A slow
subscriber makes Publish block rather than lose events; a subscriber
that cancels stops receiving and its queue is released. Subscriptions
may be filtered to one session id, in which case only events carrying
that sessionID are delivered.

	bus := event.NewBus()
	sub := bus.Subscribe("ses_abc123") // "" subscribes to everything
	defer sub.Cancel()

	for e := range sub.Events {
		...
	}

Publishing:

	bus.Publish(event.New(types.EventSessionCreated, session.ID, map[string]any{
		"info": session,
	}))

# NullBus

internal/event.NullBus satisfies the same Publisher interface and is
useful where a caller needs to thread a bus through but has no
subscribers — e.g. unit tests of the session manager in isolation.
*/
package event
