package event

// defaultBus is the process-wide bus backing the package-level
// Publish/Subscribe helpers, mirroring the teacher's global-event-bus
// idiom. The core wires its own *Bus into this slot at startup via
// SetDefault so deeply nested call sites (tool execution, permission
// checks) that don't carry a Bus value through every signature still
// publish onto the same bus the API layer subscribes to.
var defaultBus = NewBus()

// SetDefault installs b as the process-wide bus.
func SetDefault(b *Bus) { defaultBus = b }

// Default returns the process-wide bus.
func Default() *Bus { return defaultBus }

// Publish delivers evt on the default bus.
func Publish(evt Event) { defaultBus.Publish(evt) }

// Subscribe opens a Subscription on the default bus.
func Subscribe(sessionID string) *Subscription { return defaultBus.Subscribe(sessionID) }
