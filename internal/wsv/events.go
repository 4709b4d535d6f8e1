package wsv

import "iroha-peer/internal/datamodel"

// Event is something a committed change (or a trigger's own execution)
// published. Concrete event payloads belong to the domain layer out of this
// package's scope; here Event is an opaque, dispatchable envelope keyed by
// kind + entity so World.MatchingTriggers can route it.
type Event struct {
	Kind   datamodel.EventKind
	Entity string
	Data   any
}

// eventBuffer accumulates events in emission order. A transaction-scoped
// buffer is promoted into its parent's buffer only on Apply.
type eventBuffer struct {
	events []Event
}

func (b *eventBuffer) emit(e Event) { b.events = append(b.events, e) }

func (b *eventBuffer) drain() []Event {
	out := b.events
	b.events = nil
	return out
}
