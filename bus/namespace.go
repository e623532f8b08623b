package bus

import "sync"

// Namespace is a scoped facade over a Bus: event types are prefixed with
// "<namespace>." and the subscriptions made through it can be dropped in
// one call with Dispose. Handy for components with a lifecycle, e.g. one
// namespace per collaboration session.
type Namespace struct {
	bus    *Bus
	prefix string

	mu  sync.Mutex
	ids []SubscriptionID
}

// Namespace returns a facade scoped to the given namespace.
func (b *Bus) Namespace(ns string) *Namespace {
	return &Namespace{bus: b, prefix: ns + "."}
}

// Subscribe registers a handler for the namespaced event type.
func (n *Namespace) Subscribe(eventType string, handler Handler, opts ...SubOption) (SubscriptionID, error) {
	id, err := n.bus.Subscribe(n.prefix+eventType, handler, opts...)
	if err != nil {
		return "", err
	}
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
	return id, nil
}

// Publish dispatches an event under the namespaced type.
func (n *Namespace) Publish(evt Event) int {
	evt.Type = n.prefix + evt.Type
	return n.bus.Publish(evt)
}

// Dispose removes every subscription made through this namespace.
func (n *Namespace) Dispose() {
	n.mu.Lock()
	ids := n.ids
	n.ids = nil
	n.mu.Unlock()
	for _, id := range ids {
		n.bus.Unsubscribe(id)
	}
}
