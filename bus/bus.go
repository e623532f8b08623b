// Package bus implements the in-process publish/subscribe dispatcher that
// connects the domain model, the collaboration adapter and any UI or
// playback adapters listening for changes. Handlers for one event type run
// in priority order; a failing handler never blocks the others.
package bus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxListeners caps the subscriber count per event type, guarding
// against leaked subscriptions.
const DefaultMaxListeners = 100

// ErrTooManySubscribers is returned by Subscribe when the per-type listener
// cap would be exceeded.
var ErrTooManySubscribers = errors.New("too many subscribers for event type")

// Event is what gets published: a string type plus a caller-defined
// payload. A zero Time is stamped at publish.
type Event struct {
	Type    string
	Payload any
	Time    time.Time
}

// Handler handles one event. A returned error is routed to the bus error
// handler; it does not stop dispatch to other handlers.
type Handler func(Event) error

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID string

type subscription struct {
	id       SubscriptionID
	handler  Handler
	once     bool
	priority int
	seq      int
}

// Stats are the bus's operational counters.
type Stats struct {
	TotalEvents   int64
	PerType       map[string]int64
	LastEventTime time.Time
	Subscriptions int
}

// Bus dispatches events to subscribers. Safe for concurrent use; the
// subscription lists are mutated only under the mutex, and handlers run
// outside it so they may subscribe or publish themselves.
type Bus struct {
	mu           sync.Mutex
	subs         map[string][]*subscription
	maxListeners int
	seq          int
	errHandler   func(Event, error)
	log          logrus.FieldLogger

	totalEvents int64
	perType     map[string]int64
	lastEvent   time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxListeners overrides the per-type subscriber cap.
func WithMaxListeners(n int) Option { return func(b *Bus) { b.maxListeners = n } }

// WithLogger sets the logger used for handler failures in PublishAsync.
func WithLogger(log logrus.FieldLogger) Option { return func(b *Bus) { b.log = log } }

// New returns an empty bus. Handler errors are logged unless an error
// handler is installed with SetErrorHandler.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:         map[string][]*subscription{},
		maxListeners: DefaultMaxListeners,
		perType:      map[string]int64{},
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetErrorHandler routes handler errors and recovered panics to fn. Passing
// nil restores the default behavior of logging them.
func (b *Bus) SetErrorHandler(fn func(Event, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errHandler = fn
}

// SubOption configures a single subscription.
type SubOption func(*subscription)

// Once makes the subscription fire exactly once and then remove itself.
func Once() SubOption { return func(s *subscription) { s.once = true } }

// WithPriority sets the subscription priority; higher priorities are
// invoked first. Equal priorities run in subscription order.
func WithPriority(p int) SubOption { return func(s *subscription) { s.priority = p } }

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubOption) (SubscriptionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs[eventType]) >= b.maxListeners {
		return "", fmt.Errorf("%w: %q has %d listeners", ErrTooManySubscribers, eventType, b.maxListeners)
	}
	sub := &subscription{
		id:      SubscriptionID(uuid.NewString()),
		handler: handler,
		seq:     b.seq,
	}
	b.seq++
	for _, opt := range opts {
		opt(sub)
	}
	list := append(b.subs[eventType], sub)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.subs[eventType] = list
	return sub.id, nil
}

// Unsubscribe removes a subscription by id. Removing an unknown id is a
// no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, list := range b.subs {
		for i, sub := range list {
			if sub.id == id {
				b.subs[eventType] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// UnsubscribeAll removes every subscription for an event type.
func (b *Bus) UnsubscribeAll(eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, eventType)
}

// Publish dispatches the event to all matching handlers, in priority order,
// and returns the number of handlers invoked. An empty event type becomes
// "unknown". Handler errors and panics are isolated per handler and routed
// to the error handler; once-subscriptions are removed after the round.
func (b *Bus) Publish(evt Event) int {
	if evt.Type == "" {
		evt.Type = "unknown"
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	b.mu.Lock()
	b.totalEvents++
	b.perType[evt.Type]++
	b.lastEvent = evt.Time
	snapshot := append([]*subscription(nil), b.subs[evt.Type]...)
	errHandler := b.errHandler
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.invoke(sub, evt, errHandler)
	}

	// Once-cleanup happens after the whole round so every handler of this
	// publish saw the event.
	b.mu.Lock()
	list := b.subs[evt.Type]
	kept := list[:0]
	for _, sub := range list {
		fired := false
		for _, s := range snapshot {
			if s.id == sub.id {
				fired = true
				break
			}
		}
		if sub.once && fired {
			continue
		}
		kept = append(kept, sub)
	}
	b.subs[evt.Type] = kept
	b.mu.Unlock()

	return len(snapshot)
}

// PublishAsync dispatches the event on a separate goroutine and never
// reports errors to the caller; failures are logged.
func (b *Bus) PublishAsync(evt Event) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.WithField("eventType", evt.Type).Errorf("async publish panicked: %v", r)
			}
		}()
		b.Publish(evt)
	}()
}

func (b *Bus) invoke(sub *subscription, evt Event, errHandler func(Event, error)) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(evt, fmt.Errorf("handler panicked: %v", r), errHandler)
		}
	}()
	if err := sub.handler(evt); err != nil {
		b.fail(evt, err, errHandler)
	}
}

func (b *Bus) fail(evt Event, err error, errHandler func(Event, error)) {
	if errHandler != nil {
		errHandler(evt, err)
		return
	}
	b.log.WithField("eventType", evt.Type).WithError(err).Warn("event handler failed")
}

// Stats returns a copy of the operational counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	perType := make(map[string]int64, len(b.perType))
	for k, v := range b.perType {
		perType[k] = v
	}
	count := 0
	for _, list := range b.subs {
		count += len(list)
	}
	return Stats{
		TotalEvents:   b.totalEvents,
		PerType:       perType,
		LastEventTime: b.lastEvent,
		Subscriptions: count,
	}
}
