package collab

import (
	"encoding/json"

	"github.com/jkivinie/stave"
	"github.com/jkivinie/stave/bus"
)

// Domain event types the adapter listens for. The hosting aggregate
// publishes these after a successful local mutation; the adapter turns
// them into operations on the wire.
const (
	EventClipAdded   = "clip:added"
	EventClipUpdated = "clip:updated"
	EventClipRemoved = "clip:removed"
	EventClipMoved   = "clip:moved"
)

// ClipEvent is the payload of the clip domain events.
type ClipEvent struct {
	TrackID stave.TrackID `json:"trackId"`
	Clip    *stave.Clip   `json:"clip"`
}

func busEvent(eventType string, payload any) bus.Event {
	return bus.Event{Type: eventType, Payload: payload}
}

var domainOps = map[string]OpType{
	EventClipAdded:   OpInsert,
	EventClipUpdated: OpUpdate,
	EventClipRemoved: OpDelete,
	EventClipMoved:   OpMove,
}

// BindDomainEvents subscribes the adapter to the clip domain events so that
// every local mutation is forwarded to the session as an operation. The
// subscriptions are removed again on Dispose. Remote operations do not loop
// back: they are republished under EventRemoteOperation, which this binding
// does not listen to.
func (a *Adapter) BindDomainEvents() error {
	for eventType, opType := range domainOps {
		opType := opType
		id, err := a.eventBus.Subscribe(eventType, func(evt bus.Event) error {
			ce, ok := evt.Payload.(ClipEvent)
			if !ok {
				a.log.WithField("eventType", evt.Type).Warn("unexpected clip event payload")
				return nil
			}
			data, err := json.Marshal(ce)
			if err != nil {
				return err
			}
			return a.SendOperation(Operation{
				Type:          opType,
				AggregateID:   string(ce.Clip.ID),
				AggregateType: "clip",
				Data:          data,
			})
		})
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.domainSubs = append(a.domainSubs, id)
		a.mu.Unlock()
	}
	return nil
}
