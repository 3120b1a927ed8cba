package gateway

import "sync"

// Event is a named payload broadcast to anything subscribed to the
// gateway's internal event publisher, used to piggyback lane.overflow,
// session.update, and session.identity.update events to any attached observer without
// every component reaching into another's internals.
type Event struct {
	Name    string
	Payload interface{}
}

// EventHandler receives broadcast events.
type EventHandler func(Event)

// EventPublisher is a simple pub/sub fan-out keyed by subscriber id.
type EventPublisher struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

// NewEventPublisher builds an empty publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{subs: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous registration.
func (p *EventPublisher) Subscribe(id string, handler EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[id] = handler
}

// Unsubscribe removes id's registration, if any.
func (p *EventPublisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
}

// Broadcast fans event out to every subscriber.
func (p *EventPublisher) Broadcast(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, handler := range p.subs {
		handler(event)
	}
}
