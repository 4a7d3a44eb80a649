package js8

import (
	"fmt"
	"sync"
)

// EventType is the category an event is delivered under
type EventType int

const (
	EventUnclassified EventType = iota
	EventIncomingText
	EventCallActivity
	EventBandActivity
	EventStationCallsign
	EventRigFrequency
	EventConnected
	EventDisconnected

	eventBarrier // internal, used by Sync
)

// String returns the event name used in logs
func (t EventType) String() string {
	switch t {
	case EventIncomingText:
		return "rx.text"
	case EventCallActivity:
		return "rx.call_activity"
	case EventBandActivity:
		return "rx.band_activity"
	case EventStationCallsign:
		return "station.callsign"
	case EventRigFrequency:
		return "rig.frequency"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unclassified"
	}
}

// Classify maps a message type onto its event category
func Classify(msg *Message) EventType {
	if msg == nil {
		return EventUnclassified
	}
	switch msg.Type {
	case TypeRxActivity, TypeRxText:
		return EventIncomingText
	case TypeRxCallActivity:
		return EventCallActivity
	case TypeRxBandActivity:
		return EventBandActivity
	case TypeStationCallsign:
		return EventStationCallsign
	case TypeRigFreq:
		return EventRigFrequency
	default:
		return EventUnclassified
	}
}

// Event is a classified inbound message or a lifecycle change.
// Message is nil for EventConnected and EventDisconnected.
type Event struct {
	Type    EventType
	Message *Message

	done chan struct{}
}

// Handler receives events. A returned error is logged and does not affect
// other handlers.
type Handler func(Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// DefaultQueueSize bounds the number of events waiting for delivery
const DefaultQueueSize = 256

// Dispatcher fans events out to subscribers from a single goroutine, so
// delivery order matches publish order regardless of how many producers exist.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64

	queue  chan Event
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	logger Logger
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine
func NewDispatcher(queueSize int, logger Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		subs:   make(map[EventType][]subscription),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: orDiscard(logger),
	}
	go d.run()
	return d
}

// Subscribe registers handler for one category. The returned function removes it.
func (d *Dispatcher) Subscribe(t EventType, handler Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	// copy-on-write so deliver can iterate without holding the lock
	subs := make([]subscription, 0, len(d.subs[t])+1)
	subs = append(subs, d.subs[t]...)
	d.subs[t] = append(subs, subscription{id: id, handler: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.unsubscribe(t, id) })
	}
}

func (d *Dispatcher) unsubscribe(t EventType, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.subs[t]
	subs := make([]subscription, 0, len(current))
	for _, s := range current {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	d.subs[t] = subs
}

// SubscriberCount returns the number of handlers registered for t
func (d *Dispatcher) SubscriberCount(t EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[t])
}

// Publish queues an event. Unclassified events are dropped. Blocks while the
// queue is full; the reader goroutine uses TryPublish instead.
func (d *Dispatcher) Publish(ev Event) error {
	if ev.Type == EventUnclassified {
		return nil
	}
	select {
	case <-d.done:
		return ErrClientClosed
	default:
	}
	select {
	case d.queue <- ev:
		return nil
	case <-d.done:
		return ErrClientClosed
	}
}

// TryPublish queues an event without waiting. It returns ErrQueueFull when
// subscribers have fallen a whole queue behind.
func (d *Dispatcher) TryPublish(ev Event) error {
	if ev.Type == EventUnclassified {
		return nil
	}
	select {
	case <-d.done:
		return ErrClientClosed
	default:
	}
	select {
	case d.queue <- ev:
		return nil
	case <-d.done:
		return ErrClientClosed
	default:
		return ErrQueueFull
	}
}

// Closed reports whether Close has been called
func (d *Dispatcher) Closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Sync blocks until every event published before the call has been delivered
func (d *Dispatcher) Sync() error {
	barrier := Event{Type: eventBarrier, done: make(chan struct{})}
	select {
	case d.queue <- barrier:
	case <-d.done:
		return ErrClientClosed
	}
	select {
	case <-barrier.done:
		return nil
	case <-d.exited:
		return ErrClientClosed
	}
}

// Close stops delivery. Queued events that were not yet delivered are discarded.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
	})
	<-d.exited
}

func (d *Dispatcher) run() {
	defer close(d.exited)

	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			if ev.Type == eventBarrier {
				close(ev.done)
				continue
			}
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.mu.RLock()
	subs := d.subs[ev.Type]
	d.mu.RUnlock()

	for _, s := range subs {
		if err := d.invoke(s.handler, ev); err != nil {
			d.logger.Printf("JS8 %s subscriber error: %v", ev.Type, err)
		}
	}
}

func (d *Dispatcher) invoke(handler Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ev)
}
