package push

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSubscriberBuffer is how many frames a subscriber may fall behind
// before new frames are dropped for it
const DefaultSubscriberBuffer = 64

// Event is the envelope every push frame carries
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	Time int64  `json:"time"` // unix ms
}

// Frame is an encoded event shared by all subscribers. The protobuf form is
// only built if some subscriber asks for it.
type Frame struct {
	Event Event

	json []byte

	protoOnce  sync.Once
	protoBytes []byte
	protoErr   error
}

// NewFrame encodes an event
func NewFrame(eventType string, data any) (*Frame, error) {
	ev := Event{Type: eventType, Data: data, Time: time.Now().UnixMilli()}
	encoded, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Frame{Event: ev, json: encoded}, nil
}

// JSON returns the frame as a JSON object
func (f *Frame) JSON() []byte {
	return f.json
}

// Proto returns the frame as a serialized google.protobuf.Struct
func (f *Frame) Proto() ([]byte, error) {
	f.protoOnce.Do(func() {
		f.protoBytes, f.protoErr = jsonToProto(f.json)
	})
	return f.protoBytes, f.protoErr
}

// Subscriber receives frames from the hub until it is unsubscribed
type Subscriber struct {
	id      uint64
	frames  chan *Frame
	dropped atomic.Uint64
}

// Frames is closed when the subscriber is removed or the hub closes
func (s *Subscriber) Frames() <-chan *Frame {
	return s.frames
}

// Dropped returns how many frames were skipped because the subscriber was full
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub fans events out to browser connections. A slow subscriber loses frames
// instead of stalling the publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	closed      bool
	buffer      int

	logger *log.Logger
	debug  bool
}

// NewHub creates a hub. A non-positive buffer selects DefaultSubscriberBuffer.
func NewHub(buffer int, logger *log.Logger, debug bool) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subscribers: make(map[uint64]*Subscriber),
		buffer:      buffer,
		logger:      logger,
		debug:       debug,
	}
}

// Subscribe registers a new subscriber. On a closed hub the returned
// subscriber's channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{id: h.nextID, frames: make(chan *Frame, h.buffer)}
	if h.closed {
		close(sub.frames)
		return sub
	}
	h.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.id]; ok {
		delete(h.subscribers, sub.id)
		close(sub.frames)
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish encodes an event once and queues it for every subscriber
func (h *Hub) Publish(eventType string, data any) {
	frame, err := NewFrame(eventType, data)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("Failed to encode %s event: %v", eventType, err)
		}
		return
	}
	h.PublishFrame(frame)
}

// PublishFrame queues an already encoded frame for every subscriber
func (h *Hub) PublishFrame(frame *Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.frames <- frame:
		default:
			sub.dropped.Add(1)
			if h.debug && h.logger != nil {
				h.logger.Printf("Subscriber %d full, dropping %s", sub.id, frame.Event.Type)
			}
		}
	}
}

// Close disconnects every subscriber. Later subscribers are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.frames)
	}
}
