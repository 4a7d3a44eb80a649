package js8

import (
	"sync"
	"time"
)

// DefaultRequestTimeout is how long a command waits for its response.
// Many commands never answer, so expiry resolves to a nil message.
const DefaultRequestTimeout = 5 * time.Second

type pendingRequest struct {
	id      int64
	created time.Time
	timeout time.Duration
	result  chan *Message // buffered(1), written exactly once
	timer   *time.Timer
}

// Correlator matches inbound responses to outstanding commands by correlation id
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	timeout time.Duration
}

// NewCorrelator creates a correlator. A non-positive timeout selects DefaultRequestTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		nextID:  1,
		pending: make(map[int64]*pendingRequest),
		timeout: timeout,
	}
}

// Register allocates the next id and tracks a pending request for it. The
// returned channel yields the response, or nil once the timeout elapses.
func (c *Correlator) Register() (int64, <-chan *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	req := &pendingRequest{
		id:      id,
		created: time.Now(),
		timeout: c.timeout,
		result:  make(chan *Message, 1),
	}
	c.pending[id] = req
	req.timer = time.AfterFunc(c.timeout, func() {
		c.complete(id, nil)
	})

	return id, req.result
}

// Resolve completes the pending request whose id the message echoes.
// Returns false if the message matches nothing outstanding.
func (c *Correlator) Resolve(msg *Message) bool {
	id, ok := msg.ID()
	if !ok {
		return false
	}
	return c.complete(id, msg)
}

// Cancel drops a pending request without resolving it
func (c *Correlator) Cancel(id int64) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		req.timer.Stop()
	}
}

func (c *Correlator) complete(id int64, msg *Message) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	req.timer.Stop()
	req.result <- msg
	return true
}

// isPending reports whether id still awaits resolution
func (c *Correlator) isPending(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// PendingCount returns the number of outstanding requests
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Timeout returns the per-request timeout
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}
