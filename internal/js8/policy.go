package js8

import "time"

// DefaultReconnectDelay is the pause between losing the controller and the next attempt
const DefaultReconnectDelay = 5 * time.Second

// ReconnectPolicy decides how long to wait before reconnect attempt n (starting at 1)
type ReconnectPolicy interface {
	NextDelay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every attempt, forever
type FixedDelay time.Duration

// NextDelay implements ReconnectPolicy
func (f FixedDelay) NextDelay(int) time.Duration {
	return time.Duration(f)
}
