package delivery

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrChannelFull   = errors.New("channel buffer is full")
)

type CloseReason uint8

const (
	CloseReasonNone CloseReason = iota
	CloseReasonCompleted
	CloseReasonTimeout
	CloseReasonError
	CloseReasonReplaced
	CloseReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonCompleted:
		return "completed"
	case CloseReasonTimeout:
		return "timeout"
	case CloseReasonError:
		return "error"
	case CloseReasonReplaced:
		return "replaced"
	case CloseReasonShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

type Event struct {
	Name string
	Data []byte
}

// Channel is a live push channel of one subscriber. The events chan is never
// closed, readers select on Done.
type Channel struct {
	subscriberId string
	events       chan Event
	done         chan struct{}
	onClose      func(c *Channel)

	closeOnce sync.Once
	mu        sync.Mutex
	reason    CloseReason
	expiresAt time.Time
	timer     *time.Timer
}

func newChannel(subscriberId string, bufSize int, onClose func(c *Channel)) *Channel {
	c := &Channel{
		subscriberId: subscriberId,
		events:       make(chan Event, bufSize),
		done:         make(chan struct{}),
		onClose:      onClose,
	}
	return c
}

// startTimer arms the ttl. It is called once the channel is registered, so
// an early expiry can not leave a closed channel in the registry.
func (c *Channel) startTimer(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason != CloseReasonNone {
		return
	}
	c.expiresAt = time.Now().Add(ttl)
	c.timer = time.AfterFunc(ttl, func() {
		c.close(CloseReasonTimeout)
	})
}

func (c *Channel) SubscriberId() string {
	return c.subscriberId
}

func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// Reason returns why the channel was closed, CloseReasonNone while it is open.
func (c *Channel) Reason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Close completes the channel, e.g. when the client disconnects.
func (c *Channel) Close() {
	c.close(CloseReasonCompleted)
}

// Fail closes the channel after a write error on the transport.
func (c *Channel) Fail() {
	c.close(CloseReasonError)
}

func (c *Channel) close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// send queues the event, waiting at most timeout for buffer space.
func (c *Channel) send(evt Event, timeout time.Duration) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.events <- evt:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.events <- evt:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-timer.C:
		return ErrChannelFull
	}
}
