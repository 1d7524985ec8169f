package swb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ChannelCounters are a channel's delivery accounting fields.
type ChannelCounters struct {
	Incoming  atomic.Uint64
	Appended  atomic.Uint64
	Failed    atomic.Uint64
	Retrieved atomic.Uint64
}

// Channel is a filtered, bounded deque of messages. It is safe for one
// producer (the distributor thread) and one consumer.
type Channel struct {
	mu       sync.Mutex
	filter   Filter
	messages []Message
	capacity int
	avail    chan struct{}

	Counters ChannelCounters
}

// NewChannel creates a channel with the given filter and bounded capacity.
func NewChannel(filter Filter, capacity int) *Channel {
	if filter == nil {
		filter = FilterNone{}
	}
	return &Channel{
		filter:   filter,
		capacity: capacity,
		avail:    make(chan struct{}, 1),
	}
}

// SendMessage applies the channel's filter to m; on acceptance it appends m
// to the bounded deque and signals availability. Returns true if the
// message was appended.
func (c *Channel) SendMessage(m Message) bool {
	c.Counters.Incoming.Add(1)

	if !c.filter.Accept(m.ID, m.Buffer.Bytes()) {
		c.Counters.Failed.Add(1)
		return false
	}

	c.mu.Lock()
	if len(c.messages) >= c.capacity {
		c.mu.Unlock()
		c.Counters.Failed.Add(1)
		return false
	}
	c.messages = append(c.messages, m)
	c.mu.Unlock()

	c.Counters.Appended.Add(1)
	select {
	case c.avail <- struct{}{}:
	default:
	}
	return true
}

// ReceiveMessage blocks on the channel's availability semaphore until a
// message is present, the timeout elapses, or ctx is cancelled. timeout==0
// blocks indefinitely (bounded only by ctx).
func (c *Channel) ReceiveMessage(ctx context.Context, timeout time.Duration) (Message, bool) {
	for {
		if m, ok := c.tryPop(); ok {
			c.Counters.Retrieved.Add(1)
			return m, true
		}

		var timeoutC <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			timeoutC = timer.C
		}

		select {
		case <-c.avail:
			continue
		case <-timeoutC:
			return Message{}, false
		case <-ctx.Done():
			return Message{}, false
		}
	}
}

func (c *Channel) tryPop() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	m := c.messages[0]
	c.messages = c.messages[1:]
	return m, true
}

// Len returns the number of messages currently queued on the channel.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
