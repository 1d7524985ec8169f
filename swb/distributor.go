package swb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"spacewire-comms/buffer"
	"spacewire-comms/heartbeat"
)

// Validator is the bus-level acceptance predicate every send variant applies
// before a message reaches the input queue. A new Distributor accepts
// everything, and SetValidator(nil) restores that.
type Validator func(id ID, data []byte) bool

func acceptAll(ID, []byte) bool { return true }

// DistributorCounters are the distribution-loop accounting fields: one
// input message is counted as incoming exactly once, then as forwarded (at
// least one channel accepted it) or defaulted (only the default channel
// did), never both; a message no channel accepted is counted as incoming
// only.
type DistributorCounters struct {
	Incoming  atomic.Uint64
	Forwarded atomic.Uint64
	Defaulted atomic.Uint64
}

type namedChannel struct {
	name string
	ch   *Channel
}

// Distributor is the software bus core: a channel registry plus the
// distribution-loop behavior that walks the channel list for every message
// pulled off the input queue, delivering to every match before moving on to
// the next message.
type Distributor struct {
	mu          sync.Mutex
	channels    []namedChannel
	def         *namedChannel
	maxChannels int
	validator   Validator

	pool  *buffer.Pool
	input *inputQueue

	Counters DistributorCounters
}

// NewDistributor creates a bus distributor backed by pool for copy-based
// sends (the sendMessage(id, slice) and copy_once variants), with room for
// maxChannels regular channels and an input queue of the given capacity.
func NewDistributor(pool *buffer.Pool, maxChannels, inputCapacity int) *Distributor {
	return &Distributor{
		pool:        pool,
		maxChannels: maxChannels,
		input:       newInputQueue(inputCapacity),
		validator:   acceptAll,
	}
}

// SetValidator installs the bus-level acceptance predicate applied by every
// send variant. A nil validator resets to accept-all.
func (d *Distributor) SetValidator(v Validator) {
	if v == nil {
		v = acceptAll
	}
	d.mu.Lock()
	d.validator = v
	d.mu.Unlock()
}

// AddChannel registers a regular channel under name, for use in diagnostics
// and metrics labeling. It fails with maxChannelsReached once the registry
// is full.
func (d *Distributor) AddChannel(name string, ch *Channel) OperationResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch == nil {
		return ResultInvalidState
	}
	if len(d.channels) >= d.maxChannels {
		return ResultMaxChannelsReached
	}
	d.channels = append(d.channels, namedChannel{name: name, ch: ch})
	return ResultSuccess
}

// SetDefaultChannel registers the fallback channel. It fails if one is
// already registered, or ch is nil.
func (d *Distributor) SetDefaultChannel(name string, ch *Channel) OperationResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch == nil || d.def != nil {
		return ResultInvalidState
	}
	d.def = &namedChannel{name: name, ch: ch}
	return ResultSuccess
}

// SendSlice copies data into a freshly allocated pool buffer, then enqueues
// (id, buffer) onto the bus.
func (d *Distributor) SendSlice(id ID, data []byte) OperationResult {
	if !d.checkValid(id, data) {
		return ResultInvalidMessage
	}
	child, res := d.copyIntoPool(id, data)
	if res != ResultSuccess {
		return res
	}
	return d.enqueue(Message{ID: id, Buffer: child})
}

// SendBuffer sends a message from a caller-owned shared buffer. CopyOnce
// copies sharedBuffer's bytes into a freshly allocated pool element
// so the caller keeps ownership of sharedBuffer; ZeroCopy enqueues
// sharedBuffer directly, transferring ownership to the bus.
func (d *Distributor) SendBuffer(id ID, sharedBuffer buffer.ChildPointer, mode CopyMode) OperationResult {
	data := sharedBuffer.Bytes()
	if !d.checkValid(id, data) {
		return ResultInvalidMessage
	}
	if mode == ZeroCopy {
		return d.enqueue(Message{ID: id, Buffer: sharedBuffer})
	}
	child, res := d.copyIntoPool(id, data)
	if res != ResultSuccess {
		return res
	}
	return d.enqueue(Message{ID: id, Buffer: child})
}

// SendMessage enqueues a pre-formed (id, buffer) pair directly, without
// copying.
func (d *Distributor) SendMessage(m Message) OperationResult {
	if !d.checkValid(m.ID, m.Buffer.Bytes()) {
		return ResultInvalidMessage
	}
	return d.enqueue(m)
}

func (d *Distributor) copyIntoPool(id ID, data []byte) (buffer.ChildPointer, OperationResult) {
	parent, ok := d.pool.Allocate()
	if !ok {
		return buffer.ChildPointer{}, ResultNoBufferAvailable
	}
	if len(data) > parent.Length() {
		parent.Release()
		return buffer.ChildPointer{}, ResultMessageTooLong
	}
	copy(parent.Bytes(), data)
	child, ok := parent.GetChild(int(id), 0, len(data))
	parent.Release()
	if !ok {
		return buffer.ChildPointer{}, ResultNoBufferAvailable
	}
	return child, ResultSuccess
}

func (d *Distributor) checkValid(id ID, data []byte) bool {
	d.mu.Lock()
	v := d.validator
	d.mu.Unlock()
	return v(id, data)
}

func (d *Distributor) enqueue(m Message) OperationResult {
	if !d.input.trySend(m) {
		return ResultSendFailed
	}
	return ResultSuccess
}

// RunDistributor is the distribution-loop handler thread. It loops until
// ctx is cancelled: emit a heartbeat, pull one message off the
// input queue with the given timeout, and fully distribute it — visiting
// every registered channel — before the next message is considered.
func (d *Distributor) RunDistributor(ctx context.Context, timeout time.Duration, mon *heartbeat.Monitor, heartbeatSource string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if mon != nil {
			mon.Beat(heartbeatSource, heartbeat.Tolerance(timeout))
		}

		m, ok := d.input.receive(ctx, timeout)
		if !ok {
			continue
		}
		d.distribute(m)
	}
}

func (d *Distributor) distribute(m Message) {
	d.Counters.Incoming.Add(1)

	d.mu.Lock()
	channels := append([]namedChannel(nil), d.channels...)
	def := d.def
	d.mu.Unlock()

	delivered := false
	for _, nc := range channels {
		if nc.ch.SendMessage(m) {
			delivered = true
		}
	}
	if delivered {
		d.Counters.Forwarded.Add(1)
		return
	}
	if def != nil && def.ch.SendMessage(m) {
		d.Counters.Defaulted.Add(1)
	}
}

// Channels returns the registered regular channels and the default channel
// (if any), for use by metrics collection and diagnostics. The returned
// map is a snapshot; it does not track subsequent registrations.
func (d *Distributor) Channels() (regular map[string]*Channel, def *Channel, defName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regular = make(map[string]*Channel, len(d.channels))
	for _, nc := range d.channels {
		regular[nc.name] = nc.ch
	}
	if d.def != nil {
		def = d.def.ch
		defName = d.def.name
	}
	return regular, def, defName
}
