// Package dispatcher implements the protocol dispatcher: a single-producer,
// multi-consumer demultiplexer that extracts a protocol identifier from a
// configured byte offset in each received SpaceWire packet and copies the
// packet into the matching listener's buffer pool and queue.
package dispatcher

import (
	"sync"
	"sync/atomic"

	"spacewire-comms/buffer"
	"spacewire-comms/queue"
	"spacewire-comms/x/mathx"
)

// Counters are the four per-listener accounting fields.
type Counters struct {
	Dropped         atomic.Uint64
	Partial         atomic.Uint64
	OverflowedBytes atomic.Uint64
	Retrieved       atomic.Uint64
}

// Listener is a (protocol-ID, pool, queue, drop-partial) tuple subscribed
// to the dispatcher.
type Listener struct {
	ProtocolID  uint32
	Pool        *buffer.Pool
	Queue       *queue.Queue
	DropPartial bool

	Counters Counters
}

func (l *Listener) deliver(protocolTag int, data []byte) (delivered bool) {
	parent, ok := l.Pool.Allocate()
	if !ok {
		l.Counters.Dropped.Add(1)
		return false
	}

	effectiveSize := mathx.Min(len(data), parent.Length())

	if l.DropPartial && effectiveSize < len(data) {
		parent.Release()
		return false
	}

	copy(parent.Bytes(), data[:effectiveSize])
	child, ok := parent.GetChild(protocolTag, 0, effectiveSize)
	parent.Release()
	if !ok {
		l.Counters.Dropped.Add(1)
		return false
	}

	if !l.Queue.TrySend(child) {
		child.Release()
		l.Counters.Dropped.Add(1)
		return false
	}

	if effectiveSize < len(data) {
		l.Counters.Partial.Add(1)
		l.Counters.OverflowedBytes.Add(uint64(len(data) - effectiveSize))
	}
	l.Counters.Retrieved.Add(1)
	return true
}

// GlobalCounters are dispatcher-wide counters, kept apart from the
// per-listener ones: Partial and OverflowedBytes count packets longer than
// the main buffer, Unmatched counts packets delivered to no listener
// (including the default), and Dropped counts those plus packets too short
// to carry a protocol ID.
type GlobalCounters struct {
	Partial         atomic.Uint64
	OverflowedBytes atomic.Uint64
	Unmatched       atomic.Uint64
	Dropped         atomic.Uint64
}

// Dispatcher is the protocol dispatcher core.
type Dispatcher struct {
	mu          sync.Mutex
	listeners   []*Listener
	defaultListener *Listener
	offset      int
	idWidth     int // bytes of the protocol identifier, read big-endian
	maxListeners int
	mainBufferCap int

	Global GlobalCounters
}

// New creates a dispatcher reading a protocol identifier of idWidth bytes
// (1, 2 or 4) at the given byte offset in every received packet.
// maxListeners bounds the number of regular listeners the dispatcher can
// register; mainBufferCap is the size of the driver's receive buffer, used
// to detect over-length packets before extraction.
func New(offset, idWidth, maxListeners, mainBufferCap int) *Dispatcher {
	return &Dispatcher{
		offset:        offset,
		idWidth:       idWidth,
		maxListeners:  maxListeners,
		mainBufferCap: mainBufferCap,
	}
}

// AddQueue registers a regular listener. It fails if the listener list is
// already at maxListeners.
func (d *Dispatcher) AddQueue(l *Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.listeners) >= d.maxListeners {
		return false
	}
	d.listeners = append(d.listeners, l)
	return true
}

// SetDefaultQueue registers the default listener, rejecting if one is
// already set or if l is nil.
func (d *Dispatcher) SetDefaultQueue(l *Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l == nil || d.defaultListener != nil {
		return false
	}
	d.defaultListener = l
	return true
}

func extractProtocolID(data []byte, offset, width int) (uint32, bool) {
	if offset+width > len(data) {
		return 0, false
	}
	var id uint32
	for i := 0; i < width; i++ {
		id = id<<8 | uint32(data[offset+i])
	}
	return id, true
}

// HandlePackage demultiplexes one received packet to every listener whose
// protocol ID matches, falling back to the default listener when none
// matched.
func (d *Dispatcher) HandlePackage(data []byte) {
	if len(data) > d.mainBufferCap {
		excess := len(data) - d.mainBufferCap
		d.Global.Partial.Add(1)
		d.Global.OverflowedBytes.Add(uint64(excess))
		data = data[:d.mainBufferCap]
	}

	id, ok := extractProtocolID(data, d.offset, d.idWidth)
	if !ok {
		d.Global.Dropped.Add(1)
		return
	}

	d.mu.Lock()
	listeners := append([]*Listener(nil), d.listeners...)
	def := d.defaultListener
	d.mu.Unlock()

	matched, delivered := false, false
	for _, l := range listeners {
		if l.ProtocolID != id {
			continue
		}
		matched = true
		if l.deliver(int(id), data) {
			delivered = true
		}
	}

	if !matched && def != nil {
		if def.deliver(int(id), data) {
			delivered = true
		}
	}

	if !delivered {
		d.Global.Unmatched.Add(1)
		d.Global.Dropped.Add(1)
	}
}
