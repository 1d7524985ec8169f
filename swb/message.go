// Package swb implements the software bus: an in-process pub/sub
// distributor with shared-buffer semantics (copy_once vs zero_copy),
// per-channel filtering, ordered full-fanout delivery and exactly-one
// fallback delivery to a default channel. This is the system's data-plane
// bus, bitmask-ID addressed — distinct from the ambient control-plane bus
// package, which the RMAP initiator uses for its non-RMAP-packet
// notifications and which is topic-trie addressed.
package swb

import "spacewire-comms/buffer"

// CopyMode selects how sendMessage(id, sharedBuffer, mode) hands a buffer to
// the bus.
type CopyMode int

const (
	// CopyOnce copies the buffer into a freshly allocated pool element
	// before enqueuing, so the caller keeps ownership of its original.
	CopyOnce CopyMode = iota
	// ZeroCopy enqueues the provided buffer directly, transferring
	// ownership to the bus.
	ZeroCopy
)

// ID is the software bus message identity type: a trivially-comparable
// value, typically an integer.
type ID uint32

// Message is a (id, buffer) pair distributed by the bus.
type Message struct {
	ID     ID
	Buffer buffer.ChildPointer
}
