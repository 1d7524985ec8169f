package rmap

import (
	"sync"
	"time"

	"spacewire-comms/buffer"
)

// TransactionState is the lifecycle state of one transaction slot.
type TransactionState int

const (
	StateNotInitiated TransactionState = iota
	StateInitiated
	StateCommandSent
	StateReplyReceived
	StateTimeout
)

func (s TransactionState) String() string {
	switch s {
	case StateNotInitiated:
		return "notInitiated"
	case StateInitiated:
		return "initiated"
	case StateCommandSent:
		return "commandSent"
	case StateReplyReceived:
		return "replyReceived"
	case StateTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Transaction is one command/reply slot. The notify channel acts as a
// one-shot binary semaphore: it starts empty (acquired) and is signaled
// once when the receive thread resolves a reply; reset drains any signal
// that was never consumed.
type Transaction struct {
	mu sync.Mutex

	state       TransactionState
	targetLA    byte
	initiatorLA byte
	transID     uint16
	timeout     time.Duration

	reply    Reply
	replyBuf buffer.ChildPointer // holds the backing storage for reply.Data

	notify chan struct{}
}

func newTransaction() *Transaction {
	return &Transaction{notify: make(chan struct{}, 1)}
}

// State returns the transaction's current lifecycle state.
func (tr *Transaction) State() TransactionState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.state
}

// TransID returns the transaction ID assigned to this slot.
func (tr *Transaction) TransID() uint16 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.transID
}

// reset clears the slot back to notInitiated, releasing any held reply
// buffer reference. Resetting then freshly allocating the same slot yields
// a slot indistinguishable from its initial state.
func (tr *Transaction) reset() {
	tr.mu.Lock()
	if tr.replyBuf.Valid() {
		tr.replyBuf.Release()
	}
	tr.state = StateNotInitiated
	tr.targetLA = 0
	tr.initiatorLA = 0
	tr.transID = 0
	tr.timeout = 0
	tr.reply = Reply{}
	tr.replyBuf = buffer.ChildPointer{}
	// Drain any stale signal so the next waiter doesn't observe a spurious
	// notification from a previous lifecycle.
	select {
	case <-tr.notify:
	default:
	}
	tr.mu.Unlock()
}

// Table is the fixed-size transaction table.
type Table struct {
	mu           sync.Mutex
	slots        [MaxConcurrentTransactions]*Transaction
	nextID       uint16
}

// NewTable creates a transaction table with MaxConcurrentTransactions slots,
// all initially notInitiated.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = newTransaction()
	}
	return t
}

// GetFreeTransaction scans for a slot in notInitiated state, marks it
// initiated, assigns it the next available transaction ID (monotonic modulo
// MaxTransactionID, skipping IDs currently in use) and returns it.
func (t *Table) GetFreeTransaction(targetLA, initiatorLA byte, timeout time.Duration) (*Transaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var free *Transaction
	for _, s := range t.slots {
		s.mu.Lock()
		isFree := s.state == StateNotInitiated
		s.mu.Unlock()
		if isFree {
			free = s
			break
		}
	}
	if free == nil {
		return nil, false
	}

	id := t.allocateIDLocked()

	free.mu.Lock()
	free.state = StateInitiated
	free.targetLA = targetLA
	free.initiatorLA = initiatorLA
	free.transID = id
	free.timeout = timeout
	free.mu.Unlock()

	return free, true
}

// allocateIDLocked must be called with t.mu held.
func (t *Table) allocateIDLocked() uint16 {
	for {
		id := t.nextID
		t.nextID = uint16((uint32(t.nextID) + 1) % MaxTransactionID)
		if !t.idInUseLocked(id) {
			return id
		}
	}
}

func (t *Table) idInUseLocked(id uint16) bool {
	for _, s := range t.slots {
		s.mu.Lock()
		inUse := s.state != StateNotInitiated && s.transID == id
		s.mu.Unlock()
		if inUse {
			return true
		}
	}
	return false
}

// MarkCommandSent transitions a slot from initiated to commandSent after
// the command packet has been handed to the driver.
func (tr *Transaction) MarkCommandSent() {
	tr.mu.Lock()
	tr.state = StateCommandSent
	tr.mu.Unlock()
}

// Free resets the slot back to notInitiated, e.g. after a send failure or
// once the caller has consumed a reply or acknowledged a timeout.
func (tr *Transaction) Free() {
	tr.reset()
}

// Wait blocks on the transaction's semaphore until the reply arrives or the
// timeout elapses. A zero timeout waits indefinitely.
func (tr *Transaction) Wait(timeout time.Duration) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-tr.notify:
	case <-timeoutC:
	}
}

// Reply returns the reply packet recorded for this transaction, if any.
func (tr *Transaction) Reply() Reply {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.reply
}

// ResolveTransaction matches a received reply by transaction ID, target
// logical address, and the initiator logical address captured at send time.
// On a match, it records the reply and its backing buffer on the slot and
// releases the slot's semaphore.
func (t *Table) ResolveTransaction(reply Reply, replyBuf buffer.ChildPointer) (*Transaction, bool) {
	for _, s := range t.slots {
		s.mu.Lock()
		match := s.state == StateCommandSent &&
			s.transID == reply.TransID &&
			s.targetLA == reply.TargetLA &&
			s.initiatorLA == reply.InitiatorLA
		if match {
			s.reply = reply
			s.replyBuf = replyBuf
			s.state = StateReplyReceived
			s.mu.Unlock()
			select {
			case s.notify <- struct{}{}:
			default:
			}
			return s, true
		}
		s.mu.Unlock()
	}
	return nil, false
}
