package rmap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"spacewire-comms/bus"
	"spacewire-comms/buffer"
	"spacewire-comms/dispatcher"
	"spacewire-comms/heartbeat"
	"spacewire-comms/queue"
	"spacewire-comms/spacewire"
)

// Result is the outcome of a write or read operation.
type Result int

const (
	ResultUnknown Result = iota
	ResultSuccess
	ResultTimeout
	ResultInvalidReply
	ResultExecutionFailed
	ResultNoFreeTransactions
	ResultInvalidParameters
	ResultSendFailed
	ResultReplyTooShort
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultInvalidReply:
		return "invalidReply"
	case ResultExecutionFailed:
		return "executionFailed"
	case ResultNoFreeTransactions:
		return "noFreeTransactions"
	case ResultInvalidParameters:
		return "invalidParameters"
	case ResultSendFailed:
		return "sendFailed"
	case ResultReplyTooShort:
		return "replyTooShort"
	default:
		return "unknown"
	}
}

// OperationResult is what write/read hand back to the caller.
type OperationResult struct {
	Result         Result
	ReadBytes      int
	ReplyErrorCode ReplyStatus
}

// ErrorCounters tracks the initiator's receive-thread error accounting
// (grounded on RmapInitiator::ErrorCounters).
type ErrorCounters struct {
	DiscardedReceivedPackets atomic.Uint64
	NonRmapPacketReceived    atomic.Uint64
	ErroneousReplyPackets    atomic.Uint64
	ErrorInStoringReplyPacket atomic.Uint64
}

// NonRmapTopic is the topic the initiator publishes to whenever a packet from
// its receive queue fails decoding as an RMAP reply addressed to this
// initiator (wrong initiator address, wrong protocol ID, not a reply, or a
// malformed header or length). It replaces
// the source's process-global publish topic with an injected collaborator.
var NonRmapTopic = bus.T("rmap", "non-rmap-packet")

// Initiator is the RMAP Initiator's public contract.
type Initiator struct {
	opLock sync.Mutex

	table       *Table
	link        spacewire.Link
	listenQueue *queue.Queue
	targets     *TargetList
	initiatorLA byte

	nonRmapConn *bus.Connection

	Errors ErrorCounters

	discardedMu     sync.Mutex
	discardedPacket []byte

	heartbeatMon *heartbeat.Monitor
	rxTimeout    time.Duration
}

// NewInitiator builds an RMAP initiator. listenQueue is the dispatcher
// listener queue registered for ProtocolIdentifier (0x01); nonRmapConn is
// the bus connection the receive thread publishes to whenever it sees a
// non-RMAP packet (replacing the source's global topic, per DESIGN NOTES).
func NewInitiator(link spacewire.Link, listenQueue *queue.Queue, targets *TargetList, initiatorLA byte, nonRmapConn *bus.Connection, mon *heartbeat.Monitor) *Initiator {
	return &Initiator{
		table:        NewTable(),
		link:         link,
		listenQueue:  listenQueue,
		targets:      targets,
		initiatorLA:  initiatorLA,
		nonRmapConn:  nonRmapConn,
		heartbeatMon: mon,
		rxTimeout:    5 * time.Second,
	}
}

// ListenerBuilder returns the dispatcher.Listener this initiator should be
// registered under on the protocol dispatcher, wired to pool/listenQueue.
func ListenerBuilder(pool *buffer.Pool, q *queue.Queue) *dispatcher.Listener {
	return &dispatcher.Listener{
		ProtocolID: ProtocolIdentifier,
		Pool:       pool,
		Queue:      q,
	}
}

// Write issues an RMAP write command to target.
func (init *Initiator) Write(ctx context.Context, target TargetNode, opts Options, memAddr uint32, extAddr byte, data []byte, timeout time.Duration) OperationResult {
	if len(data) == 0 {
		return OperationResult{Result: ResultInvalidParameters}
	}
	return init.execute(ctx, target, opts, memAddr, extAddr, data, nil, timeout, true)
}

// WriteNamed looks up target by name in the initiator's TargetList, then
// issues a write.
func (init *Initiator) WriteNamed(ctx context.Context, name string, opts Options, memAddr uint32, extAddr byte, data []byte, timeout time.Duration) OperationResult {
	target, ok := init.targets.ByName(name)
	if !ok {
		return OperationResult{Result: ResultInvalidParameters}
	}
	return init.Write(ctx, target, opts, memAddr, extAddr, data, timeout)
}

// Read issues an RMAP read command to target; opts.Reply is forced true
// since a read is always blocking. On success buf is filled with the
// received payload.
func (init *Initiator) Read(ctx context.Context, target TargetNode, opts Options, memAddr uint32, extAddr byte, buf []byte, timeout time.Duration) OperationResult {
	if len(buf) == 0 {
		return OperationResult{Result: ResultInvalidParameters}
	}
	opts.Reply = true
	return init.execute(ctx, target, opts, memAddr, extAddr, nil, buf, timeout, false)
}

// ReadNamed looks up target by name in the initiator's TargetList, then
// issues a read.
func (init *Initiator) ReadNamed(ctx context.Context, name string, opts Options, memAddr uint32, extAddr byte, buf []byte, timeout time.Duration) OperationResult {
	target, ok := init.targets.ByName(name)
	if !ok {
		return OperationResult{Result: ResultInvalidParameters}
	}
	return init.Read(ctx, target, opts, memAddr, extAddr, buf, timeout)
}

func (init *Initiator) execute(ctx context.Context, target TargetNode, opts Options, memAddr uint32, extAddr byte, writeData []byte, readBuf []byte, timeout time.Duration, isWrite bool) OperationResult {
	// opLock covers command construction and transmission only; the reply
	// wait happens after it is released so other operations can proceed.
	init.opLock.Lock()

	tr, ok := init.table.GetFreeTransaction(target.TargetLogicalAddr, init.initiatorLA, timeout)
	if !ok {
		init.opLock.Unlock()
		return OperationResult{Result: ResultNoFreeTransactions}
	}

	cmd := Command{
		Target:      target,
		Options:     opts,
		InitiatorLA: init.initiatorLA,
		TransID:     tr.TransID(),
		ExtAddr:     extAddr,
		MemAddr:     memAddr,
		Data:        writeData,
		DataLength:  uint32(len(readBuf)),
	}

	txBuf, err := init.link.RequestBuffer(ctx, timeout)
	if err != nil {
		tr.Free()
		init.opLock.Unlock()
		return OperationResult{Result: ResultSendFailed}
	}

	n, err := Encode(txBuf.Bytes, cmd, isWrite)
	if err != nil {
		tr.Free()
		init.opLock.Unlock()
		return OperationResult{Result: ResultSendFailed}
	}
	txBuf.Bytes = txBuf.Bytes[:n]
	txBuf.End = spacewire.EndEOP

	if err := init.link.Send(ctx, txBuf, timeout); err != nil {
		tr.Free()
		init.opLock.Unlock()
		return OperationResult{Result: ResultSendFailed}
	}

	tr.MarkCommandSent()
	init.opLock.Unlock()

	if !opts.Reply {
		// Fire-and-forget: success means only "handed to the driver".
		tr.Free()
		return OperationResult{Result: ResultSuccess}
	}

	tr.Wait(timeout)

	switch tr.State() {
	case StateReplyReceived:
		reply := tr.Reply()
		var result Result
		if reply.Status == StatusSuccess {
			result = ResultSuccess
		} else {
			result = ResultExecutionFailed
		}

		readBytes := 0
		if !isWrite && result == ResultSuccess {
			readBytes = copy(readBuf, reply.Data)
			if reply.DataLength < uint32(len(readBuf)) {
				result = ResultReplyTooShort
			}
		}

		tr.Free()
		return OperationResult{Result: result, ReadBytes: readBytes, ReplyErrorCode: reply.Status}

	default: // still commandSent: caller timed out
		tr.Free()
		return OperationResult{Result: ResultTimeout}
	}
}

// RunReceiveThread is the initiator's receive-thread behavior. It
// loops until ctx is cancelled, pulling packets off listenQueue (the
// protocol-0x01 dispatcher listener), parsing each with the packet codec,
// and resolving matching transactions.
func (init *Initiator) RunReceiveThread(ctx context.Context, heartbeatSource string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if init.heartbeatMon != nil {
			init.heartbeatMon.Beat(heartbeatSource, heartbeat.Tolerance(init.rxTimeout))
		}

		child, ok := init.listenQueue.Receive(ctx, init.rxTimeout)
		if !ok {
			continue
		}

		init.handleReceived(child)
	}
}

func (init *Initiator) handleReceived(child buffer.ChildPointer) {
	releaseChild := true
	defer func() {
		if releaseChild {
			child.Release()
		}
	}()

	reply, res := Decode(child.Bytes(), init.initiatorLA)
	switch res {
	case ExtractionSuccess:
		if _, matched := init.table.ResolveTransaction(reply, child); matched {
			releaseChild = false // ownership transferred to the transaction slot
			return
		}
		init.storeDiscarded(child.Bytes())
		init.Errors.DiscardedReceivedPackets.Add(1)
	case ExtractionCrcError:
		init.Errors.ErroneousReplyPackets.Add(1)
	case ExtractionIncorrectAddress, ExtractionInvalid:
		init.Errors.NonRmapPacketReceived.Add(1)
		if init.nonRmapConn != nil {
			payload := append([]byte(nil), child.Bytes()...)
			init.nonRmapConn.Publish(init.nonRmapConn.NewMessage(NonRmapTopic, payload, false))
		}
	}
}

func (init *Initiator) storeDiscarded(data []byte) {
	init.discardedMu.Lock()
	init.discardedPacket = append(init.discardedPacket[:0], data...)
	init.discardedMu.Unlock()
}

// DiscardedPacket returns a copy of the most recent unmatched reply packet,
// for diagnostics.
func (init *Initiator) DiscardedPacket() []byte {
	init.discardedMu.Lock()
	defer init.discardedMu.Unlock()
	return append([]byte(nil), init.discardedPacket...)
}
