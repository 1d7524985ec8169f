package spacewire

import (
	"context"
	"sync"
	"time"

	"spacewire-comms/wire"
	"spacewire-comms/x/shmring"
)

// frameHeaderLen is the loopback's own wire framing: a 4-byte big-endian
// length prefix followed by a 1-byte end marker, then the payload. This
// framing exists only inside Loopback to recover packet boundaries from the
// underlying byte ring; it is not part of any spec wire format.
const frameHeaderLen = 5

// Loopback is a Link test double built on two shmring.Ring byte pipes: one
// this side writes Send frames into (tx), one it reads Receive frames from
// (rx). It has no real link-up/down semantics beyond a boolean flag, and
// time codes are delivered synchronously to registered listeners.
type Loopback struct {
	mu        sync.Mutex
	tx        *shmring.Ring
	rx        *shmring.Ring
	up        bool
	maxPacket int
	listeners []TimeCodeListener
}

// NewLoopback creates a self-looping link (everything sent is immediately
// available to receive on the same instance), with the given ring capacity
// (bytes, must be a power of two) and maximum packet length.
func NewLoopback(ringCapacity, maxPacketLen int) *Loopback {
	ring := shmring.New(ringCapacity)
	return &Loopback{tx: ring, rx: ring, maxPacket: maxPacketLen}
}

// NewLoopbackPair creates two cross-wired links: a's Send feeds b's Receive
// and vice versa, simulating two nodes on opposite ends of a SpaceWire
// cable.
func NewLoopbackPair(ringCapacity, maxPacketLen int) (a, b *Loopback) {
	aToB := shmring.New(ringCapacity)
	bToA := shmring.New(ringCapacity)
	a = &Loopback{tx: aToB, rx: bToA, maxPacket: maxPacketLen}
	b = &Loopback{tx: bToA, rx: aToB, maxPacket: maxPacketLen}
	return a, b
}

func (l *Loopback) Open() bool {
	l.mu.Lock()
	l.up = true
	l.mu.Unlock()
	return true
}

func (l *Loopback) Close() {
	l.mu.Lock()
	l.up = false
	l.mu.Unlock()
}

func (l *Loopback) Up(ctx context.Context, timeout time.Duration) bool {
	return l.Open()
}

func (l *Loopback) Down(ctx context.Context, timeout time.Duration) {
	l.Close()
}

func (l *Loopback) IsUp() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.up
}

func (l *Loopback) MaximumPacketLength() int { return l.maxPacket }

// RequestBuffer hands out a fresh, unshared transmit buffer sized to the
// link's maximum packet length.
func (l *Loopback) RequestBuffer(ctx context.Context, timeout time.Duration) (TxBuffer, error) {
	if !l.IsUp() {
		return TxBuffer{}, ErrLinkDown
	}
	return TxBuffer{Bytes: make([]byte, l.maxPacket)}, nil
}

// Send frames buf and writes it into the loopback ring. buf.Bytes is
// expected to already be truncated to its real length by the caller.
func (l *Loopback) Send(ctx context.Context, buf TxBuffer, timeout time.Duration) error {
	if !l.IsUp() {
		return ErrLinkDown
	}
	frame := make([]byte, frameHeaderLen+len(buf.Bytes))
	wire.StoreU32(frame, uint32(len(buf.Bytes)))
	frame[4] = byte(buf.End)
	copy(frame[frameHeaderLen:], buf.Bytes)

	deadline := deadlineFromTimeout(timeout)
	for {
		if n := l.tx.TryWriteFrom(frame); n == len(frame) {
			return nil
		} else if n > 0 {
			// Partial write: retry only the remainder.
			frame = frame[n:]
			continue
		}
		select {
		case <-l.tx.Writable():
			continue
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrTimeout
		}
	}
}

// Receive blocks until a full frame is available on the ring, or the
// timeout/context elapses.
func (l *Loopback) Receive(ctx context.Context, timeout time.Duration) (RxBuffer, error) {
	if !l.IsUp() {
		return RxBuffer{}, ErrLinkDown
	}
	deadline := deadlineFromTimeout(timeout)

	header := make([]byte, frameHeaderLen)
	if err := l.readFull(ctx, deadline, header); err != nil {
		return RxBuffer{}, err
	}
	length, _ := wire.LoadU32(header[:4])
	end := EndMarker(header[4])

	payload := make([]byte, length)
	if err := l.readFull(ctx, deadline, payload); err != nil {
		return RxBuffer{}, err
	}
	return RxBuffer{Bytes: payload, End: end}, nil
}

func (l *Loopback) readFull(ctx context.Context, deadline <-chan time.Time, dst []byte) error {
	got := 0
	for got < len(dst) {
		n := l.rx.TryReadInto(dst[got:])
		got += n
		if got == len(dst) {
			return nil
		}
		select {
		case <-l.rx.Readable():
			continue
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrTimeout
		}
	}
	return nil
}

func (l *Loopback) ReleaseBuffer(buf RxBuffer) {}

func (l *Loopback) FlushReceiveBuffer() {
	for l.rx.Available() > 0 {
		var discard [256]byte
		if l.rx.TryReadInto(discard[:]) == 0 {
			return
		}
	}
}

// AddTimeCodeListener registers l to receive future DispatchTimeCode calls.
func (l *Loopback) AddTimeCodeListener(listener TimeCodeListener) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
	return true
}

// InjectTimeCode synchronously delivers tc to every registered listener,
// simulating the driver's own interrupt-context dispatch.
func (l *Loopback) InjectTimeCode(tc byte) {
	l.mu.Lock()
	listeners := append([]TimeCodeListener(nil), l.listeners...)
	l.mu.Unlock()
	for _, ls := range listeners {
		ls.DispatchTimeCode(tc)
	}
}

func deadlineFromTimeout(timeout time.Duration) <-chan time.Time {
	if timeout <= 0 {
		return nil
	}
	return time.After(timeout)
}
