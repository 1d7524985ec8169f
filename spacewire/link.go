// Package spacewire defines the SpaceWire driver capability set consumed by
// the protocol dispatcher and RMAP initiator, plus a loopback test double
// used by the spacewire and rmap tests and by cmd/demo.
package spacewire

import (
	"context"
	"errors"
	"time"
)

// EndMarker classifies how a packet ended on the wire.
type EndMarker int

const (
	EndUnknown EndMarker = iota
	EndPartial
	EndEOP
	EndEEP
)

// ErrTimeout is returned by Link operations that exceed their deadline.
var ErrTimeout = errors.New("spacewire: timeout")

// ErrLinkDown is returned when an operation is attempted on a link that is
// not up.
var ErrLinkDown = errors.New("spacewire: link down")

// TxBuffer is a transmit buffer acquired from the driver. Bytes is mutable
// until Send consumes it.
type TxBuffer struct {
	Bytes []byte
	End   EndMarker
}

// RxBuffer is a receive buffer returned by the driver. Bytes is immutable
// and must be released with Link.ReleaseBuffer once processed.
type RxBuffer struct {
	Bytes []byte
	End   EndMarker
}

// TimeCodeListener receives time-code values pushed by the driver, usually
// from interrupt context — see timecode.Fanout for the non-blocking
// multi-listener registry built on top of this.
type TimeCodeListener interface {
	DispatchTimeCode(tc byte)
}

// Link is the SpaceWire driver capability set. Implementations may
// block up to the supplied timeout on RequestBuffer, Send and Receive; a
// zero timeout means wait indefinitely, bounded by ctx.
type Link interface {
	Open() bool
	Close()
	Up(ctx context.Context, timeout time.Duration) bool
	Down(ctx context.Context, timeout time.Duration)
	IsUp() bool

	RequestBuffer(ctx context.Context, timeout time.Duration) (TxBuffer, error)
	Send(ctx context.Context, buf TxBuffer, timeout time.Duration) error
	Receive(ctx context.Context, timeout time.Duration) (RxBuffer, error)
	ReleaseBuffer(buf RxBuffer)
	FlushReceiveBuffer()

	MaximumPacketLength() int
	AddTimeCodeListener(l TimeCodeListener) bool
}
