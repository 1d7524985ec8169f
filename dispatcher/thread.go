package dispatcher

import (
	"context"
	"time"

	"spacewire-comms/heartbeat"
	"spacewire-comms/spacewire"
)

// Thread drives a Dispatcher from a SpaceWire link: heartbeat, receive,
// handle, repeat.
type Thread struct {
	dispatcher   *Dispatcher
	link         spacewire.Link
	timeout      time.Duration
	heartbeat    *heartbeat.Monitor
	heartbeatKey string
}

// NewThread creates a dispatcher worker bound to link, receiving with the
// given per-iteration timeout and beating the given heartbeat source.
func NewThread(d *Dispatcher, link spacewire.Link, timeout time.Duration, mon *heartbeat.Monitor, heartbeatSource string) *Thread {
	return &Thread{
		dispatcher:   d,
		link:         link,
		timeout:      timeout,
		heartbeat:    mon,
		heartbeatKey: heartbeatSource,
	}
}

// Run loops until ctx is cancelled. Each iteration emits a heartbeat, then
// blocks on the link's Receive with the thread's timeout; a successful
// receive is handed to Dispatcher.HandlePackage and its buffer released.
// Receive failures (including timeout) are treated as a no-op iteration, not
// a fatal error.
func (t *Thread) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t.heartbeat != nil {
			t.heartbeat.Beat(t.heartbeatKey, heartbeat.Tolerance(t.timeout))
		}

		rx, err := t.link.Receive(ctx, t.timeout)
		if err != nil {
			continue
		}
		t.dispatcher.HandlePackage(rx.Bytes)
		t.link.ReleaseBuffer(rx)
	}
}
