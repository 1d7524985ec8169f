// cmd/demo/main.go exercises the full stack end to end against a loopback
// link: a configuration document drives the dispatcher and software bus
// wiring, an RMAP initiator talks to a simulated target goroutine, a
// timecode fan-out is fed from the link, and the Prometheus registry is
// gathered once at the end and its metric family count printed. It plays the same role as the firmware's
// boardtest command: a manual smoke test runnable on a workstation.
package main

import (
	"context"
	"time"

	"spacewire-comms/config"
	"spacewire-comms/dispatcher"
	"spacewire-comms/heartbeat"
	"spacewire-comms/metrics"
	"spacewire-comms/rmap"
	"spacewire-comms/spacewire"
	"spacewire-comms/swb"
	"spacewire-comms/timecode"
	"spacewire-comms/x/conv"
	"spacewire-comms/x/fmtx"
	"spacewire-comms/x/shmring"
)

// embeddedConfig mirrors the firmware's per-device embedded JSON: one RMAP
// target, a dedicated listener for RMAP replies plus a default listener for
// everything else, and two software bus channels.
const embeddedConfig = `{
	"targets": [
		{"name": "fpga", "path": [], "target_la": 171, "key": 32, "reply_address": []}
	],
	"listeners": [
		{"name": "rmap", "protocol_id": 1, "pool_size": 3, "elem_size": 1024, "queue_depth": 4},
		{"name": "diag", "protocol_id": 0, "pool_size": 2, "elem_size": 256, "queue_depth": 4, "default": true}
	],
	"channels": [
		{"name": "telemetry", "capacity": 8, "filter": {"kind": "subscription", "subs": [{"value": 16, "mask": 240}]}},
		{"name": "catchall", "capacity": 8, "default": true}
	]
}`

// out mirrors boardtest's dual-sink console writer: it formats with
// x/fmtx.Sprintf, prints to stdout and echoes the same bytes onto a
// loopback shmring.
type out struct {
	ring *shmring.Ring
}

func (o *out) line(format string, a ...any) {
	s := fmtx.Sprintf(format, a...)
	print(s, "\n")
	if o.ring != nil {
		_ = o.ring.TryWriteFrom([]byte(s))
		_ = o.ring.TryWriteFrom([]byte{'\n'})
	}
}

// hex8 renders n as the 8-digit hex a driver-side logger would print,
// using x/conv's allocation-free writer rather than fmt.
func hex8(n uint32) string {
	var buf [8]byte
	return string(conv.U32Hex(buf[:], n))
}

// runTarget stands in for the remote RMAP target: it decodes the raw
// command bytes directly (rather than through rmap.Decode, which is
// initiator-side) and crafts a matching reply.
func runTarget(ctx context.Context, link spacewire.Link, targetLA byte) {
	for {
		rx, err := link.Receive(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		cmd := append([]byte(nil), rx.Bytes...)
		link.ReleaseBuffer(rx)
		if len(cmd) < 7 {
			continue
		}
		instr := cmd[2]
		isWrite := instr&0x20 != 0
		replyRequested := instr&0x08 != 0
		tid := uint16(cmd[5])<<8 | uint16(cmd[6])
		if !replyRequested {
			continue
		}

		var data []byte
		if !isWrite {
			data = make([]byte, 8)
			for i := range data {
				data[i] = byte(i * i)
			}
		}

		replyBuf := make([]byte, rmap.BufferSize)
		n, err := rmap.EncodeReply(replyBuf, rmap.ReplyFields{
			InitiatorLA: rmap.DefaultLogicalAddress,
			IsWrite:     isWrite,
			Instruction: rmap.ReplyInstruction(isWrite),
			Status:      rmap.StatusSuccess,
			TargetLA:    targetLA,
			TransID:     tid,
			Data:        data,
		})
		if err != nil {
			continue
		}
		tx, err := link.RequestBuffer(ctx, time.Second)
		if err != nil {
			continue
		}
		tx.Bytes = replyBuf[:n]
		tx.End = spacewire.EndEOP
		_ = link.Send(ctx, tx, time.Second)
	}
}

func main() {
	_, ring := shmring.NewRegistered(256)
	o := &out{ring: ring}

	doc, err := config.Load([]byte(embeddedConfig))
	if err != nil {
		o.line("config load failed: %v", err)
		return
	}

	targets, err := doc.BuildTargetList()
	if err != nil {
		o.line("target list build failed: %v", err)
		return
	}
	target, _ := targets.ByName("fpga")

	disp, listeners, err := doc.BuildDispatcher(1, 1, 4, rmap.BufferSize)
	if err != nil {
		o.line("dispatcher build failed: %v", err)
		return
	}

	dist, channels, err := doc.BuildDistributor(listeners["diag"].Pool, 4, 8)
	if err != nil {
		o.line("distributor build failed: %v", err)
		return
	}

	initiatorLink, targetLink := spacewire.NewLoopbackPair(8192, rmap.BufferSize)
	initiatorLink.Open()
	targetLink.Open()

	fanout := timecode.NewFanout(2)
	ticks, _ := fanout.Subscribe(4)
	initiatorLink.AddTimeCodeListener(fanout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon := heartbeat.NewMonitor()

	dispThread := dispatcher.NewThread(disp, initiatorLink, time.Second, mon, "dispatcher")
	go dispThread.Run(ctx)
	go runTarget(ctx, targetLink, target.TargetLogicalAddr)
	go dist.RunDistributor(ctx, 20*time.Millisecond, mon, "distributor")

	init := rmap.NewInitiator(initiatorLink, listeners["rmap"].Queue, targets, rmap.DefaultLogicalAddress, nil, mon)
	go init.RunReceiveThread(ctx, "rmap-rx")

	initiatorLink.InjectTimeCode(0x2A)
	select {
	case tc := <-ticks:
		o.line("timecode listener observed 0x%x", tc)
	case <-time.After(time.Second):
		o.line("timecode listener saw nothing")
	}

	writeRes := init.Write(ctx, target, rmap.Options{Increment: true, Reply: true}, 0x1000, 0x00, []byte{0xDE, 0xAD, 0xBE, 0xEF}, time.Second)
	o.line("write result: %s", writeRes.Result)

	readBuf := make([]byte, 8)
	readRes := init.Read(ctx, target, rmap.Options{}, 0x2000, 0x00, readBuf, time.Second)
	o.line("read result: %s, bytes=%d", readRes.Result, readRes.ReadBytes)

	if res := dist.SendSlice(0x15, []byte{1, 2, 3}); res != swb.ResultSuccess {
		o.line("bus send failed: %v", res)
	}
	if m, ok := channels["telemetry"].ReceiveMessage(ctx, time.Second); ok {
		o.line("telemetry channel delivered id %s", hex8(uint32(m.ID)))
		m.Buffer.Release()
	}

	reg := metrics.Register(init, disp, []metrics.NamedListener{
		{Name: "rmap", L: listeners["rmap"]},
		{Name: "diag", L: listeners["diag"]},
	}, dist)
	families, _ := reg.Gather()
	o.line("exported %d metric families", len(families))
}
