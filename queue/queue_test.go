package queue

import (
	"context"
	"testing"
	"time"

	"spacewire-comms/buffer"
)

func TestTrySendRespectsCapacity(t *testing.T) {
	pool := buffer.NewPool(4, 8)
	q := NewQueue(2)

	mk := func() buffer.ChildPointer {
		p, _ := pool.Allocate()
		c, _ := p.GetChild(0, 0, 8)
		p.Release()
		return c
	}

	if !q.TrySend(mk()) {
		t.Fatal("expected first send to succeed")
	}
	if !q.TrySend(mk()) {
		t.Fatal("expected second send to succeed")
	}
	third := mk()
	if q.TrySend(third) {
		t.Fatal("expected third send to overflow")
	}
	third.Release()
}

func TestReceiveTimesOut(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	_, ok := q.Receive(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatal("expected receive to time out")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("receive returned too early")
	}
}

func TestReceiveUnblocksOnSend(t *testing.T) {
	pool := buffer.NewPool(1, 8)
	q := NewQueue(1)
	done := make(chan buffer.ChildPointer, 1)

	go func() {
		p, ok := q.Receive(context.Background(), time.Second)
		if !ok {
			close(done)
			return
		}
		done <- p
	}()

	time.Sleep(10 * time.Millisecond)
	parent, _ := pool.Allocate()
	child, _ := parent.GetChild(1, 0, 8)
	parent.Release()
	if !q.TrySend(child) {
		t.Fatal("expected send to succeed")
	}

	select {
	case p, ok := <-done:
		if !ok {
			t.Fatal("receive returned not ok")
		}
		p.Release()
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock")
	}
}

func TestReceiveRespectsContextCancellation(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Receive(ctx, 0)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected receive to fail after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not respond to cancellation")
	}
}

func TestDrainReleasesAll(t *testing.T) {
	pool := buffer.NewPool(2, 8)
	q := NewQueue(2)
	p1, _ := pool.Allocate()
	c1, _ := p1.GetChild(0, 0, 8)
	p1.Release()
	p2, _ := pool.Allocate()
	c2, _ := p2.GetChild(0, 0, 8)
	p2.Release()

	q.TrySend(c1)
	q.TrySend(c2)
	q.Drain()

	if pool.NumFree() != 2 {
		t.Fatalf("expected all elements freed after drain, got %d free", pool.NumFree())
	}
	if q.Len() != 0 {
		t.Fatal("expected queue empty after drain")
	}
}
