package client

import (
	"testing"

	"github.com/danmuck/eshet/internal/wire"
)

func TestPendingDeliverExactlyOnce(t *testing.T) {
	p := newPendingTable()
	ch := make(chan wire.Result, 1)
	id := p.insertResult(ch)

	if err := p.deliver(id, wire.AnyReply{Kind: wire.ReplySuccess, Value: wire.MustPack(int64(6))}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	r := <-ch
	if !r.OK() {
		t.Fatalf("expected success, got %v", r)
	}
	if err := p.deliver(id, wire.AnyReply{Kind: wire.ReplySuccess}); err == nil {
		t.Fatalf("second deliver for same id must be a protocol error")
	}
}

func TestPendingUnknownIDIsProtocolError(t *testing.T) {
	p := newPendingTable()
	err := p.deliver(42, wire.AnyReply{Kind: wire.ReplySuccess})
	if !wire.IsProtocolError(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestPendingKindMismatchKeepsWaiter(t *testing.T) {
	p := newPendingTable()
	ch := make(chan wire.Result, 1)
	id := p.insertResult(ch)

	err := p.deliver(id, wire.AnyReply{Kind: wire.ReplyKnown, Value: wire.MustPack(int64(1))})
	if !wire.IsProtocolError(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	// the waiter must still be settled by teardown
	p.failAll()
	r := <-ch
	if r.OK() {
		t.Fatalf("expected disconnected error, got %v", r)
	}
	if r.Err.Payload.String() != "disconnected" {
		t.Fatalf("payload mismatch: %s", r.Err.Payload)
	}
}

func TestPendingFailAllSettlesBothKinds(t *testing.T) {
	p := newPendingTable()
	rc := make(chan wire.Result, 1)
	sc := make(chan wire.StateReply, 1)
	p.insertResult(rc)
	p.insertState(sc)

	p.failAll()
	if p.size() != 0 {
		t.Fatalf("table not cleared: %d", p.size())
	}
	if r := <-rc; r.OK() {
		t.Fatalf("result waiter not failed")
	}
	if r := <-sc; r.OK() {
		t.Fatalf("state waiter not failed")
	}
}

func TestPendingIDReuseAfterExtract(t *testing.T) {
	p := newPendingTable()
	seen := make(map[uint16]bool)
	for i := 0; i < 1<<17; i++ {
		ch := make(chan wire.Result, 1)
		id := p.insertResult(ch)
		if err := p.deliver(id, wire.AnyReply{Kind: wire.ReplySuccess}); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		seen[id] = true
	}
	// every id extracted promptly: the counter wraps and reuses freely
	if len(seen) != 1<<16 {
		t.Fatalf("expected full id space reuse, got %d distinct ids", len(seen))
	}
}

func TestPendingAllocSkipsBusyIDs(t *testing.T) {
	p := newPendingTable()
	busy := make(chan wire.Result, 1)
	first := p.insertResult(busy)
	p.nextID = first // force a collision on the next alloc

	other := p.insertResult(make(chan wire.Result, 1))
	if other == first {
		t.Fatalf("alloc handed out a busy id")
	}
}
