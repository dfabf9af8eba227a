package client

import (
	"github.com/danmuck/eshet/internal/wire"
)

type waiterKind uint8

const (
	waiterResult waiterKind = iota
	waiterState
)

// waiter is one in-flight request's result sink. Exactly one of result or
// state is non-nil, matching kind. Channels must have capacity for one
// message; the table sends exactly once and never blocks.
type waiter struct {
	kind   waiterKind
	result chan<- wire.Result
	state  chan<- wire.StateReply
}

// pendingTable maps 16-bit correlation ids to waiters. It is owned by the
// session task exclusively; no locking.
type pendingTable struct {
	waiters map[uint16]waiter
	nextID  uint16
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[uint16]waiter)}
}

// alloc returns a correlation id that is currently free. Ids wrap at 2^16;
// reuse is fine once the prior entry has been extracted.
func (t *pendingTable) alloc() uint16 {
	for {
		id := t.nextID
		t.nextID++
		if _, used := t.waiters[id]; !used {
			return id
		}
	}
}

func (t *pendingTable) insertResult(ch chan<- wire.Result) uint16 {
	id := t.alloc()
	t.waiters[id] = waiter{kind: waiterResult, result: ch}
	return id
}

func (t *pendingTable) insertState(ch chan<- wire.StateReply) uint16 {
	id := t.alloc()
	t.waiters[id] = waiter{kind: waiterState, state: ch}
	return id
}

// deliver extracts the waiter for id and hands it the narrowed reply. An
// unknown id, or a reply variant the waiter cannot accept, is a protocol
// error that kills the connection. On a narrow failure the entry stays in
// the table so teardown still settles the waiter.
func (t *pendingTable) deliver(id uint16, reply wire.AnyReply) error {
	w, ok := t.waiters[id]
	if !ok {
		return errUnknownCorrelation(id)
	}

	switch w.kind {
	case waiterResult:
		r, err := reply.ToResult()
		if err != nil {
			return err
		}
		delete(t.waiters, id)
		w.result <- r
	default:
		r, err := reply.ToStateReply()
		if err != nil {
			return err
		}
		delete(t.waiters, id)
		w.state <- r
	}
	return nil
}

// drop removes a waiter without delivering anything. Used when the request
// frame could not be built and the caller is told directly.
func (t *pendingTable) drop(id uint16) {
	delete(t.waiters, id)
}

// failAll delivers Error("disconnected") to every waiter and clears the
// table. Each waiter hears about the disconnect exactly once.
func (t *pendingTable) failAll() {
	for id, w := range t.waiters {
		delete(t.waiters, id)
		switch w.kind {
		case waiterResult:
			w.result <- disconnectedResult()
		default:
			w.state <- wire.StateReply{Err: disconnectedError()}
		}
	}
}

func (t *pendingTable) size() int {
	return len(t.waiters)
}

func disconnectedError() *wire.RemoteError {
	return &wire.RemoteError{Payload: wire.MustPack("disconnected")}
}

func disconnectedResult() wire.Result {
	return wire.Result{Err: disconnectedError()}
}
