package client

import (
	"github.com/danmuck/eshet/internal/wire"
)

// Command is one user call serialized for the session task. The facade
// enqueues Commands; the session drains them, writes frames, and records
// pending entries. Reply channels carried by a Command must have capacity
// for one message.
type Command interface {
	command()
}

type ActionCallCmd struct {
	Path   string
	Args   wire.Payload
	Result chan<- wire.Result
}

type ActionRegisterCmd struct {
	Path   string
	Calls  chan<- IncomingCall
	Result chan<- wire.Result
}

type StateRegisterCmd struct {
	Path   string
	Result chan<- wire.Result
}

type StateChangedCmd struct {
	Path   string
	Value  wire.StateValue
	Result chan<- wire.Result
}

type StateObserveCmd struct {
	Path    string
	Updates chan<- wire.StateValue
	Reply   chan<- wire.StateReply
}

type EventRegisterCmd struct {
	Path   string
	Result chan<- wire.Result
}

type EventEmitCmd struct {
	Path   string
	Value  wire.Payload
	Result chan<- wire.Result
}

type EventListenCmd struct {
	Path   string
	Events chan<- wire.Payload
	Result chan<- wire.Result
}

type PropertyRegisterCmd struct {
	Path   string
	Prop   Property
	Result chan<- wire.Result
}

type PropertyGetCmd struct {
	Path   string
	Result chan<- wire.Result
}

type PropertySetCmd struct {
	Path   string
	Value  wire.Payload
	Result chan<- wire.Result
}

// TestDisconnectCmd injects a synthetic close on the current connection.
// Debug only.
type TestDisconnectCmd struct{}

func (ActionCallCmd) command()       {}
func (ActionRegisterCmd) command()   {}
func (StateRegisterCmd) command()    {}
func (StateChangedCmd) command()     {}
func (StateObserveCmd) command()     {}
func (EventRegisterCmd) command()    {}
func (EventEmitCmd) command()        {}
func (EventListenCmd) command()      {}
func (PropertyRegisterCmd) command() {}
func (PropertyGetCmd) command()      {}
func (PropertySetCmd) command()      {}
func (TestDisconnectCmd) command()   {}

// IncomingCall is one invocation of an action this client owns. The holder
// must eventually call Reply exactly once. Replies produced after the
// connection that delivered the call has died are silently dropped.
type IncomingCall struct {
	Args wire.Payload

	epoch uint64
	id    uint16
	eng   *Engine
}

func (c IncomingCall) Reply(r wire.Result) {
	select {
	case c.eng.callReplies <- callReply{epoch: c.epoch, id: c.id, result: r}:
	case <-c.eng.exit:
	}
}

// callReply is a deferred action reply travelling back to the session task.
type callReply struct {
	epoch  uint64
	id     uint16
	result wire.Result
}
