package wire

import "fmt"

// RemoteError carries a server-supplied error payload. The payload content
// is opaque to the client; it is rendered verbatim.
type RemoteError struct {
	Payload Payload
}

func (e *RemoteError) Error() string {
	return "eshet: remote error: " + e.Payload.String()
}

// Result is the outcome of a request that replies with success or error.
type Result struct {
	Value Payload
	Err   *RemoteError
}

func Success(p Payload) Result {
	return Result{Value: p}
}

func Failure(p Payload) Result {
	return Result{Err: &RemoteError{Payload: p}}
}

// OK reports whether the result carries a success value.
func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("Error(%s)", r.Err.Payload)
	}
	return fmt.Sprintf("Success(%s)", r.Value)
}

// StateValue is a state's last-known value or its absence. Age, in whole
// seconds since the last change, is present only on the initial observe
// reply; everywhere else HasAge is false.
type StateValue struct {
	Known  bool
	Value  Payload
	HasAge bool
	Age    uint32
}

func Known(p Payload) StateValue {
	return StateValue{Known: true, Value: p}
}

func Unknown() StateValue {
	return StateValue{}
}

func (s StateValue) String() string {
	if !s.Known {
		return "Unknown"
	}
	return fmt.Sprintf("Known(%s)", s.Value)
}

// StateReply is the outcome of a state_observe request.
type StateReply struct {
	State StateValue
	Err   *RemoteError
}

func (r StateReply) OK() bool {
	return r.Err == nil
}

// ReplyKind discriminates the decoded form of a reply frame.
type ReplyKind uint8

const (
	ReplySuccess ReplyKind = iota
	ReplyError
	ReplyKnown
	ReplyUnknown
)

// AnyReply is the widest decode of a reply frame, before it is narrowed to
// the waiter's expected kind. A Known/Unknown reply cannot narrow to Result
// and a Success reply cannot narrow to StateReply; both are protocol errors.
type AnyReply struct {
	Kind   ReplyKind
	Value  Payload
	HasAge bool
	Age    uint32
}

func (a AnyReply) ToResult() (Result, error) {
	switch a.Kind {
	case ReplySuccess:
		return Success(a.Value), nil
	case ReplyError:
		return Failure(a.Value), nil
	default:
		return Result{}, protoErrf("state reply for a non-state request (kind=%d)", a.Kind)
	}
}

func (a AnyReply) ToStateReply() (StateReply, error) {
	switch a.Kind {
	case ReplyKnown:
		return StateReply{State: StateValue{Known: true, Value: a.Value, HasAge: a.HasAge, Age: a.Age}}, nil
	case ReplyUnknown:
		return StateReply{State: StateValue{HasAge: a.HasAge, Age: a.Age}}, nil
	case ReplyError:
		return StateReply{Err: &RemoteError{Payload: a.Value}}, nil
	default:
		return StateReply{}, protoErrf("success reply for a state request")
	}
}
