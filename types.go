package eshet

import (
	"github.com/danmuck/eshet/internal/client"
	"github.com/danmuck/eshet/internal/wire"
)

// Re-exports of the wire and session types that appear in the public API.

type (
	Payload     = wire.Payload
	Result      = wire.Result
	StateValue  = wire.StateValue
	StateReply  = wire.StateReply
	RemoteError = wire.RemoteError

	IncomingCall = client.IncomingCall
	Property     = client.Property
	Timeouts     = client.Timeouts
	Backoff      = client.Backoff
)

var (
	ErrDisconnected      = client.ErrDisconnected
	ErrClientClosed      = client.ErrClientClosed
	ErrAlreadyRegistered = client.ErrAlreadyRegistered
	ErrNotRegistered     = client.ErrNotRegistered
)

// Pack encodes a Go value into a MessagePack payload.
func Pack(v any) (Payload, error) {
	return wire.Pack(v)
}

// MustPack is Pack for values known statically to be encodable.
func MustPack(v any) Payload {
	return wire.MustPack(v)
}

// PayloadFromRaw wraps already-encoded MessagePack bytes.
func PayloadFromRaw(b []byte) Payload {
	return wire.FromRaw(b)
}

// Known wraps a payload as a known state value.
func Known(p Payload) StateValue {
	return wire.Known(p)
}

// Unknown is the absent state value.
func Unknown() StateValue {
	return wire.Unknown()
}

// Success wraps a payload as a successful Result.
func Success(p Payload) Result {
	return wire.Success(p)
}

// Failure wraps a payload as an error Result.
func Failure(p Payload) Result {
	return wire.Failure(p)
}
