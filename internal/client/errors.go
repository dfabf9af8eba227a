package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/eshet/internal/wire"
)

var (
	// ErrDisconnected marks transport failures: dial, read, write, or the
	// peer closing the socket.
	ErrDisconnected = errors.New("eshet: disconnected")

	// ErrClientClosed is returned by Enqueue after Exit.
	ErrClientClosed = errors.New("eshet: client closed")

	// ErrAlreadyRegistered is a programming error: a path may be registered
	// at most once per resource kind.
	ErrAlreadyRegistered = errors.New("eshet: path already registered")

	// ErrNotRegistered marks a state_changed for a path that was never
	// state_registered by this client.
	ErrNotRegistered = errors.New("eshet: path not registered")

	// ErrPingTimeout marks a liveness failure: the server did not answer a
	// ping within the ping timeout, or answered it with an error.
	ErrPingTimeout = errors.New("eshet: ping timeout")

	// errExitRequested propagates a graceful Exit out of the run loops.
	errExitRequested = errors.New("eshet: exit requested")

	// errTestDisconnect is the synthetic close injected by TestDisconnect.
	errTestDisconnect = errors.New("eshet: test disconnect")
)

func errUnknownCorrelation(id uint16) error {
	return &wire.ProtocolError{Reason: fmt.Sprintf("reply for unknown correlation id %d", id)}
}

func unexpectedMessage(msg wire.ServerMessage) error {
	return &wire.ProtocolError{Reason: fmt.Sprintf("unexpected %T", msg)}
}

func unknownPath(kind, path string) error {
	return &wire.ProtocolError{Reason: fmt.Sprintf("delivery for unregistered %s %q", kind, path)}
}
