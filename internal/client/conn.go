package client

import (
	"fmt"
	"net"
	"time"

	"github.com/danmuck/eshet/internal/observability"
	"github.com/danmuck/eshet/internal/wire"
)

// connState bundles one live connection: the socket, the companion receive
// goroutine's channels, and the stream unpacker. The session task is the
// only writer on the socket.
type connState struct {
	conn     net.Conn
	unpacker *wire.Unpacker

	recvData   chan []byte
	recvClosed chan struct{}
	stop       chan struct{}
}

func newConnState(conn net.Conn) *connState {
	c := &connState{
		conn:       conn,
		unpacker:   &wire.Unpacker{},
		recvData:   make(chan []byte, 16),
		recvClosed: make(chan struct{}),
		stop:       make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// receiveLoop does blocking reads and posts raw chunks to the session task.
// It exits when the socket errors or when the session stops it.
func (c *connState) receiveLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.recvData <- chunk:
			case <-c.stop:
				return
			}
		}
		if err != nil {
			close(c.recvClosed)
			return
		}
	}
}

func (c *connState) send(frame []byte) error {
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %v", ErrDisconnected, err)
	}
	observability.RecordFrameSent()
	return nil
}

func (c *connState) close() {
	close(c.stop)
	_ = c.conn.Close()
}

// awaitFrame pumps received chunks through the unpacker until one complete
// frame body is available. A nil timeout channel waits indefinitely (exit
// and socket closure still interrupt).
func (c *connState) awaitFrame(exit <-chan struct{}, timeout <-chan time.Time) ([]byte, error) {
	for {
		frame, err := c.unpacker.Next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			observability.RecordFrameReceived()
			return frame, nil
		}
		select {
		case <-exit:
			return nil, errExitRequested
		case <-c.recvClosed:
			return nil, fmt.Errorf("%w: socket closed", ErrDisconnected)
		case chunk := <-c.recvData:
			c.unpacker.Write(chunk)
		case <-timeout:
			return nil, fmt.Errorf("%w: handshake timeout", ErrDisconnected)
		}
	}
}
