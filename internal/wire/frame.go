package wire

import (
	"encoding/binary"
	"strings"
)

// FrameMagic is the first byte of every frame.
const FrameMagic byte = 0x47

// MaxFrameBody is the largest body a frame length field can describe.
const MaxFrameBody = 1<<16 - 1

// Encoder builds one outgoing frame: magic, 16-bit big-endian length,
// opcode, body. The length counts the opcode and everything after it and is
// backfilled by Finish.
type Encoder struct {
	buf []byte
	err error
}

func (e *Encoder) Begin(op Opcode) *Encoder {
	e.buf = append(e.buf[:0], FrameMagic, 0, 0, byte(op))
	e.err = nil
	return e
}

func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) U16(v uint16) *Encoder {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
	return e
}

func (e *Encoder) U32(v uint32) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
	return e
}

// Path writes the bytes of p followed by one NUL. An embedded NUL in p is a
// programming error surfaced by Finish.
func (e *Encoder) Path(p string) *Encoder {
	if strings.IndexByte(p, 0) >= 0 {
		e.err = ErrPathHasNUL
		return e
	}
	e.buf = append(e.buf, p...)
	e.buf = append(e.buf, 0)
	return e
}

func (e *Encoder) Pack(p Payload) *Encoder {
	e.buf = append(e.buf, p.Raw()...)
	return e
}

// Finish backfills the length field and returns the complete frame bytes.
func (e *Encoder) Finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	body := len(e.buf) - 3
	if body > MaxFrameBody {
		return nil, protoErrf("frame body too large: %d bytes", body)
	}
	binary.BigEndian.PutUint16(e.buf[1:3], uint16(body))
	return e.buf, nil
}

// Cursor reads primitives out of one frame body (opcode already consumed)
// with bounds checking. Every over-read is a protocol error.
type Cursor struct {
	b   []byte
	off int
}

func NewCursor(b []byte) *Cursor {
	return &Cursor{b: b}
}

func (c *Cursor) remaining() int {
	return len(c.b) - c.off
}

func (c *Cursor) U8() (uint8, error) {
	if c.remaining() < 1 {
		return 0, protoErr("read u8", ErrShortFrame)
	}
	v := c.b[c.off]
	c.off++
	return v, nil
}

func (c *Cursor) U16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, protoErr("read u16", ErrShortFrame)
	}
	v := binary.BigEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v, nil
}

func (c *Cursor) U32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, protoErr("read u32", ErrShortFrame)
	}
	v := binary.BigEndian.Uint32(c.b[c.off:])
	c.off += 4
	return v, nil
}

// Path reads bytes up to the first NUL and advances past it.
func (c *Cursor) Path() (string, error) {
	rest := c.b[c.off:]
	i := indexNUL(rest)
	if i < 0 {
		return "", protoErr("read path", ErrShortFrame)
	}
	c.off += i + 1
	return string(rest[:i]), nil
}

// Tail consumes the remainder of the frame as one MessagePack object.
func (c *Cursor) Tail() (Payload, error) {
	if c.remaining() == 0 {
		return Payload{}, protoErr("read payload", ErrShortFrame)
	}
	p := FromRaw(c.b[c.off:])
	c.off = len(c.b)
	return p, nil
}

// Done asserts the frame was fully consumed.
func (c *Cursor) Done() error {
	if c.remaining() != 0 {
		return protoErr("frame not fully consumed", ErrTrailingBytes)
	}
	return nil
}

func indexNUL(b []byte) int {
	for i, v := range b {
		if v == 0 {
			return i
		}
	}
	return -1
}
