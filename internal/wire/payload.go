package wire

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Payload is one opaque MessagePack object. It holds the encoded bytes so
// that re-sends (state republish after reconnect) never re-serialize the
// user value. Decoding happens on demand via Value.
type Payload struct {
	raw msgp.Raw
}

// Pack encodes an arbitrary Go value into a Payload. Supported inputs are
// the types msgp.AppendIntf handles: nil, bool, integers, floats, strings,
// []byte, []any, map[string]any, and time.Time.
func Pack(v any) (Payload, error) {
	raw, err := msgp.AppendIntf(nil, v)
	if err != nil {
		return Payload{}, fmt.Errorf("eshet: pack payload: %w", err)
	}
	return Payload{raw: raw}, nil
}

// MustPack is Pack for values known statically to be encodable.
func MustPack(v any) Payload {
	p, err := Pack(v)
	if err != nil {
		panic(err)
	}
	return p
}

// Nil returns the MessagePack nil payload.
func Nil() Payload {
	return Payload{raw: msgp.AppendNil(nil)}
}

// FromRaw wraps already-encoded MessagePack bytes without validating them.
// The slice is retained, not copied.
func FromRaw(b []byte) Payload {
	return Payload{raw: b}
}

// Raw returns the encoded bytes. Nil payloads created by the zero value
// encode as MessagePack nil.
func (p Payload) Raw() []byte {
	if len(p.raw) == 0 {
		return msgp.AppendNil(nil)
	}
	return p.raw
}

// IsZero reports whether p was never assigned an encoded object.
func (p Payload) IsZero() bool {
	return len(p.raw) == 0
}

// Value decodes the payload into the generic form produced by
// msgp.ReadIntfBytes (map[string]any, []any, int64, float64, string, ...).
func (p Payload) Value() (any, error) {
	v, rest, err := msgp.ReadIntfBytes(p.Raw())
	if err != nil {
		return nil, fmt.Errorf("eshet: decode payload: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("eshet: decode payload: %d trailing bytes", len(rest))
	}
	return v, nil
}

// Clone returns a Payload backed by a copy of the encoded bytes.
func (p Payload) Clone() Payload {
	raw := make(msgp.Raw, len(p.raw))
	copy(raw, p.raw)
	return Payload{raw: raw}
}

// Equal compares decoded value trees, not raw bytes, since MessagePack does
// not canonicalize map ordering or integer widths.
func (p Payload) Equal(other Payload) bool {
	a, errA := p.Value()
	b, errB := other.Value()
	if errA != nil || errB != nil {
		return false
	}
	return equalValue(a, b)
}

func (p Payload) String() string {
	v, err := p.Value()
	if err != nil {
		return fmt.Sprintf("<bad payload: %v>", err)
	}
	return fmt.Sprintf("%v", v)
}

func equalValue(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !equalValue(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case int64:
		return equalNumber(float64(av), b)
	case uint64:
		return equalNumber(float64(av), b)
	case float64:
		return equalNumber(av, b)
	case float32:
		return equalNumber(float64(av), b)
	default:
		return a == b
	}
}

func equalNumber(a float64, b any) bool {
	switch bv := b.(type) {
	case int64:
		return a == float64(bv)
	case uint64:
		return a == float64(bv)
	case float64:
		return a == bv
	case float32:
		return a == float64(bv)
	default:
		return false
	}
}
