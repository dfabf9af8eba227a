package wire

// Client->server encoders. Each returns the complete frame bytes ready to
// write to the socket.

// EncodeHello encodes 0x01, or 0x02 when a prior identity is held.
func EncodeHello(serverTimeout uint16, id *Payload) ([]byte, error) {
	var e Encoder
	if id == nil {
		e.Begin(OpHello).U8(ProtocolVersion).U16(serverTimeout)
	} else {
		e.Begin(OpHelloWithID).U8(ProtocolVersion).U16(serverTimeout).Pack(*id)
	}
	return e.Finish()
}

func EncodePing(id uint16) ([]byte, error) {
	var e Encoder
	return e.Begin(OpPing).U16(id).Finish()
}

// EncodeIDPath covers every frame shaped "id u16; path": the register
// family, property_get, event_listen, state_observe, state_changed_unknown.
func EncodeIDPath(op Opcode, id uint16, path string) ([]byte, error) {
	var e Encoder
	return e.Begin(op).U16(id).Path(path).Finish()
}

// EncodeIDPathPayload covers every frame shaped "id u16; path; msgpack":
// action_call, property_set, event_emit, state_changed_known.
func EncodeIDPathPayload(op Opcode, id uint16, path string, value Payload) ([]byte, error) {
	var e Encoder
	return e.Begin(op).U16(id).Path(path).Pack(value).Finish()
}

// EncodeReply encodes the client's response to an incoming call or
// property get/set: 0x05 on success, 0x06 on error.
func EncodeReply(id uint16, r Result) ([]byte, error) {
	var e Encoder
	if r.OK() {
		e.Begin(OpReplySuccess).U16(id).Pack(r.Value)
	} else {
		e.Begin(OpReplyError).U16(id).Pack(r.Err.Payload)
	}
	return e.Finish()
}

// EncodeStateChanged encodes 0x41 or 0x42 depending on the value.
func EncodeStateChanged(id uint16, path string, v StateValue) ([]byte, error) {
	if v.Known {
		return EncodeIDPathPayload(OpStateChangedKnown, id, path, v.Value)
	}
	return EncodeIDPath(OpStateChangedUnknown, id, path)
}

// Server->client messages.

type ServerMessage interface {
	serverMessage()
}

// HelloAck acknowledges the hello. NewID is non-nil only for 0x04, when the
// server assigned a fresh identity the client must present from now on.
type HelloAck struct {
	NewID *Payload
}

// Reply is any of the six reply frames (0x05-0x08, 0x0a, 0x0b), decoded to
// the widest form before the waiter narrows it.
type Reply struct {
	ID  uint16
	Any AnyReply
}

// ActionCall is an incoming invocation of an action this client owns.
type ActionCall struct {
	ID   uint16
	Path string
	Args Payload
}

// PropertyGet is an incoming read of a property this client owns.
type PropertyGet struct {
	ID   uint16
	Path string
}

// PropertySet is an incoming write of a property this client owns.
type PropertySet struct {
	ID    uint16
	Path  string
	Value Payload
}

// EventNotify delivers one occurrence of a listened event.
type EventNotify struct {
	Path  string
	Value Payload
}

// StateChanged delivers a new value (or loss of value) for an observed
// state. Never carries an age.
type StateChanged struct {
	Path  string
	State StateValue
}

func (HelloAck) serverMessage()     {}
func (Reply) serverMessage()        {}
func (ActionCall) serverMessage()   {}
func (PropertyGet) serverMessage()  {}
func (PropertySet) serverMessage()  {}
func (EventNotify) serverMessage()  {}
func (StateChanged) serverMessage() {}

// DecodeServer decodes one frame body (opcode plus payload, header already
// stripped by the unpacker) into its typed message.
func DecodeServer(frame []byte) (ServerMessage, error) {
	c := NewCursor(frame)
	op, err := c.U8()
	if err != nil {
		return nil, protoErrf("empty frame")
	}

	switch Opcode(op) {
	case OpHelloAck:
		if err := c.Done(); err != nil {
			return nil, err
		}
		return HelloAck{}, nil

	case OpHelloAckNewID:
		id, err := c.Tail()
		if err != nil {
			return nil, err
		}
		return HelloAck{NewID: &id}, nil

	case OpReplySuccess:
		return decodeReply(c, AnyReply{Kind: ReplySuccess}, true)

	case OpReplyError:
		return decodeReply(c, AnyReply{Kind: ReplyError}, true)

	case OpStateReplyKnown:
		return decodeReply(c, AnyReply{Kind: ReplyKnown}, true)

	case OpStateReplyUnknown:
		return decodeReply(c, AnyReply{Kind: ReplyUnknown}, false)

	case OpStateReplyKnownAge:
		return decodeAgedReply(c, ReplyKnown, true)

	case OpStateReplyUnknownAge:
		return decodeAgedReply(c, ReplyUnknown, false)

	case OpIncomingActionCall:
		id, err := c.U16()
		if err != nil {
			return nil, err
		}
		path, err := c.Path()
		if err != nil {
			return nil, err
		}
		args, err := c.Tail()
		if err != nil {
			return nil, err
		}
		return ActionCall{ID: id, Path: path, Args: args}, nil

	case OpIncomingPropertyGet:
		id, err := c.U16()
		if err != nil {
			return nil, err
		}
		path, err := c.Path()
		if err != nil {
			return nil, err
		}
		if err := c.Done(); err != nil {
			return nil, err
		}
		return PropertyGet{ID: id, Path: path}, nil

	case OpIncomingPropertySet:
		id, err := c.U16()
		if err != nil {
			return nil, err
		}
		path, err := c.Path()
		if err != nil {
			return nil, err
		}
		value, err := c.Tail()
		if err != nil {
			return nil, err
		}
		return PropertySet{ID: id, Path: path, Value: value}, nil

	case OpEventNotify:
		path, err := c.Path()
		if err != nil {
			return nil, err
		}
		value, err := c.Tail()
		if err != nil {
			return nil, err
		}
		return EventNotify{Path: path, Value: value}, nil

	case OpStateChangedKnownNotify:
		path, err := c.Path()
		if err != nil {
			return nil, err
		}
		value, err := c.Tail()
		if err != nil {
			return nil, err
		}
		return StateChanged{Path: path, State: Known(value)}, nil

	case OpStateChangedUnknownNotify:
		path, err := c.Path()
		if err != nil {
			return nil, err
		}
		if err := c.Done(); err != nil {
			return nil, err
		}
		return StateChanged{Path: path, State: Unknown()}, nil

	default:
		return nil, protoErrf("unexpected server opcode 0x%02x", op)
	}
}

func decodeReply(c *Cursor, reply AnyReply, hasValue bool) (ServerMessage, error) {
	id, err := c.U16()
	if err != nil {
		return nil, err
	}
	if hasValue {
		reply.Value, err = c.Tail()
		if err != nil {
			return nil, err
		}
	} else if err := c.Done(); err != nil {
		return nil, err
	}
	return Reply{ID: id, Any: reply}, nil
}

func decodeAgedReply(c *Cursor, kind ReplyKind, hasValue bool) (ServerMessage, error) {
	id, err := c.U16()
	if err != nil {
		return nil, err
	}
	age, err := c.U32()
	if err != nil {
		return nil, err
	}
	reply := AnyReply{Kind: kind, HasAge: true, Age: age}
	if hasValue {
		reply.Value, err = c.Tail()
		if err != nil {
			return nil, err
		}
	} else if err := c.Done(); err != nil {
		return nil, err
	}
	return Reply{ID: id, Any: reply}, nil
}
