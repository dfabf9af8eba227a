package wire

// Opcode identifies one frame body shape on the ESHET wire. The same byte
// space is shared by both directions; which opcodes a peer may legally send
// depends on whether it is acting as client or server.
type Opcode uint8

// Client -> server opcodes.
const (
	OpHello               Opcode = 0x01 // hello, no prior id
	OpHelloWithID         Opcode = 0x02 // hello, prior id attached
	OpReplySuccess        Opcode = 0x05 // reply to an incoming call: success
	OpReplyError          Opcode = 0x06 // reply to an incoming call: error
	OpPing                Opcode = 0x09
	OpActionRegister      Opcode = 0x10
	OpActionCall          Opcode = 0x11
	OpPropertyRegister    Opcode = 0x20
	OpPropertyGet         Opcode = 0x23
	OpPropertySet         Opcode = 0x24
	OpEventRegister       Opcode = 0x30
	OpEventEmit           Opcode = 0x31
	OpEventListen         Opcode = 0x32
	OpStateRegister       Opcode = 0x40
	OpStateChangedKnown   Opcode = 0x41
	OpStateChangedUnknown Opcode = 0x42
	OpStateObserve        Opcode = 0x46
)

// Server -> client opcodes. OpReplySuccess/OpReplyError are shared with the
// client->server reply-to-incoming-call direction; the remaining reply
// shapes below are server-only.
const (
	OpHelloAck                  Opcode = 0x03 // server remembered the presented id
	OpHelloAckNewID             Opcode = 0x04 // server assigns a fresh id
	OpStateReplyKnown           Opcode = 0x07
	OpStateReplyUnknown         Opcode = 0x08
	OpStateReplyKnownAge        Opcode = 0x0a
	OpStateReplyUnknownAge      Opcode = 0x0b
	OpIncomingActionCall        Opcode = 0x11
	OpIncomingPropertyGet       Opcode = 0x21
	OpIncomingPropertySet       Opcode = 0x22
	OpEventNotify               Opcode = 0x33
	OpStateChangedKnownNotify   Opcode = 0x44
	OpStateChangedUnknownNotify Opcode = 0x45
)

// ProtocolVersion is the only hello version currently exchanged.
const ProtocolVersion uint8 = 1

// DefaultPort is the ESHET server's conventional TCP port.
const DefaultPort = 11236
