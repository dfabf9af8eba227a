// Package eshettest provides a minimal in-process ESHET server sufficient
// to exercise the client end to end: hello, registration, action routing,
// state retention with observer notification, event fanout, and pings.
package eshettest

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/eshet/internal/wire"
)

type stateRecord struct {
	owner *serverConn
	value wire.StateValue
}

// Server listens on a loopback port and speaks just enough of the protocol
// for the client test scenarios.
type Server struct {
	ln  net.Listener
	log zerolog.Logger

	mu           sync.Mutex
	conns        map[*serverConn]struct{}
	actions      map[string]*serverConn
	properties   map[string]*serverConn
	states       map[string]*stateRecord
	eventOwners  map[string]*serverConn
	listeners    map[string]map[*serverConn]struct{}
	observers    map[string]map[*serverConn]struct{}
	nextToken    int
	connects     int
	hellosWithID int
	silentPings  bool
}

func Start(log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:          ln,
		log:         log,
		conns:       make(map[*serverConn]struct{}),
		actions:     make(map[string]*serverConn),
		properties:  make(map[string]*serverConn),
		states:      make(map[string]*stateRecord),
		eventOwners: make(map[string]*serverConn),
		listeners:   make(map[string]map[*serverConn]struct{}),
		observers:   make(map[string]map[*serverConn]struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
}

// SetSilentPings makes the server swallow pings, which the client must
// treat as a dead connection.
func (s *Server) SetSilentPings(v bool) {
	s.mu.Lock()
	s.silentPings = v
	s.mu.Unlock()
}

// Connects counts accepted connections that completed hello.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// HellosWithID counts hellos that presented a prior identity token.
func (s *Server) HellosWithID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hellosWithID
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &serverConn{
			srv:      s,
			conn:     conn,
			unpacker: &wire.Unpacker{},
			fwd:      make(map[uint16]fwdEntry),
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go c.run()
	}
}

// dropConn releases everything a dead connection owned. States owned by it
// go Unknown and their observers are told.
func (s *Server) dropConn(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	for path, owner := range s.actions {
		if owner == c {
			delete(s.actions, path)
		}
	}
	for path, owner := range s.properties {
		if owner == c {
			delete(s.properties, path)
		}
	}
	for path, owner := range s.eventOwners {
		if owner == c {
			delete(s.eventOwners, path)
		}
	}
	for _, subs := range s.listeners {
		delete(subs, c)
	}
	for _, subs := range s.observers {
		delete(subs, c)
	}
	var lost []string
	for path, rec := range s.states {
		if rec.owner == c {
			delete(s.states, path)
			lost = append(lost, path)
		}
	}
	s.mu.Unlock()

	for _, path := range lost {
		s.notifyObservers(path, wire.Unknown())
	}
}

func (s *Server) notifyObservers(path string, v wire.StateValue) {
	s.mu.Lock()
	subs := make([]*serverConn, 0, len(s.observers[path]))
	for c := range s.observers[path] {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	var e wire.Encoder
	var frame []byte
	var err error
	if v.Known {
		frame, err = e.Begin(wire.OpStateChangedKnownNotify).Path(path).Pack(v.Value).Finish()
	} else {
		frame, err = e.Begin(wire.OpStateChangedUnknownNotify).Path(path).Finish()
	}
	if err != nil {
		return
	}
	for _, c := range subs {
		c.send(frame)
	}
}

func (s *Server) notifyListeners(path string, value wire.Payload) {
	s.mu.Lock()
	subs := make([]*serverConn, 0, len(s.listeners[path]))
	for c := range s.listeners[path] {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	var e wire.Encoder
	frame, err := e.Begin(wire.OpEventNotify).Path(path).Pack(value).Finish()
	if err != nil {
		return
	}
	for _, c := range subs {
		c.send(frame)
	}
}

type fwdEntry struct {
	origin   *serverConn
	originID uint16
}

type serverConn struct {
	srv      *Server
	conn     net.Conn
	unpacker *wire.Unpacker

	writeMu sync.Mutex

	fwdMu   sync.Mutex
	nextFwd uint16
	fwd     map[uint16]fwdEntry
}

func (c *serverConn) run() {
	defer c.srv.dropConn(c)
	defer c.conn.Close()

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.unpacker.Write(buf[:n])
			for {
				frame, err := c.unpacker.Next()
				if err != nil || frame == nil {
					if err != nil {
						c.srv.log.Warn().Err(err).Msg("eshettest bad frame")
						return
					}
					break
				}
				if err := c.handle(frame); err != nil {
					c.srv.log.Warn().Err(err).Msg("eshettest handle failed")
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *serverConn) send(frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = c.conn.Write(frame)
}

func (c *serverConn) sendReply(id uint16, r wire.Result) {
	frame, err := wire.EncodeReply(id, r)
	if err != nil {
		return
	}
	c.send(frame)
}

func (c *serverConn) success(id uint16) {
	c.sendReply(id, wire.Success(wire.Nil()))
}

func (c *serverConn) failure(id uint16, reason string) {
	c.sendReply(id, wire.Failure(wire.MustPack(reason)))
}

// allocFwd maps a server-chosen id on the callee connection back to the
// caller and its correlation id.
func (c *serverConn) allocFwd(origin *serverConn, originID uint16) uint16 {
	c.fwdMu.Lock()
	defer c.fwdMu.Unlock()
	for {
		id := c.nextFwd
		c.nextFwd++
		if _, used := c.fwd[id]; !used {
			c.fwd[id] = fwdEntry{origin: origin, originID: originID}
			return id
		}
	}
}

func (c *serverConn) takeFwd(id uint16) (fwdEntry, bool) {
	c.fwdMu.Lock()
	defer c.fwdMu.Unlock()
	entry, ok := c.fwd[id]
	if ok {
		delete(c.fwd, id)
	}
	return entry, ok
}

func (c *serverConn) handle(frame []byte) error {
	cur := wire.NewCursor(frame)
	op, err := cur.U8()
	if err != nil {
		return err
	}

	switch wire.Opcode(op) {
	case wire.OpHello, wire.OpHelloWithID:
		if _, err := cur.U8(); err != nil { // proto version
			return err
		}
		if _, err := cur.U16(); err != nil { // server timeout
			return err
		}
		var e wire.Encoder
		var ack []byte
		if wire.Opcode(op) == wire.OpHelloWithID {
			if _, err := cur.Tail(); err != nil {
				return err
			}
			c.srv.mu.Lock()
			c.srv.hellosWithID++
			c.srv.connects++
			c.srv.mu.Unlock()
			ack, err = e.Begin(wire.OpHelloAck).Finish()
		} else {
			c.srv.mu.Lock()
			c.srv.nextToken++
			token := fmt.Sprintf("client-%d", c.srv.nextToken)
			c.srv.connects++
			c.srv.mu.Unlock()
			ack, err = e.Begin(wire.OpHelloAckNewID).Pack(wire.MustPack(token)).Finish()
		}
		if err != nil {
			return err
		}
		c.send(ack)

	case wire.OpPing:
		id, err := cur.U16()
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		silent := c.srv.silentPings
		c.srv.mu.Unlock()
		if !silent {
			c.success(id)
		}

	case wire.OpActionRegister:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		_, taken := c.srv.actions[path]
		if !taken {
			c.srv.actions[path] = c
		}
		c.srv.mu.Unlock()
		if taken {
			c.failure(id, "path already registered")
		} else {
			c.success(id)
		}

	case wire.OpActionCall:
		id, err := cur.U16()
		if err != nil {
			return err
		}
		path, err := cur.Path()
		if err != nil {
			return err
		}
		args, err := cur.Tail()
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		owner := c.srv.actions[path]
		c.srv.mu.Unlock()
		if owner == nil {
			c.failure(id, "no such action")
			return nil
		}
		fid := owner.allocFwd(c, id)
		var e wire.Encoder
		fwd, err := e.Begin(wire.OpIncomingActionCall).U16(fid).Path(path).Pack(args).Finish()
		if err != nil {
			return err
		}
		owner.send(fwd)

	case wire.OpReplySuccess, wire.OpReplyError:
		id, err := cur.U16()
		if err != nil {
			return err
		}
		value, err := cur.Tail()
		if err != nil {
			return err
		}
		entry, ok := c.takeFwd(id)
		if !ok {
			return nil // caller vanished
		}
		if wire.Opcode(op) == wire.OpReplySuccess {
			entry.origin.sendReply(entry.originID, wire.Success(value))
		} else {
			entry.origin.sendReply(entry.originID, wire.Failure(value))
		}

	case wire.OpPropertyRegister:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		_, taken := c.srv.properties[path]
		if !taken {
			c.srv.properties[path] = c
		}
		c.srv.mu.Unlock()
		if taken {
			c.failure(id, "path already registered")
		} else {
			c.success(id)
		}

	case wire.OpPropertyGet:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		owner := c.srv.properties[path]
		c.srv.mu.Unlock()
		if owner == nil {
			c.failure(id, "no such property")
			return nil
		}
		fid := owner.allocFwd(c, id)
		var e wire.Encoder
		fwd, err := e.Begin(wire.OpIncomingPropertyGet).U16(fid).Path(path).Finish()
		if err != nil {
			return err
		}
		owner.send(fwd)

	case wire.OpPropertySet:
		id, err := cur.U16()
		if err != nil {
			return err
		}
		path, err := cur.Path()
		if err != nil {
			return err
		}
		value, err := cur.Tail()
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		owner := c.srv.properties[path]
		c.srv.mu.Unlock()
		if owner == nil {
			c.failure(id, "no such property")
			return nil
		}
		fid := owner.allocFwd(c, id)
		var e wire.Encoder
		fwd, err := e.Begin(wire.OpIncomingPropertySet).U16(fid).Path(path).Pack(value).Finish()
		if err != nil {
			return err
		}
		owner.send(fwd)

	case wire.OpEventRegister:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		c.srv.eventOwners[path] = c
		c.srv.mu.Unlock()
		c.success(id)

	case wire.OpEventEmit:
		id, err := cur.U16()
		if err != nil {
			return err
		}
		path, err := cur.Path()
		if err != nil {
			return err
		}
		value, err := cur.Tail()
		if err != nil {
			return err
		}
		c.success(id)
		c.srv.notifyListeners(path, value)

	case wire.OpEventListen:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		if c.srv.listeners[path] == nil {
			c.srv.listeners[path] = make(map[*serverConn]struct{})
		}
		c.srv.listeners[path][c] = struct{}{}
		c.srv.mu.Unlock()
		c.success(id)

	case wire.OpStateRegister:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		rec, taken := c.srv.states[path]
		if taken && rec.owner != c {
			c.srv.mu.Unlock()
			c.failure(id, "path already registered")
			return nil
		}
		if !taken {
			c.srv.states[path] = &stateRecord{owner: c, value: wire.Unknown()}
		}
		c.srv.mu.Unlock()
		c.success(id)

	case wire.OpStateChangedKnown, wire.OpStateChangedUnknown:
		id, err := cur.U16()
		if err != nil {
			return err
		}
		path, err := cur.Path()
		if err != nil {
			return err
		}
		value := wire.Unknown()
		if wire.Opcode(op) == wire.OpStateChangedKnown {
			p, err := cur.Tail()
			if err != nil {
				return err
			}
			value = wire.Known(p)
		}
		c.srv.mu.Lock()
		rec := c.srv.states[path]
		if rec == nil || rec.owner != c {
			c.srv.mu.Unlock()
			c.failure(id, "not state owner")
			return nil
		}
		rec.value = value
		c.srv.mu.Unlock()
		c.success(id)
		c.srv.notifyObservers(path, value)

	case wire.OpStateObserve:
		id, path, err := idPath(cur)
		if err != nil {
			return err
		}
		c.srv.mu.Lock()
		if c.srv.observers[path] == nil {
			c.srv.observers[path] = make(map[*serverConn]struct{})
		}
		c.srv.observers[path][c] = struct{}{}
		var current wire.StateValue
		if rec := c.srv.states[path]; rec != nil {
			current = rec.value
		}
		c.srv.mu.Unlock()

		var e wire.Encoder
		var reply []byte
		if current.Known {
			// initial replies carry the age since last change
			reply, err = e.Begin(wire.OpStateReplyKnownAge).U16(id).U32(0).Pack(current.Value).Finish()
		} else {
			reply, err = e.Begin(wire.OpStateReplyUnknown).U16(id).Finish()
		}
		if err != nil {
			return err
		}
		c.send(reply)

	default:
		return fmt.Errorf("eshettest: unhandled opcode 0x%02x", op)
	}
	return nil
}

func idPath(cur *wire.Cursor) (uint16, string, error) {
	id, err := cur.U16()
	if err != nil {
		return 0, "", err
	}
	path, err := cur.Path()
	if err != nil {
		return 0, "", err
	}
	return id, path, cur.Done()
}
