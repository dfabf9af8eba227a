package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/eshet/internal/observability"
	"github.com/danmuck/eshet/internal/wire"
)

// Engine is the client session engine: one task owning the socket, the
// pending table, the registry, and the liveness deadlines. User calls reach
// it as Commands; it survives disconnects by backing off, reconnecting, and
// replaying the registry.
type Engine struct {
	addr string
	cfg  Config
	log  zerolog.Logger

	commands    chan Command
	callReplies chan callReply
	exit        chan struct{}
	exitOnce    sync.Once
	done        chan struct{}

	// owned by the session task
	epoch    uint64
	pending  *pendingTable
	registry *registry

	identityMu sync.Mutex
	identity   *wire.Payload
}

// NewEngine builds an engine for addr ("host:port"). identity, when
// non-nil, is a prior identity token presented at hello.
func NewEngine(addr string, identity *wire.Payload, cfg Config, log zerolog.Logger) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Timeouts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		addr:        addr,
		cfg:         cfg,
		log:         log,
		commands:    make(chan Command, cfg.CommandBuffer),
		callReplies: make(chan callReply, 16),
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
		identity:    identity,
		pending:     newPendingTable(),
		registry:    newRegistry(),
	}, nil
}

// Enqueue hands one Command to the session task. It never blocks on the
// network, only on the command queue itself.
func (e *Engine) Enqueue(cmd Command) error {
	select {
	case e.commands <- cmd:
		return nil
	case <-e.exit:
		return ErrClientClosed
	}
}

// Exit signals the engine to terminate. Safe to call more than once.
func (e *Engine) Exit() {
	e.exitOnce.Do(func() { close(e.exit) })
}

// Done is closed once Run has drained and returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Identity returns the identity token currently held: the one the client
// was built with, or the one the server assigned in its hello ack.
func (e *Engine) Identity() *wire.Payload {
	e.identityMu.Lock()
	defer e.identityMu.Unlock()
	if e.identity == nil {
		return nil
	}
	id := e.identity.Clone()
	return &id
}

func (e *Engine) setIdentity(id wire.Payload) {
	e.identityMu.Lock()
	e.identity = &id
	e.identityMu.Unlock()
}

func (e *Engine) currentIdentity() *wire.Payload {
	e.identityMu.Lock()
	defer e.identityMu.Unlock()
	return e.identity
}

// Run drives the outer connect/backoff loop until Exit. The delay doubles
// after every failed or short-lived connection, capped at the configured
// maximum, and resets once a connection survives long enough.
func (e *Engine) Run() {
	defer close(e.done)
	defer e.shutdown()

	delay := e.cfg.Backoff.InitialDelay
	for {
		start := time.Now()
		err := e.runConnection()
		if errors.Is(err, errExitRequested) {
			return
		}
		if time.Since(start) >= e.cfg.Backoff.ResetAfter {
			delay = e.cfg.Backoff.InitialDelay
		}
		e.log.Warn().Err(err).Dur("retry_in", delay).Msg("eshet.Engine connection lost")

		timer := time.NewTimer(delay)
		select {
		case <-e.exit:
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = e.cfg.Backoff.NextDelay(delay)
	}
}

// shutdown drains whatever is still queued once the run loop stops, so no
// waiter is left hanging.
func (e *Engine) shutdown() {
	e.pending.failAll()
	for {
		select {
		case cmd := <-e.commands:
			e.failCommand(cmd)
		default:
			return
		}
	}
}

func (e *Engine) failCommand(cmd Command) {
	switch m := cmd.(type) {
	case ActionCallCmd:
		m.Result <- disconnectedResult()
	case ActionRegisterCmd:
		m.Result <- disconnectedResult()
	case StateRegisterCmd:
		m.Result <- disconnectedResult()
	case StateChangedCmd:
		m.Result <- disconnectedResult()
	case StateObserveCmd:
		m.Reply <- wire.StateReply{Err: disconnectedError()}
	case EventRegisterCmd:
		m.Result <- disconnectedResult()
	case EventEmitCmd:
		m.Result <- disconnectedResult()
	case EventListenCmd:
		m.Result <- disconnectedResult()
	case PropertyRegisterCmd:
		m.Result <- disconnectedResult()
	case PropertyGetCmd:
		m.Result <- disconnectedResult()
	case PropertySetCmd:
		m.Result <- disconnectedResult()
	}
}

// runConnection performs one full connection lifetime: dial, hello,
// reregister, steady-state multiplex, teardown.
func (e *Engine) runConnection() error {
	conn, err := net.DialTimeout("tcp", e.addr, e.cfg.Timeouts.ConnectTimeout)
	if err != nil {
		// still honor a concurrent Exit so Run stops promptly
		select {
		case <-e.exit:
			return errExitRequested
		default:
		}
		e.log.Warn().Err(err).Str("addr", e.addr).Msg("eshet.Engine dial failed")
		return err
	}

	e.epoch++
	observability.RecordConnect(e.epoch > 1)
	c := newConnState(conn)
	defer c.close()
	defer e.teardown()

	if err := e.handshake(c); err != nil {
		return err
	}
	if err := e.reregister(c); err != nil {
		return err
	}
	e.log.Info().Str("addr", e.addr).Uint64("epoch", e.epoch).Msg("eshet.Engine connected")
	return e.multiplex(c)
}

// teardown settles every loose end of a dead connection: waiters hear
// Error("disconnected") exactly once, observers see a synthetic Unknown
// before anything from the next connection.
func (e *Engine) teardown() {
	e.pending.failAll()
	observability.SetPendingRequests(0)
	for _, path := range sortedKeys(e.registry.observedStates) {
		obs := e.registry.observedStates[path]
		if !obs.live {
			continue
		}
		obs.live = false
		select {
		case obs.sink <- wire.Unknown():
		case <-e.exit:
		}
	}
	observability.RecordDisconnect()
}

// handshake writes hello and waits for exactly one hello ack. A 0x04
// replaces the stored identity token for all future connections.
func (e *Engine) handshake(c *connState) error {
	timeoutSecs := uint16(e.cfg.Timeouts.ServerTimeout / time.Second)
	hello, err := wire.EncodeHello(timeoutSecs, e.currentIdentity())
	if err != nil {
		return err
	}
	if err := c.send(hello); err != nil {
		return err
	}

	timer := time.NewTimer(e.cfg.Timeouts.HandshakeTimeout)
	defer timer.Stop()
	frame, err := c.awaitFrame(e.exit, timer.C)
	if err != nil {
		return err
	}
	msg, err := wire.DecodeServer(frame)
	if err != nil {
		return err
	}
	ack, ok := msg.(wire.HelloAck)
	if !ok {
		return unexpectedMessage(msg)
	}
	if ack.NewID != nil {
		e.setIdentity(ack.NewID.Clone())
	}
	return nil
}

// reregister replays the registry onto a fresh connection: owned actions,
// then owned states (register plus republish of the last published value),
// then observed states, owned events, listened events, and properties. Any
// rejection aborts this connection attempt.
func (e *Engine) reregister(c *connState) error {
	for _, path := range sortedKeys(e.registry.ownedActions) {
		if err := e.registerRoundTrip(c, wire.OpActionRegister, path); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(e.registry.ownedStates) {
		if err := e.registerRoundTrip(c, wire.OpStateRegister, path); err != nil {
			return err
		}
		if err := e.publishRoundTrip(c, path, e.registry.ownedStates[path]); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(e.registry.observedStates) {
		if err := e.observeRoundTrip(c, path); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(e.registry.ownedEvents) {
		if err := e.registerRoundTrip(c, wire.OpEventRegister, path); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(e.registry.listenedEvents) {
		if err := e.registerRoundTrip(c, wire.OpEventListen, path); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(e.registry.ownedProperties) {
		if err := e.registerRoundTrip(c, wire.OpPropertyRegister, path); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) registerRoundTrip(c *connState, op wire.Opcode, path string) error {
	ch := make(chan wire.Result, 1)
	id := e.pending.insertResult(ch)
	frame, err := wire.EncodeIDPath(op, id, path)
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return err
	}
	r, err := e.awaitResult(c, ch)
	if err != nil {
		return err
	}
	if !r.OK() {
		e.log.Error().Msgf("error while adding %s: %s", path, r.Err.Payload)
		return r.Err
	}
	return nil
}

func (e *Engine) publishRoundTrip(c *connState, path string, v wire.StateValue) error {
	ch := make(chan wire.Result, 1)
	id := e.pending.insertResult(ch)
	frame, err := wire.EncodeStateChanged(id, path, v)
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return err
	}
	r, err := e.awaitResult(c, ch)
	if err != nil {
		return err
	}
	if !r.OK() {
		e.log.Error().Msgf("error while adding %s: %s", path, r.Err.Payload)
		return r.Err
	}
	return nil
}

// observeRoundTrip re-issues state_observe; the initial reply goes to the
// observer's update sink, not to a user waiter.
func (e *Engine) observeRoundTrip(c *connState, path string) error {
	ch := make(chan wire.StateReply, 1)
	id := e.pending.insertState(ch)
	frame, err := wire.EncodeIDPath(wire.OpStateObserve, id, path)
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return err
	}

	for {
		select {
		case r := <-ch:
			if !r.OK() {
				e.log.Error().Msgf("error while adding %s: %s", path, r.Err.Payload)
				return r.Err
			}
			e.pushObserved(path, r.State)
			return nil
		default:
		}
		frame, err := c.awaitFrame(e.exit, nil)
		if err != nil {
			return err
		}
		if err := e.dispatch(c, frame); err != nil {
			return err
		}
	}
}

// awaitResult keeps dispatching incoming frames until ch yields.
func (e *Engine) awaitResult(c *connState, ch <-chan wire.Result) (wire.Result, error) {
	for {
		select {
		case r := <-ch:
			return r, nil
		default:
		}
		frame, err := c.awaitFrame(e.exit, nil)
		if err != nil {
			return wire.Result{}, err
		}
		if err := e.dispatch(c, frame); err != nil {
			return wire.Result{}, err
		}
	}
}

// multiplex is the steady-state loop: one select over socket bytes, socket
// closure, user commands, deferred call replies, the ping result, exit, and
// the liveness deadline.
func (e *Engine) multiplex(c *connState) error {
	t := e.cfg.Timeouts
	idleDeadline := time.Now().Add(t.IdlePing)
	var pingDeadline time.Time
	pingDone := make(chan wire.Result, 1)

	for {
		// drain complete frames before sleeping
		for {
			frame, err := c.unpacker.Next()
			if err != nil {
				return err
			}
			if frame == nil {
				break
			}
			observability.RecordFrameReceived()
			if err := e.dispatch(c, frame); err != nil {
				return err
			}
		}
		observability.SetPendingRequests(e.pending.size())

		deadline := idleDeadline
		if !pingDeadline.IsZero() && pingDeadline.Before(deadline) {
			deadline = pingDeadline
		}
		timer := time.NewTimer(time.Until(deadline))

		select {
		case <-e.exit:
			timer.Stop()
			return errExitRequested

		case <-c.recvClosed:
			timer.Stop()
			return ErrDisconnected

		case chunk := <-c.recvData:
			timer.Stop()
			c.unpacker.Write(chunk)

		case cmd := <-e.commands:
			timer.Stop()
			sent, err := e.handleCommand(c, cmd)
			if err != nil {
				return err
			}
			if sent {
				idleDeadline = time.Now().Add(t.IdlePing)
			}

		case cr := <-e.callReplies:
			timer.Stop()
			if cr.epoch != e.epoch {
				continue
			}
			frame, err := wire.EncodeReply(cr.id, cr.result)
			if err != nil {
				return err
			}
			if err := c.send(frame); err != nil {
				return err
			}
			idleDeadline = time.Now().Add(t.IdlePing)

		case r := <-pingDone:
			timer.Stop()
			if !r.OK() {
				return ErrPingTimeout
			}
			pingDeadline = time.Time{}

		case <-timer.C:
			now := time.Now()
			if !pingDeadline.IsZero() && !now.Before(pingDeadline) {
				// the reply may have raced the deadline
				select {
				case r := <-pingDone:
					if !r.OK() {
						return ErrPingTimeout
					}
					pingDeadline = time.Time{}
				default:
					e.log.Warn().Msg("eshet.Engine ping deadline elapsed")
					return ErrPingTimeout
				}
			}
			if !now.Before(idleDeadline) {
				id := e.pending.insertResult(pingDone)
				frame, err := wire.EncodePing(id)
				if err != nil {
					return err
				}
				if err := c.send(frame); err != nil {
					return err
				}
				pingDeadline = now.Add(t.PingTimeout)
				idleDeadline = now.Add(t.IdlePing)
			}
		}
	}
}

// dispatch routes one decoded server frame: replies to waiters, unsolicited
// deliveries through the registry.
func (e *Engine) dispatch(c *connState, frame []byte) error {
	msg, err := wire.DecodeServer(frame)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case wire.Reply:
		return e.pending.deliver(m.ID, m.Any)

	case wire.ActionCall:
		sink, ok := e.registry.action(m.Path)
		if !ok {
			return unknownPath("action", m.Path)
		}
		call := IncomingCall{Args: m.Args, epoch: e.epoch, id: m.ID, eng: e}
		select {
		case sink <- call:
		case <-e.exit:
		}
		return nil

	case wire.PropertyGet:
		prop, ok := e.registry.property(m.Path)
		if !ok {
			return unknownPath("property", m.Path)
		}
		reply, err := wire.EncodeReply(m.ID, prop.Get())
		if err != nil {
			return err
		}
		return c.send(reply)

	case wire.PropertySet:
		prop, ok := e.registry.property(m.Path)
		if !ok {
			return unknownPath("property", m.Path)
		}
		reply, err := wire.EncodeReply(m.ID, prop.Set(m.Value))
		if err != nil {
			return err
		}
		return c.send(reply)

	case wire.EventNotify:
		sink, ok := e.registry.listener(m.Path)
		if !ok {
			return unknownPath("event", m.Path)
		}
		select {
		case sink <- m.Value:
		case <-e.exit:
		}
		return nil

	case wire.StateChanged:
		if _, ok := e.registry.observerFor(m.Path); !ok {
			return unknownPath("state", m.Path)
		}
		e.pushObserved(m.Path, m.State)
		return nil

	default:
		return unexpectedMessage(msg)
	}
}

// pushObserved delivers one server-derived value to an observer sink and
// marks it due a synthetic Unknown at the next teardown.
func (e *Engine) pushObserved(path string, v wire.StateValue) {
	obs, ok := e.registry.observerFor(path)
	if !ok {
		return
	}
	obs.live = true
	select {
	case obs.sink <- v:
	case <-e.exit:
	}
}

// handleCommand serializes one user command onto the wire. The bool result
// reports whether the idle deadline should reset. It is false when the
// command was answered locally before reaching sendWithResult; a
// frame-construction failure inside sendWithResult still reports true even
// though nothing was written.
func (e *Engine) handleCommand(c *connState, cmd Command) (bool, error) {
	switch m := cmd.(type) {
	case ActionCallCmd:
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPathPayload(wire.OpActionCall, id, m.Path, m.Args)
		})

	case ActionRegisterCmd:
		if err := e.registry.addAction(m.Path, m.Calls); err != nil {
			m.Result <- localFailure(err)
			return false, nil
		}
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPath(wire.OpActionRegister, id, m.Path)
		})

	case StateRegisterCmd:
		if err := e.registry.addState(m.Path); err != nil {
			m.Result <- localFailure(err)
			return false, nil
		}
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPath(wire.OpStateRegister, id, m.Path)
		})

	case StateChangedCmd:
		if err := e.registry.setState(m.Path, m.Value); err != nil {
			m.Result <- localFailure(err)
			return false, nil
		}
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeStateChanged(id, m.Path, m.Value)
		})

	case StateObserveCmd:
		if err := e.registry.addObserver(m.Path, m.Updates); err != nil {
			m.Reply <- wire.StateReply{Err: &wire.RemoteError{Payload: wire.MustPack(err.Error())}}
			return false, nil
		}
		id := e.pending.insertState(m.Reply)
		frame, err := wire.EncodeIDPath(wire.OpStateObserve, id, m.Path)
		if err != nil {
			e.pending.drop(id)
			m.Reply <- wire.StateReply{Err: &wire.RemoteError{Payload: wire.MustPack(err.Error())}}
			return false, nil
		}
		return true, c.send(frame)

	case EventRegisterCmd:
		if err := e.registry.addEvent(m.Path); err != nil {
			m.Result <- localFailure(err)
			return false, nil
		}
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPath(wire.OpEventRegister, id, m.Path)
		})

	case EventEmitCmd:
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPathPayload(wire.OpEventEmit, id, m.Path, m.Value)
		})

	case EventListenCmd:
		if err := e.registry.addListener(m.Path, m.Events); err != nil {
			m.Result <- localFailure(err)
			return false, nil
		}
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPath(wire.OpEventListen, id, m.Path)
		})

	case PropertyRegisterCmd:
		if err := e.registry.addProperty(m.Path, m.Prop); err != nil {
			m.Result <- localFailure(err)
			return false, nil
		}
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPath(wire.OpPropertyRegister, id, m.Path)
		})

	case PropertyGetCmd:
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPath(wire.OpPropertyGet, id, m.Path)
		})

	case PropertySetCmd:
		return true, e.sendWithResult(c, m.Result, func(id uint16) ([]byte, error) {
			return wire.EncodeIDPathPayload(wire.OpPropertySet, id, m.Path, m.Value)
		})

	case TestDisconnectCmd:
		return false, errTestDisconnect

	default:
		return false, nil
	}
}

// sendWithResult records a pending entry, builds the frame, and writes it.
// A frame-construction failure is a programming error reported to the
// caller; it does not kill the connection.
func (e *Engine) sendWithResult(c *connState, result chan<- wire.Result, encode func(id uint16) ([]byte, error)) error {
	id := e.pending.insertResult(result)
	frame, err := encode(id)
	if err != nil {
		e.pending.drop(id)
		result <- localFailure(err)
		return nil
	}
	return c.send(frame)
}

func localFailure(err error) wire.Result {
	return wire.Failure(wire.MustPack(err.Error()))
}
