// Package eshet is a client for the ESHET message bus: remote actions,
// named states, properties, and events multiplexed over one TCP
// connection. Registrations survive reconnects; the engine replays them and
// republishes the last known state values automatically.
package eshet

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/danmuck/eshet/internal/client"
	"github.com/danmuck/eshet/internal/logging"
	"github.com/danmuck/eshet/internal/observability"
	"github.com/danmuck/eshet/internal/wire"
)

// ClientConfig configures one client instance. The zero value connects to
// the server named by ESHET_SERVER (localhost:11236 when unset) with
// default timeouts.
type ClientConfig struct {
	// Address is "host[:port]". Empty falls back to ESHET_SERVER, then to
	// localhost:11236.
	Address string

	// Identity is a prior identity token to present at hello. When nil the
	// server assigns one, which the client then holds for every
	// reconnection.
	Identity *Payload

	Timeouts Timeouts
	Backoff  Backoff

	// Logger overrides the process logger.
	Logger *zerolog.Logger
}

// Client is the thread-safe facade over the session engine. Methods never
// block on the network; they enqueue a command and return a reply channel
// that yields exactly one message.
type Client struct {
	eng *client.Engine
	log zerolog.Logger
}

// NewClient builds the client and starts its session engine.
func NewClient(cfg ClientConfig) (*Client, error) {
	log := logging.Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	eng, err := client.NewEngine(
		ResolveAddress(cfg.Address),
		cfg.Identity,
		client.Config{Timeouts: cfg.Timeouts, Backoff: cfg.Backoff},
		log,
	)
	if err != nil {
		return nil, err
	}
	c := &Client{eng: eng, log: log}
	go eng.Run()
	return c, nil
}

// Close signals exit and waits for the engine to drain. Pending waiters
// receive Error("disconnected").
func (c *Client) Close() {
	c.eng.Exit()
	<-c.eng.Done()
}

// Identity returns the identity token the client currently holds, either
// the configured one or the one assigned by the server. Without a
// configured token it is nil until the first hello completes.
func (c *Client) Identity() *Payload {
	return c.eng.Identity()
}

// DebugServer serves /health and /metrics on addr for long-running
// processes embedding the client. It blocks; run it on its own goroutine.
func (c *Client) DebugServer(addr string) error {
	return observability.ServeDebug(addr, c.log)
}

// TestDisconnect injects a synthetic close on the current connection.
// Debug only.
func (c *Client) TestDisconnect() error {
	return c.eng.Enqueue(client.TestDisconnectCmd{})
}

// ActionCall invokes a remote action. Callers typically pass a slice as a
// tuple of arguments.
func (c *Client) ActionCall(path string, args any) (<-chan Result, error) {
	p, err := wire.Pack(args)
	if err != nil {
		return nil, err
	}
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.ActionCallCmd{Path: path, Args: p, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// ActionRegister claims ownership of an action. Incoming invocations for
// path arrive on calls; each must be answered with IncomingCall.Reply.
func (c *Client) ActionRegister(path string, calls chan<- IncomingCall) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.ActionRegisterCmd{Path: path, Calls: calls, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// StateRegister claims ownership of a state. Publish the initial value via
// StateChanged or StateUnknown after success.
func (c *Client) StateRegister(path string) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.StateRegisterCmd{Path: path, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// StateChanged publishes a new known value. The value becomes the one
// republished after every reconnect.
func (c *Client) StateChanged(path string, value any) (<-chan Result, error) {
	p, err := wire.Pack(value)
	if err != nil {
		return nil, err
	}
	return c.stateChanged(path, wire.Known(p))
}

// StateUnknown publishes the absence of a value.
func (c *Client) StateUnknown(path string) (<-chan Result, error) {
	return c.stateChanged(path, wire.Unknown())
}

func (c *Client) stateChanged(path string, v StateValue) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.StateChangedCmd{Path: path, Value: v, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// StateObserve watches a state owned elsewhere. The initial value (with
// age, when the server reports one) arrives on the returned channel;
// subsequent updates arrive on updates, including the synthetic Unknown
// pushed on every disconnect.
func (c *Client) StateObserve(path string, updates chan<- StateValue) (<-chan StateReply, error) {
	ch := make(chan wire.StateReply, 1)
	if err := c.eng.Enqueue(client.StateObserveCmd{Path: path, Updates: updates, Reply: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// EventRegister claims ownership of an event.
func (c *Client) EventRegister(path string) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.EventRegisterCmd{Path: path, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// EventEmit fires one occurrence of an event.
func (c *Client) EventEmit(path string, value any) (<-chan Result, error) {
	p, err := wire.Pack(value)
	if err != nil {
		return nil, err
	}
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.EventEmitCmd{Path: path, Value: p, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// EventListen subscribes to an event; deliveries arrive on events.
func (c *Client) EventListen(path string, events chan<- Payload) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.EventListenCmd{Path: path, Events: events, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// PropertyRegister claims ownership of a property. Handlers run on the
// session task and must not block.
func (c *Client) PropertyRegister(path string, prop Property) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.PropertyRegisterCmd{Path: path, Prop: prop, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Get reads a remote property.
func (c *Client) Get(path string) (<-chan Result, error) {
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.PropertyGetCmd{Path: path, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Set writes a remote property.
func (c *Client) Set(path string, value any) (<-chan Result, error) {
	p, err := wire.Pack(value)
	if err != nil {
		return nil, err
	}
	ch := make(chan wire.Result, 1)
	if err := c.eng.Enqueue(client.PropertySetCmd{Path: path, Value: p, Result: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Wait blocks for one Result and splits it into value or error.
func Wait(ctx context.Context, ch <-chan Result) (Payload, error) {
	select {
	case r := <-ch:
		if !r.OK() {
			return Payload{}, r.Err
		}
		return r.Value, nil
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

// WaitState blocks for one StateReply.
func WaitState(ctx context.Context, ch <-chan StateReply) (StateValue, error) {
	select {
	case r := <-ch:
		if !r.OK() {
			return StateValue{}, r.Err
		}
		return r.State, nil
	case <-ctx.Done():
		return StateValue{}, ctx.Err()
	}
}

// ActionCallWait is ActionCall plus Wait.
func (c *Client) ActionCallWait(ctx context.Context, path string, args any) (Payload, error) {
	ch, err := c.ActionCall(path, args)
	if err != nil {
		return Payload{}, err
	}
	return Wait(ctx, ch)
}

// GetWait is Get plus Wait.
func (c *Client) GetWait(ctx context.Context, path string) (Payload, error) {
	ch, err := c.Get(path)
	if err != nil {
		return Payload{}, err
	}
	return Wait(ctx, ch)
}

// SetWait is Set plus Wait.
func (c *Client) SetWait(ctx context.Context, path string, value any) error {
	ch, err := c.Set(path, value)
	if err != nil {
		return err
	}
	_, err = Wait(ctx, ch)
	return err
}
