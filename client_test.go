package eshet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/eshet/internal/eshettest"
	"github.com/danmuck/eshet/internal/logging"
	"github.com/danmuck/eshet/internal/testutil/testlog"
)

func startServer(t *testing.T) *eshettest.Server {
	t.Helper()
	testlog.Start(t)
	srv, err := eshettest.Start(logging.Logger())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func testTimeouts() Timeouts {
	return Timeouts{
		IdlePing:      2 * time.Second,
		ServerTimeout: 4 * time.Second,
		PingTimeout:   1 * time.Second,
	}
}

func testBackoff() Backoff {
	return Backoff{
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		ResetAfter:   10 * time.Second,
	}
}

func newTestClient(t *testing.T, srv *eshettest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Address:  srv.Addr(),
		Timeouts: testTimeouts(),
		Backoff:  testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustResult(t *testing.T, ch <-chan Result, err error) Payload {
	t.Helper()
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	v, err := Wait(testCtx(t), ch)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return v
}

func nextUpdate(t *testing.T, updates <-chan StateValue) StateValue {
	t.Helper()
	select {
	case v := <-updates:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("no state update within deadline")
		return StateValue{}
	}
}

// serveAdd answers each incoming call with args[0]+1.
func serveAdd(calls <-chan IncomingCall) {
	for call := range calls {
		v, err := call.Args.Value()
		if err != nil {
			call.Reply(Failure(MustPack(err.Error())))
			continue
		}
		args, ok := v.([]any)
		if !ok || len(args) == 0 {
			call.Reply(Failure(MustPack("bad args")))
			continue
		}
		n, ok := args[0].(int64)
		if !ok {
			call.Reply(Failure(MustPack("not an integer")))
			continue
		}
		call.Reply(Success(MustPack(n + 1)))
	}
}

func TestActionRoundTrip(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	calls := make(chan IncomingCall)
	go serveAdd(calls)
	ch, err := a.ActionRegister("/t/add", calls)
	mustResult(t, ch, err)

	got, err := b.ActionCallWait(testCtx(t), "/t/add", []any{int64(5)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !got.Equal(MustPack(int64(6))) {
		t.Fatalf("expected 6, got %s", got)
	}
}

func TestActionCallMissingPath(t *testing.T) {
	srv := startServer(t)
	b := newTestClient(t, srv)

	_, err := b.ActionCallWait(testCtx(t), "/t/missing", []any{int64(5)})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected server error, got %v", err)
	}

	// the failed call must not have hurt the connection
	calls := make(chan IncomingCall)
	go serveAdd(calls)
	ch, regErr := b.ActionRegister("/t/add", calls)
	mustResult(t, ch, regErr)
	got, err := b.ActionCallWait(testCtx(t), "/t/add", []any{int64(1)})
	if err != nil {
		t.Fatalf("call after failure: %v", err)
	}
	if !got.Equal(MustPack(int64(2))) {
		t.Fatalf("expected 2, got %s", got)
	}
}

func TestStateObserveSequence(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	ch, err := a.StateRegister("/t/s")
	mustResult(t, ch, err)

	updates := make(chan StateValue, 8)
	reply, err := b.StateObserve("/t/s", updates)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	initial, err := WaitState(testCtx(t), reply)
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	if initial.Known {
		t.Fatalf("expected initial Unknown, got %v", initial)
	}

	ch, err = a.StateChanged("/t/s", int64(5))
	mustResult(t, ch, err)
	if v := nextUpdate(t, updates); !v.Known || !v.Value.Equal(MustPack(int64(5))) {
		t.Fatalf("expected Known(5), got %v", v)
	}

	ch, err = a.StateUnknown("/t/s")
	mustResult(t, ch, err)
	if v := nextUpdate(t, updates); v.Known {
		t.Fatalf("expected Unknown, got %v", v)
	}
}

func TestReconnectRepublishesState(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	ch, err := a.StateRegister("/t/s")
	mustResult(t, ch, err)
	ch, err = a.StateChanged("/t/s", int64(5))
	mustResult(t, ch, err)

	updates := make(chan StateValue, 8)
	reply, err := b.StateObserve("/t/s", updates)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	initial, err := WaitState(testCtx(t), reply)
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	if !initial.Known || !initial.Value.Equal(MustPack(int64(5))) {
		t.Fatalf("expected initial Known(5), got %v", initial)
	}
	if !initial.HasAge {
		t.Fatalf("initial known reply must carry an age")
	}

	// drop A: the server loses the owner, B sees Unknown, then A's engine
	// reconnects and replays state_register plus the last Known value
	if err := a.TestDisconnect(); err != nil {
		t.Fatalf("test disconnect: %v", err)
	}
	if v := nextUpdate(t, updates); v.Known {
		t.Fatalf("expected Unknown after owner drop, got %v", v)
	}
	if v := nextUpdate(t, updates); !v.Known || !v.Value.Equal(MustPack(int64(5))) {
		t.Fatalf("expected republished Known(5), got %v", v)
	}
}

func TestObserverSyntheticUnknownOnOwnDisconnect(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	ch, err := a.StateRegister("/t/s")
	mustResult(t, ch, err)
	ch, err = a.StateChanged("/t/s", int64(5))
	mustResult(t, ch, err)

	updates := make(chan StateValue, 8)
	reply, err := b.StateObserve("/t/s", updates)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	initial, err := WaitState(testCtx(t), reply)
	if err != nil || !initial.Known {
		t.Fatalf("initial: %v %v", initial, err)
	}

	// drop B's own connection: first a synthetic Unknown from teardown,
	// then the re-observe reply with the still-Known value
	if err := b.TestDisconnect(); err != nil {
		t.Fatalf("test disconnect: %v", err)
	}
	if v := nextUpdate(t, updates); v.Known {
		t.Fatalf("expected synthetic Unknown, got %v", v)
	}
	if v := nextUpdate(t, updates); !v.Known || !v.Value.Equal(MustPack(int64(5))) {
		t.Fatalf("expected re-observed Known(5), got %v", v)
	}
}

func TestEventDelivery(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	ch, err := a.EventRegister("/t/e")
	mustResult(t, ch, err)

	events := make(chan Payload, 8)
	ch, err = b.EventListen("/t/e", events)
	mustResult(t, ch, err)

	ch, err = a.EventEmit("/t/e", int64(6))
	mustResult(t, ch, err)

	select {
	case got := <-events:
		if !got.Equal(MustPack(int64(6))) {
			t.Fatalf("expected 6, got %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event within deadline")
	}
}

func TestIdlePingKeepsConnectionAlive(t *testing.T) {
	srv := startServer(t)
	c, err := NewClient(ClientConfig{
		Address: srv.Addr(),
		Timeouts: Timeouts{
			IdlePing:      100 * time.Millisecond,
			PingTimeout:   100 * time.Millisecond,
			ServerTimeout: 1 * time.Second,
		},
		Backoff: testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)

	// several idle-ping rounds with an answering server: one connection
	time.Sleep(600 * time.Millisecond)
	if n := srv.Connects(); n != 1 {
		t.Fatalf("expected a single healthy connection, got %d", n)
	}
}

func TestPingTimeoutTriggersReconnect(t *testing.T) {
	srv := startServer(t)
	srv.SetSilentPings(true)
	c, err := NewClient(ClientConfig{
		Address: srv.Addr(),
		Timeouts: Timeouts{
			IdlePing:      100 * time.Millisecond,
			PingTimeout:   100 * time.Millisecond,
			ServerTimeout: 1 * time.Second,
		},
		Backoff: testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Connects() >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("client never tore down the silent connection: connects=%d", srv.Connects())
}

func TestIdentityTokenPresentedOnReconnect(t *testing.T) {
	srv := startServer(t)
	c := newTestClient(t, srv)

	// first hello carries no id; the server assigns one
	_, err := c.ActionCallWait(testCtx(t), "/t/none", nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("priming call: %v", err)
	}
	if n := srv.HellosWithID(); n != 0 {
		t.Fatalf("fresh client presented an id: %d", n)
	}

	if err := c.TestDisconnect(); err != nil {
		t.Fatalf("test disconnect: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.HellosWithID() == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("reconnect did not present the assigned id")
}

func TestPendingFailedOnDisconnect(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	// an action that never replies keeps B's call pending
	calls := make(chan IncomingCall, 8)
	ch, err := a.ActionRegister("/t/hang", calls)
	mustResult(t, ch, err)

	result, err := b.ActionCall("/t/hang", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatalf("call never reached the owner")
	}

	if err := b.TestDisconnect(); err != nil {
		t.Fatalf("test disconnect: %v", err)
	}
	select {
	case r := <-result:
		if r.OK() {
			t.Fatalf("expected disconnected error, got %v", r)
		}
		if r.Err.Payload.String() != "disconnected" {
			t.Fatalf("expected disconnected payload, got %s", r.Err.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pending call never settled")
	}
}

func TestPropertyGetSet(t *testing.T) {
	srv := startServer(t)
	a := newTestClient(t, srv)
	b := newTestClient(t, srv)

	value := MustPack(int64(10))
	ch, err := a.PropertyRegister("/t/p", Property{
		Get: func() Result { return Success(value) },
		Set: func(v Payload) Result {
			value = v
			return Success(MustPack(nil))
		},
	})
	mustResult(t, ch, err)

	got, err := b.GetWait(testCtx(t), "/t/p")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Equal(MustPack(int64(10))) {
		t.Fatalf("expected 10, got %s", got)
	}

	if err := b.SetWait(testCtx(t), "/t/p", int64(11)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = b.GetWait(testCtx(t), "/t/p")
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if !got.Equal(MustPack(int64(11))) {
		t.Fatalf("expected 11, got %s", got)
	}
}

func TestDuplicateRegistrationReported(t *testing.T) {
	srv := startServer(t)
	c := newTestClient(t, srv)

	ch, err := c.StateRegister("/t/s")
	mustResult(t, ch, err)

	ch, err = c.StateRegister("/t/s")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := Wait(testCtx(t), ch); err == nil {
		t.Fatalf("duplicate registration must be reported")
	}
}

func TestResolveAddress(t *testing.T) {
	t.Setenv(EnvServer, "")
	if got := ResolveAddress(""); got != "localhost:11236" {
		t.Fatalf("default: %q", got)
	}
	if got := ResolveAddress("example.com"); got != "example.com:11236" {
		t.Fatalf("host only: %q", got)
	}
	if got := ResolveAddress("example.com:7000"); got != "example.com:7000" {
		t.Fatalf("host and port: %q", got)
	}
	t.Setenv(EnvServer, "bus.local:11000")
	if got := ResolveAddress(""); got != "bus.local:11000" {
		t.Fatalf("env: %q", got)
	}
	if got := ResolveAddress("explicit"); got != "explicit:11236" {
		t.Fatalf("explicit beats env: %q", got)
	}
}
