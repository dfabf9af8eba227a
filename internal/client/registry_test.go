package client

import (
	"errors"
	"testing"

	"github.com/danmuck/eshet/internal/wire"
)

func TestRegistryRejectsDuplicatesPerKind(t *testing.T) {
	r := newRegistry()
	if err := r.addAction("/t/a", make(chan IncomingCall)); err != nil {
		t.Fatalf("add action: %v", err)
	}
	if err := r.addAction("/t/a", make(chan IncomingCall)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	// the same path is fine under a different kind
	if err := r.addState("/t/a"); err != nil {
		t.Fatalf("add state under same path: %v", err)
	}
	if err := r.addState("/t/a"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistryStateLifecycle(t *testing.T) {
	r := newRegistry()
	if err := r.setState("/t/s", wire.Known(wire.MustPack(int64(5)))); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if err := r.addState("/t/s"); err != nil {
		t.Fatalf("add state: %v", err)
	}
	if v := r.ownedStates["/t/s"]; v.Known {
		t.Fatalf("initial value must be Unknown, got %v", v)
	}
	want := wire.Known(wire.MustPack(int64(5)))
	if err := r.setState("/t/s", want); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if v := r.ownedStates["/t/s"]; !v.Known || !v.Value.Equal(want.Value) {
		t.Fatalf("last published mismatch: %v", v)
	}
}

func TestRegistryLookups(t *testing.T) {
	r := newRegistry()
	calls := make(chan IncomingCall)
	events := make(chan wire.Payload)
	updates := make(chan wire.StateValue)
	if err := r.addAction("/a", calls); err != nil {
		t.Fatalf("action: %v", err)
	}
	if err := r.addListener("/e", events); err != nil {
		t.Fatalf("listener: %v", err)
	}
	if err := r.addObserver("/s", updates); err != nil {
		t.Fatalf("observer: %v", err)
	}
	if _, ok := r.action("/a"); !ok {
		t.Fatalf("action lookup failed")
	}
	if _, ok := r.listener("/e"); !ok {
		t.Fatalf("listener lookup failed")
	}
	obs, ok := r.observerFor("/s")
	if !ok || !obs.live {
		t.Fatalf("observer must be live from registration")
	}
	if _, ok := r.action("/missing"); ok {
		t.Fatalf("phantom action")
	}
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	m := map[string]int{"/b": 1, "/a": 2, "/c": 3}
	got := sortedKeys(m)
	want := []string{"/a", "/b", "/c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: %v", got)
		}
	}
}
