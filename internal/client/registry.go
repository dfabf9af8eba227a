package client

import (
	"fmt"
	"sort"

	"github.com/danmuck/eshet/internal/wire"
)

// Property holds the handlers for a property this client owns. Both are
// invoked synchronously on the session task; they must not block.
type Property struct {
	Get func() wire.Result
	Set func(value wire.Payload) wire.Result
}

// observer is one observed state's delivery sink. live marks the sink as
// owed a synthetic Unknown at the next teardown: it is set at registration
// and by every server-derived value, and cleared by teardown, so that
// teardown pushes the synthetic Unknown exactly once per disconnect.
type observer struct {
	sink chan<- wire.StateValue
	live bool
}

// registry is the declarative set of resources this client owns or watches.
// Entries outlive the socket and are replayed on every reconnect. Owned by
// the session task exclusively; no locking.
type registry struct {
	ownedActions    map[string]chan<- IncomingCall
	ownedStates     map[string]wire.StateValue
	ownedEvents     map[string]struct{}
	ownedProperties map[string]Property
	observedStates  map[string]*observer
	listenedEvents  map[string]chan<- wire.Payload
}

func newRegistry() *registry {
	return &registry{
		ownedActions:    make(map[string]chan<- IncomingCall),
		ownedStates:     make(map[string]wire.StateValue),
		ownedEvents:     make(map[string]struct{}),
		ownedProperties: make(map[string]Property),
		observedStates:  make(map[string]*observer),
		listenedEvents:  make(map[string]chan<- wire.Payload),
	}
}

func (r *registry) addAction(path string, sink chan<- IncomingCall) error {
	if _, ok := r.ownedActions[path]; ok {
		return fmt.Errorf("%w: action %q", ErrAlreadyRegistered, path)
	}
	r.ownedActions[path] = sink
	return nil
}

func (r *registry) addState(path string) error {
	if _, ok := r.ownedStates[path]; ok {
		return fmt.Errorf("%w: state %q", ErrAlreadyRegistered, path)
	}
	r.ownedStates[path] = wire.Unknown()
	return nil
}

// setState records the latest published value; it is what gets replayed
// after a reconnect.
func (r *registry) setState(path string, v wire.StateValue) error {
	if _, ok := r.ownedStates[path]; !ok {
		return fmt.Errorf("%w: state %q", ErrNotRegistered, path)
	}
	r.ownedStates[path] = v
	return nil
}

func (r *registry) addEvent(path string) error {
	if _, ok := r.ownedEvents[path]; ok {
		return fmt.Errorf("%w: event %q", ErrAlreadyRegistered, path)
	}
	r.ownedEvents[path] = struct{}{}
	return nil
}

func (r *registry) addProperty(path string, prop Property) error {
	if _, ok := r.ownedProperties[path]; ok {
		return fmt.Errorf("%w: property %q", ErrAlreadyRegistered, path)
	}
	r.ownedProperties[path] = prop
	return nil
}

func (r *registry) addObserver(path string, sink chan<- wire.StateValue) error {
	if _, ok := r.observedStates[path]; ok {
		return fmt.Errorf("%w: observed state %q", ErrAlreadyRegistered, path)
	}
	// live from the start: a disconnect before the initial reply still
	// owes the sink its synthetic Unknown
	r.observedStates[path] = &observer{sink: sink, live: true}
	return nil
}

func (r *registry) addListener(path string, sink chan<- wire.Payload) error {
	if _, ok := r.listenedEvents[path]; ok {
		return fmt.Errorf("%w: listened event %q", ErrAlreadyRegistered, path)
	}
	r.listenedEvents[path] = sink
	return nil
}

func (r *registry) action(path string) (chan<- IncomingCall, bool) {
	sink, ok := r.ownedActions[path]
	return sink, ok
}

func (r *registry) property(path string) (Property, bool) {
	prop, ok := r.ownedProperties[path]
	return prop, ok
}

func (r *registry) observerFor(path string) (*observer, bool) {
	obs, ok := r.observedStates[path]
	return obs, ok
}

func (r *registry) listener(path string) (chan<- wire.Payload, bool) {
	sink, ok := r.listenedEvents[path]
	return sink, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
