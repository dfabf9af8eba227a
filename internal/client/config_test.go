package client

import (
	"errors"
	"testing"
	"time"
)

func TestTimeoutsDefaultsAndValidation(t *testing.T) {
	d := Timeouts{}.WithDefaults()
	if d.IdlePing != 15*time.Second || d.ServerTimeout != 30*time.Second || d.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	bad := Timeouts{IdlePing: 30 * time.Second, ServerTimeout: 30 * time.Second}.WithDefaults()
	if err := bad.Validate(); !errors.Is(err, ErrServerTimeoutTooSmall) {
		t.Fatalf("expected ErrServerTimeoutTooSmall, got %v", err)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{}.WithDefaults()
	delay := b.InitialDelay
	for i := 0; i < 10; i++ {
		delay = b.NextDelay(delay)
	}
	if delay != b.MaxDelay {
		t.Fatalf("expected cap at %v, got %v", b.MaxDelay, delay)
	}
	if b.NextDelay(1*time.Second) != 2*time.Second {
		t.Fatalf("doubling broken")
	}
}
