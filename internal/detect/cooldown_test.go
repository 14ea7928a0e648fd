package detect

import (
	"testing"
	"time"
)

func TestCooldownAllowsFirstAndAfterWindow(t *testing.T) {
	c := NewCooldown()
	now := time.Now().UTC()
	if !c.Allow("k", now, time.Second) {
		t.Fatalf("first emission must pass")
	}
	if c.Allow("k", now.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("emission inside window must be suppressed")
	}
	if !c.Allow("k", now.Add(1100*time.Millisecond), time.Second) {
		t.Fatalf("emission after window must pass")
	}
}

func TestCooldownKeysIndependent(t *testing.T) {
	c := NewCooldown()
	now := time.Now().UTC()
	if !c.Allow("a", now, time.Second) || !c.Allow("b", now, time.Second) {
		t.Fatalf("distinct keys must not share a window")
	}
}

func TestCooldownZeroWindowAlwaysAllows(t *testing.T) {
	c := NewCooldown()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if !c.Allow("k", now, 0) {
			t.Fatalf("zero cooldown must never suppress")
		}
	}
}

func TestDebounceRunsAndResets(t *testing.T) {
	d := NewDebounce()
	for i := 1; i <= 3; i++ {
		if got := d.Hit("k"); got != i {
			t.Fatalf("expected run %d, got %d", i, got)
		}
	}
	d.Reset("k")
	if got := d.Hit("k"); got != 1 {
		t.Fatalf("reset did not zero the run, got %d", got)
	}
	if d.Count("other") != 0 {
		t.Fatalf("untouched key has non-zero count")
	}
}
