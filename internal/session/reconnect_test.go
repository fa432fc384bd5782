package session

import (
	"testing"
	"time"
)

func TestReconnectorBackoffSchedule(t *testing.T) {
	r := NewReconnector(BackoffConfig{BaseDelay: 100 * time.Millisecond, MaxAttempts: 5})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	for i, wantDelay := range want {
		delay, ok := r.Next()
		if !ok {
			t.Fatalf("Next() attempt %d: unexpectedly exhausted", i+1)
		}
		if delay != wantDelay {
			t.Fatalf("Next() attempt %d delay = %s, want %s", i+1, delay, wantDelay)
		}
		if r.Attempt() != i+1 {
			t.Fatalf("Attempt() = %d, want %d", r.Attempt(), i+1)
		}
	}

	if _, ok := r.Next(); ok {
		t.Fatal("Next() after ceiling should refuse")
	}
	if _, ok := r.Next(); ok {
		t.Fatal("Next() must stay exhausted until Reset")
	}
}

func TestReconnectorReset(t *testing.T) {
	r := NewReconnector(BackoffConfig{BaseDelay: time.Second, MaxAttempts: 2})
	r.Next()
	r.Next()
	if _, ok := r.Next(); ok {
		t.Fatal("expected exhaustion after two attempts")
	}

	r.Reset()
	if r.Attempt() != 0 {
		t.Fatalf("Attempt() after Reset = %d, want 0", r.Attempt())
	}
	delay, ok := r.Next()
	if !ok {
		t.Fatal("Next() after Reset should succeed")
	}
	if delay != time.Second {
		t.Fatalf("delay after Reset = %s, want %s", delay, time.Second)
	}
}

func TestReconnectorDefaults(t *testing.T) {
	r := NewReconnector(BackoffConfig{})

	delay, ok := r.Next()
	if !ok {
		t.Fatal("first attempt should be allowed")
	}
	if delay != DefaultBaseDelay {
		t.Fatalf("default base delay = %s, want %s", delay, DefaultBaseDelay)
	}

	attempts := 1
	for {
		if _, ok := r.Next(); !ok {
			break
		}
		attempts++
	}
	if attempts != DefaultMaxAttempts {
		t.Fatalf("default ceiling = %d attempts, want %d", attempts, DefaultMaxAttempts)
	}
}
