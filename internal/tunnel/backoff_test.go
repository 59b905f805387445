package tunnel

import (
	"testing"
	"time"
)

func TestBackoffSequenceIgnoringJitter(t *testing.T) {
	b := newBackoff()
	b.jitter = func() time.Duration { return 0 }

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
	}
	if b.attempt != len(want) {
		t.Errorf("attempt = %d, want %d", b.attempt, len(want))
	}
}

func TestBackoffResetRestoresInitialDelay(t *testing.T) {
	b := newBackoff()
	b.jitter = func() time.Duration { return 0 }

	b.next()
	b.next()
	b.next()
	b.reset()

	if b.attempt != 0 {
		t.Errorf("attempt after reset = %d, want 0", b.attempt)
	}
	if got := b.next(); got != 1000*time.Millisecond {
		t.Errorf("first delay after reset = %v, want 1s", got)
	}
}

func TestBackoffJitterRange(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 1000; i++ {
		j := b.jitter()
		if j < 0 || j >= 500*time.Millisecond {
			t.Fatalf("jitter %v outside [0, 500ms)", j)
		}
	}
}
