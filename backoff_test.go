package main

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestBackoffWindowLaw(t *testing.T) {
	b := newTxBackoff(4000*time.Millisecond, 60000*time.Millisecond)
	want := []time.Duration{
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		32000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.escalate(); got != w {
			t.Fatalf("escalate #%d = %s, want %s", i+1, got, w)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := newTxBackoff(4*time.Second, time.Minute)
	b.escalate()
	b.escalate()
	if !b.active() {
		t.Fatal("backoff should be active after escalations")
	}
	b.reset()
	if b.active() {
		t.Fatal("backoff should be inactive after reset")
	}
	if got := b.escalate(); got != 4*time.Second {
		t.Errorf("first window after reset = %s, want 4s", got)
	}
}

func TestRepeatingLogSuppression(t *testing.T) {
	r := newRepeatingLog(time.Hour)

	suffix, ok := r.emit()
	if !ok || suffix != "" {
		t.Fatalf("first emit = (%q, %v), want allowed with no suffix", suffix, ok)
	}
	for i := 0; i < 3; i++ {
		if _, ok := r.emit(); ok {
			t.Fatalf("emit inside interval allowed at attempt %d", i)
		}
	}
	if n := r.consume(); n != 3 {
		t.Fatalf("consume = %d, want 3", n)
	}

	// consume resets the limiter so the next occurrence logs immediately.
	suffix, ok = r.emit()
	if !ok {
		t.Fatal("emit after consume should be allowed")
	}
	if suffix != "" {
		t.Fatalf("suffix after consume = %q, want empty", suffix)
	}
}

func TestRepeatingLogSuffixReportsSuppressedCount(t *testing.T) {
	r := newRepeatingLog(time.Hour)
	r.emit()
	r.emit()
	r.emit()
	// Fresh limiter stands in for the interval elapsing.
	r.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	suffix, ok := r.emit()
	if !ok {
		t.Fatal("emit with fresh limiter should be allowed")
	}
	if !strings.Contains(suffix, "suppressed 2 similar events") {
		t.Errorf("suffix = %q, want suppressed count of 2", suffix)
	}
}
