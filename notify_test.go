package main

import (
	"strings"
	"testing"
	"time"
)

func TestConnectionDebouncerSingleTransition(t *testing.T) {
	d := newConnectionDebouncer(20 * time.Second)
	now := time.Now()

	d.record(true, now)
	n := d.flush(now.Add(2 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if n.Warning {
		t.Error("plain connect notice should not be a warning")
	}
	if n.Title != "Headset connected" {
		t.Errorf("title = %q", n.Title)
	}
	if d.flush(now.Add(3*time.Second)) != nil {
		t.Error("second flush with nothing pending should return nil")
	}
}

func TestConnectionDebouncerTwoTransitionsStayPlain(t *testing.T) {
	d := newConnectionDebouncer(20 * time.Second)
	now := time.Now()

	d.record(false, now)
	d.record(true, now.Add(time.Second))
	n := d.flush(now.Add(3 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if n.Warning || n.Title != "Headset connected" {
		t.Errorf("two transitions should yield a plain final-state notice, got %+v", n)
	}
}

func TestConnectionDebouncerUnstable(t *testing.T) {
	d := newConnectionDebouncer(20 * time.Second)
	now := time.Now()

	// connected, disconnected, connected inside two seconds
	d.record(true, now)
	d.record(false, now.Add(time.Second))
	d.record(true, now.Add(2*time.Second))

	n := d.flush(now.Add(4 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if !n.Warning {
		t.Error("unstable notice should be a warning")
	}
	if !strings.Contains(n.Message, "3 connection changes") {
		t.Errorf("message %q should report the transition count", n.Message)
	}
	if !strings.Contains(n.Message, "now connected") {
		t.Errorf("message %q should name the final state", n.Message)
	}
}

func TestConnectionDebouncerWindowExpiry(t *testing.T) {
	d := newConnectionDebouncer(20 * time.Second)
	now := time.Now()

	d.record(true, now)
	d.record(false, now.Add(time.Second))
	// Third transition arrives long after the first two left the window.
	d.record(false, now.Add(30*time.Second))

	n := d.flush(now.Add(32 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if strings.Contains(n.Message, "connection changes") {
		t.Errorf("expired transitions must not count toward instability: %q", n.Message)
	}
}

func TestBatteryNotifierThresholdCrossing(t *testing.T) {
	b := newBatteryNotifier([]int{20, 10, 5}, 15*time.Minute)
	now := time.Now()

	if b.observe(50, now) {
		t.Fatal("level above all thresholds should not arm")
	}
	if !b.observe(18, now) {
		t.Fatal("crossing 20 should arm")
	}
	n := b.flush(now.Add(2 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if !strings.Contains(n.Message, "18%") || !strings.Contains(n.Message, "20%") {
		t.Errorf("message = %q", n.Message)
	}
	if n.Warning {
		t.Error("20%% threshold should not be a warning")
	}

	// Same threshold does not re-fire while still below it.
	if b.observe(17, now.Add(time.Minute)) {
		t.Error("already-notified threshold re-armed")
	}
}

func TestBatteryNotifierCooldown(t *testing.T) {
	b := newBatteryNotifier([]int{20}, 15*time.Minute)
	now := time.Now()

	b.observe(19, now)
	b.flush(now)

	// Recover above, drop below again inside the cooldown: silent.
	b.observe(25, now.Add(time.Minute))
	if b.observe(19, now.Add(2*time.Minute)) {
		t.Fatal("re-crossing inside cooldown should not arm")
	}

	// After the cooldown the same crossing fires again.
	b.observe(25, now.Add(16*time.Minute))
	if !b.observe(19, now.Add(17*time.Minute)) {
		t.Fatal("re-crossing after cooldown should arm")
	}
}

func TestBatteryNotifierSingleReadingNotGrouped(t *testing.T) {
	b := newBatteryNotifier([]int{20, 10, 5}, 15*time.Minute)
	now := time.Now()

	// One reading blowing through two thresholds is still one update.
	if !b.observe(8, now) {
		t.Fatal("crossing should arm")
	}
	n := b.flush(now.Add(2 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if strings.Contains(n.Message, "(grouped alerts)") {
		t.Errorf("single update must not be marked grouped: %q", n.Message)
	}
	if !strings.Contains(n.Message, "8%") || !strings.Contains(n.Message, "below 10%") {
		t.Errorf("notice should report the level and lowest threshold: %q", n.Message)
	}
	if !n.Warning {
		t.Error("crossing 10%% should be a warning")
	}
}

func TestBatteryNotifierGroupedUpdates(t *testing.T) {
	b := newBatteryNotifier([]int{20, 10, 5}, 15*time.Minute)
	now := time.Now()

	// Two readings merge inside one debounce interval.
	if !b.observe(18, now) {
		t.Fatal("first crossing should arm")
	}
	if !b.observe(8, now.Add(time.Second)) {
		t.Fatal("second crossing should arm")
	}
	n := b.flush(now.Add(2 * time.Second))
	if n == nil {
		t.Fatal("flush returned nil notice")
	}
	if !strings.Contains(n.Message, "(grouped alerts)") {
		t.Errorf("merged updates should be marked grouped: %q", n.Message)
	}
	if !strings.Contains(n.Message, "8%") {
		t.Errorf("grouped notice should report the lowest level: %q", n.Message)
	}
}

func TestBatteryNotifierResetLevels(t *testing.T) {
	b := newBatteryNotifier([]int{20}, time.Hour)
	now := time.Now()

	b.observe(15, now)
	b.resetLevels()
	if b.hasPending() {
		t.Error("resetLevels should drop pending state")
	}
	// Cooldown stamps survive the reset: nothing was flushed, so the
	// threshold may fire again immediately on reconnect.
	if !b.observe(15, now.Add(time.Second)) {
		t.Error("unflushed threshold should re-arm after reset")
	}
}
