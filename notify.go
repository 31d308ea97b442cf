package main

import (
	"fmt"
	"sort"
	"time"
)

// Notice is a user-facing notification. Delivery is the caller's concern;
// the core only decides when one is warranted and what it says.
type Notice struct {
	Title   string
	Message string
	Warning bool
}

// connectionDebouncer coalesces rapid connect/disconnect flapping. Each state
// change is recorded and a flush timer is (re)armed by the coordinator; at
// flush time the transitions inside the sliding window decide between a plain
// notice and a single "unstable" warning.
type connectionDebouncer struct {
	window  time.Duration
	events  []time.Time
	pending *bool
}

func newConnectionDebouncer(window time.Duration) *connectionDebouncer {
	return &connectionDebouncer{window: window}
}

func (d *connectionDebouncer) record(connected bool, now time.Time) {
	d.prune(now)
	d.events = append(d.events, now)
	v := connected
	d.pending = &v
}

func (d *connectionDebouncer) hasPending() bool {
	return d.pending != nil
}

func (d *connectionDebouncer) prune(now time.Time) {
	cutoff := now.Add(-d.window)
	keep := d.events[:0]
	for _, t := range d.events {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	d.events = keep
}

// flush emits at most one notice for everything recorded since the last
// flush. Three or more transitions inside the window collapse into a single
// instability warning naming the final state.
func (d *connectionDebouncer) flush(now time.Time) *Notice {
	if d.pending == nil {
		return nil
	}
	d.prune(now)
	connected := *d.pending
	count := len(d.events)
	d.pending = nil
	d.events = d.events[:0]

	if count >= 3 {
		state := "disconnected"
		if connected {
			state = "connected"
		}
		return &Notice{
			Title:   "Headset connection unstable",
			Message: fmt.Sprintf("%d connection changes in the last %s; now %s.", count, d.window, state),
			Warning: true,
		}
	}
	if connected {
		return &Notice{Title: "Headset connected", Message: "Wireless link established."}
	}
	return &Notice{Title: "Headset disconnected", Message: "Wireless link lost.", Warning: true}
}

func (d *connectionDebouncer) clear() {
	d.pending = nil
	d.events = d.events[:0]
}

// batteryNotifier fires once per threshold crossing on the way down, with a
// per-threshold cooldown. Crossing updates that land inside one debounce
// interval merge into a single notice for the lowest level seen, marked
// grouped when more than one update was merged.
type batteryNotifier struct {
	thresholds []int
	cooldown   time.Duration

	notified          map[int]bool
	lastSent          map[int]time.Time
	pendingThresholds []int
	pendingLevel      int
	pendingCount      int
}

func newBatteryNotifier(thresholds []int, cooldown time.Duration) *batteryNotifier {
	sorted := append([]int(nil), thresholds...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	return &batteryNotifier{
		thresholds:   sorted,
		cooldown:     cooldown,
		notified:     make(map[int]bool),
		lastSent:     make(map[int]time.Time),
		pendingLevel: -1,
	}
}

// observe records a battery reading and reports whether the coordinator
// should arm (or re-arm) the battery flush timer.
func (b *batteryNotifier) observe(level int, now time.Time) bool {
	armed := false
	for _, th := range b.thresholds {
		if level > th {
			// Recovering above a threshold re-arms it for the next drain.
			delete(b.notified, th)
			continue
		}
		if b.notified[th] {
			continue
		}
		if last, ok := b.lastSent[th]; ok && now.Sub(last) < b.cooldown {
			continue
		}
		b.notified[th] = true
		b.pendingThresholds = append(b.pendingThresholds, th)
		if b.pendingLevel == -1 || level < b.pendingLevel {
			b.pendingLevel = level
		}
		armed = true
	}
	// One reading is one update, no matter how many thresholds it crossed.
	if armed {
		b.pendingCount++
	}
	return armed
}

func (b *batteryNotifier) hasPending() bool {
	return len(b.pendingThresholds) > 0
}

func (b *batteryNotifier) flush(now time.Time) *Notice {
	if len(b.pendingThresholds) == 0 {
		return nil
	}
	minThreshold := b.pendingThresholds[0]
	for _, th := range b.pendingThresholds {
		if th < minThreshold {
			minThreshold = th
		}
		b.lastSent[th] = now
	}
	level := b.pendingLevel
	grouped := b.pendingCount > 1
	b.pendingThresholds = b.pendingThresholds[:0]
	b.pendingLevel = -1
	b.pendingCount = 0

	msg := fmt.Sprintf("Battery at %d%% (below %d%%).", level, minThreshold)
	if grouped {
		msg += " (grouped alerts)"
	}
	return &Notice{Title: "Headset battery low", Message: msg, Warning: minThreshold <= 10}
}

func (b *batteryNotifier) clearPending() {
	b.pendingThresholds = b.pendingThresholds[:0]
	b.pendingLevel = -1
	b.pendingCount = 0
}

// resetLevels forgets crossing state, keeping cooldown stamps so a reconnect
// storm cannot re-fire a threshold inside its cooldown.
func (b *batteryNotifier) resetLevels() {
	for th := range b.notified {
		delete(b.notified, th)
	}
	b.clearPending()
}
