package main

import (
	"math"
	"time"
)

type batterySample struct {
	at    time.Time
	level int
}

const (
	historyCapacity   = 240
	minSampleSpacing  = 60 * time.Second
	maxDrainPerHour   = 50.0
	minEstimateWindow = 10 * time.Minute
)

// batteryHistory keeps a bounded ring of discharge samples and derives a
// coarse time-remaining estimate from the linear drain rate across the ring.
type batteryHistory struct {
	samples []batterySample
}

func newBatteryHistory() *batteryHistory {
	return &batteryHistory{}
}

// record appends a sample. Readings inside the spacing window update the
// previous sample in place; a level rise (recharge on the stand) discards the
// ring since the drain slope no longer means anything.
func (h *batteryHistory) record(level int, now time.Time) {
	if level < 0 || level > 100 {
		return
	}
	if n := len(h.samples); n > 0 {
		last := h.samples[n-1]
		if level > last.level {
			h.samples = h.samples[:0]
		} else if now.Sub(last.at) < minSampleSpacing {
			h.samples[n-1] = batterySample{at: now, level: level}
			return
		}
	}
	h.samples = append(h.samples, batterySample{at: now, level: level})
	if len(h.samples) > historyCapacity {
		h.samples = h.samples[len(h.samples)-historyCapacity:]
	}
}

func (h *batteryHistory) clear() {
	h.samples = h.samples[:0]
}

// estimateHours returns the projected hours until empty, or false when the
// ring spans too little time or shows no drain.
func (h *batteryHistory) estimateHours() (float64, bool) {
	n := len(h.samples)
	if n < 2 {
		return 0, false
	}
	first, last := h.samples[0], h.samples[n-1]
	span := last.at.Sub(first.at)
	if span < minEstimateWindow {
		return 0, false
	}
	drained := float64(first.level - last.level)
	if drained <= 0 {
		return 0, false
	}
	perHour := drained / span.Hours()
	if math.IsNaN(perHour) || math.IsInf(perHour, 0) || perHour <= 0 {
		return 0, false
	}
	if perHour > maxDrainPerHour {
		perHour = maxDrainPerHour
	}
	return float64(last.level) / perHour, true
}
