package main

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// txBackoff tracks consecutive timeout-class write failures and yields the
// busy window to apply after each one: min(initial * 2^(n-1), max).
type txBackoff struct {
	initial  time.Duration
	max      time.Duration
	timeouts int
}

func newTxBackoff(initial, max time.Duration) *txBackoff {
	return &txBackoff{initial: initial, max: max}
}

// escalate records one more timeout and returns the window to suspend sends
// for. The window doubles per consecutive timeout and saturates at max.
func (b *txBackoff) escalate() time.Duration {
	b.timeouts++
	window := b.initial
	for i := 1; i < b.timeouts; i++ {
		window *= 2
		if window >= b.max {
			return b.max
		}
	}
	if window > b.max {
		window = b.max
	}
	return window
}

func (b *txBackoff) reset() {
	b.timeouts = 0
}

func (b *txBackoff) active() bool {
	return b.timeouts > 0
}

// repeatingLog rate-limits a class of recurring log lines. emit reports
// whether the caller should log now; when it does after a quiet stretch the
// returned suffix summarizes what was swallowed.
type repeatingLog struct {
	minInterval time.Duration
	limiter     *rate.Limiter
	suppressed  int
}

func newRepeatingLog(minInterval time.Duration) *repeatingLog {
	return &repeatingLog{
		minInterval: minInterval,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

func (r *repeatingLog) emit() (suffix string, ok bool) {
	if !r.limiter.Allow() {
		r.suppressed++
		return "", false
	}
	if r.suppressed > 0 {
		suffix = fmt.Sprintf(" (suppressed %d similar events)", r.suppressed)
		r.suppressed = 0
	}
	return suffix, true
}

// consume returns the pending suppressed count and resets the limiter so the
// next occurrence logs immediately.
func (r *repeatingLog) consume() int {
	n := r.suppressed
	r.suppressed = 0
	r.limiter = rate.NewLimiter(rate.Every(r.minInterval), 1)
	return n
}
