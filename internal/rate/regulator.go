// Package rate implements the Rate Regulator: a
// drift-corrected pacer that throttles a producer to a target rate in
// full floating-point precision, rather than the coarser discrete-token
// accounting of a token-bucket limiter.
//
// golang.org/x/time/rate is deliberately not used here: its Limiter
// grants burst capacity in discrete tokens refilled at a fixed rate,
// which does not reproduce the exact two-path correction this pacer needs (a
// fast path that nudges the next deadline by one period, and a slow
// path that periodically resyncs against the absolute start time to
// cancel accumulated floating-point drift). Token-bucket semantics and
// deadline-resync semantics diverge visibly under long-running,
// high-frequency pacing, which is exactly the regime this component
// exists for.
package rate

import (
	"sync"
	"time"
)

// Regulator paces calls to Wait so that, on average, no more than Rate
// calls occur per second. A Rate of zero or less disables pacing
// entirely: Wait always returns immediately.
type Regulator struct {
	mu         sync.Mutex
	period     time.Duration // 1/Rate, as a duration
	disabled   bool
	start      time.Time
	tNext      time.Time
	n          uint64
	resyncEach uint64 // resync against start+n*period every resyncEach calls
}

// New creates a Regulator targeting rate calls per second. resyncEvery
// controls how often the slow path resynchronizes against the absolute
// start time; it defaults to 1000 if zero.
func New(rate float64, resyncEvery uint64) *Regulator {
	if rate <= 0 {
		return &Regulator{disabled: true}
	}
	if resyncEvery == 0 {
		resyncEvery = 1000
	}
	period := time.Duration(float64(time.Second) / rate)
	return &Regulator{
		period:     period,
		resyncEach: resyncEvery,
	}
}

// Arm records the regulator's start time. Must be called once before
// the first Wait; New does not start the clock itself so construction
// and arming can happen at different times (e.g. regulator built at
// config time, armed when the equipment's loop actually starts).
func (r *Regulator) Arm(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = now
	r.tNext = now.Add(r.period)
	r.n = 0
}

// Wait blocks until the next call is due, then advances the deadline.
// Disabled regulators return immediately without blocking.
func (r *Regulator) Wait() {
	if r.disabled {
		return
	}
	r.mu.Lock()
	now := time.Now()
	sleep := r.tNext.Sub(now)
	r.advanceLocked(now)
	r.mu.Unlock()

	if sleep > 0 {
		time.Sleep(sleep)
	}
}

// Allow is the non-blocking admission check used by the Equipment
// producer step to ask whether a new timeframe may enter the pipeline
// now. It never sleeps:
// callers that are refused must park their own work and retry later.
func (r *Regulator) Allow(now time.Time) bool {
	if r.disabled {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tNext.IsZero() {
		r.start = now
		r.tNext = now
	}
	if now.Before(r.tNext) {
		return false
	}
	r.advanceLocked(now)
	return true
}

// advanceLocked applies one fast-path or slow-path deadline update.
// Callers must hold r.mu.
func (r *Regulator) advanceLocked(now time.Time) {
	r.n++
	if r.n%r.resyncEach == 0 {
		// Slow path: resync against the absolute start time in full
		// precision to cancel drift accumulated by repeated fast-path
		// additions.
		r.tNext = r.start.Add(time.Duration(float64(r.period) * float64(r.n)))
	} else {
		// Fast path: nudge the deadline forward by exactly one period.
		r.tNext = r.tNext.Add(r.period)
	}
}

// Disabled reports whether this regulator performs no pacing.
func (r *Regulator) Disabled() bool { return r.disabled }
