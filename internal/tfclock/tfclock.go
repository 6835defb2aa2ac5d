// Package tfclock implements the Timeframe Clock: it
// converts orbit counters, or a wall-clock fallback when no RDH is
// available, into monotonic timeframe ids, and reconciles the first
// orbit seen across equipments through a shared counter.
package tfclock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alice-fair/readout/internal/logging"
)

// UndefinedOrbit is the "unset" sentinel for firstOrbit.
const UndefinedOrbit = ^uint32(0)

// GlobalFirstOrbit is the shared, cross-equipment first-orbit counter:
// a first-orbit cross-check published to a shared counter. One
// instance is shared by the Clocks of every equipment in a pipeline,
// since they all reconcile against the same physical orbit counter.
type GlobalFirstOrbit struct {
	mu  sync.Mutex
	val uint32
	set bool
}

// NewGlobalFirstOrbit creates an unset shared first-orbit counter.
func NewGlobalFirstOrbit() *GlobalFirstOrbit {
	return &GlobalFirstOrbit{}
}

// Reconcile publishes orbit as the global first orbit if none is set
// yet, and returns the value now in effect. If a value is already set
// and differs from orbit, mismatch reports true and the existing value
// wins: the caller keeps whichever value it already had locally; this
// signals whether that differed from the global so the caller can log.
func (g *GlobalFirstOrbit) Reconcile(orbit uint32) (global uint32, mismatch bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.val = orbit
		g.set = true
		return orbit, false
	}
	return g.val, g.val != orbit
}

// Clock converts orbit counters into monotonic timeframe ids for one
// equipment.
type Clock struct {
	mu             sync.Mutex
	firstOrbit     uint32
	haveFirst      bool
	tfPeriodOrbits uint32
	global         *GlobalFirstOrbit
	logger         *logging.Logger
	mismatchToken  *logging.Token

	// software clock fallback state
	softwareEnabled bool
	orbitRate       float64 // orbits/sec
	softStart       time.Time
	softTF          atomic.Uint32
}

// Config configures a Clock.
type Config struct {
	TFPeriodOrbits uint32 // default 128
	Global         *GlobalFirstOrbit
	Logger         *logging.Logger
	// OrbitRate enables the software-clock fallback used when no RDH is
	// available to derive a real orbit count.
	OrbitRate float64
}

// New creates a Clock.
func New(cfg Config) *Clock {
	period := cfg.TFPeriodOrbits
	if period == 0 {
		period = 128
	}
	return &Clock{
		tfPeriodOrbits:  period,
		global:          cfg.Global,
		logger:          cfg.Logger,
		mismatchToken:   logging.NewToken(10 * time.Second),
		softwareEnabled: cfg.OrbitRate > 0,
		orbitRate:       cfg.OrbitRate,
	}
}

// TFFromOrbit returns the monotonic timeframe id containing orbit: on
// the first call it latches firstOrbit and reconciles it against the
// shared global counter.
func (c *Clock) TFFromOrbit(orbit uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveFirst {
		c.firstOrbit = orbit
		c.haveFirst = true
		if c.global != nil {
			global, mismatch := c.global.Reconcile(orbit)
			if mismatch && c.logger != nil {
				c.mismatchToken.Logf(c.logger.Errorf, "first-orbit mismatch: local=%d global=%d, keeping local", orbit, global)
			}
		}
	}
	return 1 + (orbit-c.firstOrbit)/c.tfPeriodOrbits
}

// TFOrbitRange reverses TFFromOrbit: returns the inclusive orbit range
// covered by timeframe tf.
func (c *Clock) TFOrbitRange(tf uint32) (min, max uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tf == 0 {
		return 0, 0
	}
	min = c.firstOrbit + (tf-1)*c.tfPeriodOrbits
	max = min + c.tfPeriodOrbits - 1
	return min, max
}

// SoftwareClockEnabled reports whether this Clock was configured with
// an OrbitRate, and so can serve SoftwareTF requests.
func (c *Clock) SoftwareClockEnabled() bool { return c.softwareEnabled }

// StartSoftwareClock begins the wall-clock fallback timeframe
// progression used when no RDH is available to derive a real orbit
// count: it increments the current timeframe id every
// 1/(orbitRate/tfPeriodOrbits) seconds.
func (c *Clock) StartSoftwareClock(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.softStart = now
	c.softTF.Store(1)
}

// SoftwareTF returns the current timeframe id derived from the wall
// clock started by StartSoftwareClock: 1 + (time since the start) /
// timeframe period. The returned id never moves backwards.
func (c *Clock) SoftwareTF(now time.Time) uint32 {
	if !c.softwareEnabled {
		return c.softTF.Load()
	}
	c.mu.Lock()
	period := time.Duration(float64(c.tfPeriodOrbits) / c.orbitRate * float64(time.Second))
	c.mu.Unlock()
	if period <= 0 {
		return c.softTF.Load()
	}
	elapsed := now.Sub(c.softStart)
	want := uint32(1 + elapsed/period)
	for {
		cur := c.softTF.Load()
		if want <= cur {
			return cur
		}
		if c.softTF.CompareAndSwap(cur, want) {
			return want
		}
	}
}
