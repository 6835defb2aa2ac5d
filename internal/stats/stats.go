// Package stats implements the Global Stats Counters and their
// datagram publisher: a lock-free set of atomic
// counters updated by every stage of the pipeline, exposed through a
// fixed-offset plain-data layout so an external monitor process can
// read it, and periodically pushed out over a UDP datagram socket.
package stats

import (
	"encoding/binary"
	"sync/atomic"
	"time"
)

// Counters is the Global Stats Counters block. Every field is an
// atomic so producer, aggregator, and consumer goroutines can update it
// concurrently without a lock: internal counters are
// atomic.Uint64/atomic.Int64 fields updated from arbitrary goroutines.
type Counters struct {
	Subtimeframes     atomic.Uint64
	BytesReadOut      atomic.Uint64
	BytesRecorded     atomic.Uint64
	BytesSentToTransport atomic.Uint64
	PagesPendingTransport atomic.Int64
	LatencySampleCount atomic.Uint64
	LatencySampleSumNs atomic.Uint64
	FirstOrbit        atomic.Uint64
	StateCode         atomic.Int32 // see State* constants
	LastUpdateUnixNano atomic.Int64

	// Error/drop counters, one per stream-validation reason.
	InvalidRDH          atomic.Uint64
	LinkIDInconsistent  atomic.Uint64
	TimeframeDiscontinuity atomic.Uint64
	OrbitOutOfRange     atomic.Uint64
	PoolExhausted       atomic.Uint64
	Dropped             atomic.Uint64
}

// State codes for StateCode, represented here
// as a small integer code rather than a string so it fits the
// fixed-offset wire layout without a variable-length field).
const (
	StateIdle int32 = iota
	StateRunning
	StateStopping
	StateError
)

// New creates a Counters block with LastUpdateUnixNano initialized.
func New() *Counters {
	c := &Counters{}
	c.LastUpdateUnixNano.Store(time.Now().UnixNano())
	c.StateCode.Store(StateIdle)
	return c
}

// Touch stamps the monotonic update timestamp; called after any counter
// mutation that should be visible to a freshness check.
func (c *Counters) Touch(now time.Time) {
	c.LastUpdateUnixNano.Store(now.UnixNano())
}

// RecordLatency folds one latency sample into the running sum/count used
// to compute an average on publish.
func (c *Counters) RecordLatency(d time.Duration) {
	c.LatencySampleCount.Add(1)
	c.LatencySampleSumNs.Add(uint64(d.Nanoseconds()))
}

// AverageLatency returns the mean latency across all recorded samples.
func (c *Counters) AverageLatency() time.Duration {
	n := c.LatencySampleCount.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(c.LatencySampleSumNs.Load() / n)
}

// wireLayoutSize is the byte size of the fixed-offset datagram payload
// produced by Encode.
const wireLayoutSize = 8*10 + 4 + 8

// Encode serializes the counters into the fixed-offset plain-data
// datagram layout, little-endian: Subtimeframes, BytesReadOut,
// BytesRecorded, BytesSentToTransport, PagesPendingTransport,
// LatencySampleCount, LatencySampleSumNs, FirstOrbit, Dropped and
// PoolExhausted as 8 bytes each, then StateCode (4 bytes) and
// LastUpdateUnixNano (8 bytes). Counters not listed here are not encoded.
func (c *Counters) Encode() []byte {
	buf := make([]byte, wireLayoutSize)
	o := 0
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[o:o+8], v)
		o += 8
	}
	putU64(c.Subtimeframes.Load())
	putU64(c.BytesReadOut.Load())
	putU64(c.BytesRecorded.Load())
	putU64(c.BytesSentToTransport.Load())
	putU64(uint64(c.PagesPendingTransport.Load()))
	putU64(c.LatencySampleCount.Load())
	putU64(c.LatencySampleSumNs.Load())
	putU64(c.FirstOrbit.Load())
	putU64(c.Dropped.Load())
	putU64(c.PoolExhausted.Load())
	binary.LittleEndian.PutUint32(buf[o:o+4], uint32(c.StateCode.Load()))
	o += 4
	binary.LittleEndian.PutUint64(buf[o:o+8], uint64(c.LastUpdateUnixNano.Load()))
	return buf
}
