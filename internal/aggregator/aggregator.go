package aggregator

import (
	"sync/atomic"
	"time"

	"github.com/alice-fair/readout/internal/logging"
	"github.com/alice-fair/readout/internal/loop"
	"github.com/alice-fair/readout/internal/pagepool"
)

// drainBatch bounds how many pages/slices are moved per step.
const drainBatch = 1024

// Input is one Equipment's output queue, as seen by the Aggregator.
type Input struct {
	Name  string
	Queue <-chan pagepool.Ref
}

// Config configures an Aggregator.
type Config struct {
	Inputs           []Input
	Output           chan<- pagepool.DataSet
	SliceTimeout     time.Duration
	EnableStfBuilding bool
	TFTimeout        time.Duration
	Logger           *logging.Logger
}

// Aggregator is the single consumer of all equipment output queues.
type Aggregator struct {
	cfg      Config
	slicers  []*Slicer
	tfBuffer *TimeframeBuffer
	rotate     int
	flush      atomic.Bool
	outputFull atomic.Uint64
	dropped    atomic.Uint64
}

// New creates an Aggregator, one Slicer per input.
func New(cfg Config) *Aggregator {
	a := &Aggregator{cfg: cfg}
	a.slicers = make([]*Slicer, len(cfg.Inputs))
	for i := range cfg.Inputs {
		a.slicers[i] = NewSlicer(cfg.SliceTimeout, cfg.Logger)
	}
	if cfg.EnableStfBuilding {
		a.tfBuffer = NewTimeframeBuffer(cfg.TFTimeout, cfg.Logger)
	}
	return a
}

// RequestFlush asks the aggregator to close every partial slice on its
// next step, used during shutdown drain.
func (a *Aggregator) RequestFlush() { a.flush.Store(true) }

// Step is one iteration of the Aggregator's controlled loop.
func (a *Aggregator) Step(now time.Time) loop.Result {
	didWork := false
	n := len(a.cfg.Inputs)
	if n == 0 {
		return loop.Idle
	}

	for i := 0; i < n; i++ {
		idx := (a.rotate + i) % n
		in := a.cfg.Inputs[idx]
		slicer := a.slicers[idx]

		drained := 0
		empty := false
	drainLoop:
		for drained < drainBatch {
			select {
			case ref, ok := <-in.Queue:
				if !ok {
					empty = true
					break drainLoop
				}
				if slicer.Ingest(ref, now) {
					didWork = true
				}
				drained++
			default:
				empty = true
				break drainLoop
			}
		}
		slicer.FlushTimedOut(now)
		if a.flush.Load() && empty {
			slicer.FlushAll()
		}

		ready := slicer.PopReady(drainBatch)
		for _, ds := range ready {
			didWork = true
			if a.tfBuffer != nil {
				a.tfBuffer.File(ds, now)
			} else if !a.pushOutput(ds) {
				a.dropDataSet(ds)
			}
		}
	}
	a.rotate = (a.rotate + 1) % n

	if a.tfBuffer != nil {
		for _, ds := range a.tfBuffer.Drain(now) {
			didWork = true
			if !a.pushOutput(ds) {
				a.dropDataSet(ds)
			}
		}
	}

	a.flush.Store(false)
	if didWork {
		return loop.Ok
	}
	return loop.Idle
}

// pushOutput attempts a non-blocking send to the output queue; on
// backpressure it counts outputFull and reports false so the caller
// can drop ds instead of blocking.
func (a *Aggregator) pushOutput(ds pagepool.DataSet) bool {
	select {
	case a.cfg.Output <- ds:
		return true
	default:
		a.outputFull.Add(1)
		return false
	}
}

// dropDataSet releases every page in ds back to its pool and counts
// the set as dropped; called when ds could not be pushed downstream
// so its pages don't leak.
func (a *Aggregator) dropDataSet(ds pagepool.DataSet) {
	for _, ref := range ds.Pages {
		_ = ref.Release()
	}
	a.dropped.Add(1)
}

// OutputFullCount returns how many times a push to the output queue
// was rejected due to backpressure.
func (a *Aggregator) OutputFullCount() uint64 { return a.outputFull.Load() }

// DroppedCount returns how many DataSets were released unsent because
// the output queue stayed full.
func (a *Aggregator) DroppedCount() uint64 { return a.dropped.Load() }
