// Package equipment implements the Equipment producer:
// one dedicated loop per data source that owns a page pool, drives a
// Source, validates and stamps each produced block, and emits it on its
// output queue.
package equipment

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/logging"
	"github.com/alice-fair/readout/internal/loop"
	"github.com/alice-fair/readout/internal/pagepool"
	"github.com/alice-fair/readout/internal/rate"
	"github.com/alice-fair/readout/internal/sink"
	"github.com/alice-fair/readout/internal/source"
	"github.com/alice-fair/readout/internal/stats"
	"github.com/alice-fair/readout/internal/tfclock"
)

// Config configures an Equipment.
type Config struct {
	Name        string
	EquipmentID uint16
	RunNumber   uint32

	Pool            *pagepool.Pool
	Source          source.Source
	OutputQueueSize int // defaults to the pool's page count

	Clock      *tfclock.Clock
	TFRateLimit *rate.Regulator // admission gate for new timeframes; nil disables it

	RDHCheckEnabled bool
	// ErrorSink, if set, persists up to ErrorSinkMax offending pages
	// offending pages for later inspection.
	ErrorSink    sink.Sink
	ErrorSinkMax int

	// DropEmptyHeartbeat reports whether a block should be silently
	// dropped instead of emitted.
	DropEmptyHeartbeat func(block.Header) bool

	StopOnError bool
	IdleSleep   time.Duration

	// CPUAffinity, if non-empty, pins the producer loop's goroutine to
	// one CPU, chosen round-robin by EquipmentID. Nil disables pinning.
	CPUAffinity []int

	Stats  *stats.Counters
	Logger *logging.Logger
}

// Equipment is one producer (C4).
type Equipment struct {
	cfg    Config
	output chan pagepool.Ref
	loop   *loop.Loop

	mu     sync.Mutex
	taking bool
	parked *pagepool.Ref

	blockID        atomic.Uint64
	lastSeenTF     uint32
	outputFull     atomic.Uint64
	poolExhausted  atomic.Uint64
	rdhCheckErr    atomic.Uint64
	droppedBlocks  atomic.Uint64
	savedErrorPages atomic.Uint64
	stopRequested  atomic.Bool

	linkBytesMu sync.Mutex
	linkBytes   map[uint8]uint64

	rdhToken *logging.Token
}

// New creates an Equipment. The caller is responsible for having
// already registered cfg.Pool with the Bank Manager.
func New(cfg Config) *Equipment {
	if cfg.OutputQueueSize <= 0 {
		cfg.OutputQueueSize = cfg.Pool.PageCount()
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Millisecond
	}
	e := &Equipment{
		cfg:       cfg,
		output:    make(chan pagepool.Ref, cfg.OutputQueueSize),
		linkBytes: make(map[uint8]uint64),
		rdhToken:  logging.NewToken(5 * time.Second),
	}
	e.loop = loop.New(loop.Config{
		Step:      e.step,
		IdleSleep: cfg.IdleSleep,
		OnStart:   e.pinToCPU,
	})
	return e
}

// pinToCPU does nothing when cfg.CPUAffinity is empty. Otherwise it
// locks the calling goroutine to its OS thread and pins that thread to
// one CPU chosen round-robin by EquipmentID. A failed affinity call is logged and
// otherwise ignored: the producer still runs, just without pinning.
func (e *Equipment) pinToCPU() {
	if len(e.cfg.CPUAffinity) == 0 {
		return
	}
	runtime.LockOSThread()
	cpu := e.cfg.CPUAffinity[int(e.cfg.EquipmentID)%len(e.cfg.CPUAffinity)]
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil && e.cfg.Logger != nil {
		e.cfg.Logger.Warnf("equipment %s: failed to set CPU affinity to %d: %v", e.cfg.Name, cpu, err)
	}
}

// Output returns the equipment's output queue, read by the Aggregator.
func (e *Equipment) Output() <-chan pagepool.Ref { return e.output }

// Start starts taking data and launches the controlled loop.
func (e *Equipment) Start() error {
	e.mu.Lock()
	e.taking = true
	e.mu.Unlock()
	if err := e.cfg.Source.Start(); err != nil {
		return err
	}
	if e.cfg.ErrorSink != nil {
		if err := e.cfg.ErrorSink.Start(); err != nil {
			return err
		}
	}
	if e.cfg.Clock != nil && e.cfg.Clock.SoftwareClockEnabled() {
		e.cfg.Clock.StartSoftwareClock(time.Now())
	}
	e.loop.Start()
	return nil
}

// Stop stops taking new data, drains the loop, stops the source, and
// reports final totals.
func (e *Equipment) Stop() {
	e.mu.Lock()
	e.taking = false
	e.mu.Unlock()
	e.loop.Stop()
	_ = e.cfg.Source.Stop()
	if e.cfg.ErrorSink != nil {
		_ = e.cfg.ErrorSink.Stop()
	}
	if e.cfg.Logger != nil {
		e.cfg.Logger.Infof("equipment %s stopped: blocks=%d outputFull=%d poolExhausted=%d rdhErr=%d dropped=%d",
			e.cfg.Name, e.blockID.Load(), e.outputFull.Load(), e.poolExhausted.Load(), e.rdhCheckErr.Load(), e.droppedBlocks.Load())
	}
}

// StopRequested reports whether an RDH validation failure asked for a
// run stop (only set when cfg.StopOnError is true).
func (e *Equipment) StopRequested() bool { return e.stopRequested.Load() }

// step is the producer step: acquire a page, drive the source, validate
// and stamp the block, then enqueue it.
func (e *Equipment) step(ctx context.Context) (loop.Result, error) {
	e.mu.Lock()
	taking := e.taking
	e.mu.Unlock()
	if !taking {
		return loop.Idle, nil
	}

	if len(e.output) >= cap(e.output) {
		e.outputFull.Add(1)
		return loop.Idle, nil
	}

	ref, ok := e.nextBlock()
	if !ok {
		return loop.Idle, nil
	}

	h := block.Decode(ref.Page().Header())

	if e.cfg.RDHCheckEnabled && h.IsRDHFormat {
		if !e.validateRDH(h) {
			e.rdhCheckErr.Add(1)
			if e.cfg.Stats != nil {
				e.cfg.Stats.InvalidRDH.Add(1)
			}
			e.persistErrorPage(ref)
			if e.cfg.StopOnError {
				e.stopRequested.Store(true)
			}
			return loop.Ok, nil
		}
	}

	if e.cfg.Clock != nil && block.IsUndefinedTimeframe(h.TimeframeID) {
		if h.IsRDHFormat {
			h.TimeframeID = e.cfg.Clock.TFFromOrbit(h.FirstOrbit)
		} else if e.cfg.Clock.SoftwareClockEnabled() {
			h.TimeframeID = e.cfg.Clock.SoftwareTF(time.Now())
		}
	}
	h.EquipmentID = e.cfg.EquipmentID
	h.BlockID = e.blockID.Add(1) - 1
	h.RunNumber = e.cfg.RunNumber
	block.Encode(ref.Page().Header(), h)

	if e.cfg.DropEmptyHeartbeat != nil && e.cfg.DropEmptyHeartbeat(h) {
		e.droppedBlocks.Add(1)
		_ = ref.Release()
		return loop.Ok, nil
	}

	if h.TimeframeID > e.lastSeenTF {
		if e.cfg.TFRateLimit != nil && !e.cfg.TFRateLimit.Allow(time.Now()) {
			e.mu.Lock()
			e.parked = &ref
			e.mu.Unlock()
			return loop.Idle, nil
		}
		e.lastSeenTF = h.TimeframeID
	}

	select {
	case e.output <- ref:
		e.addLinkBytes(h.LinkID, uint64(h.PayloadSize))
		if e.cfg.Stats != nil {
			e.cfg.Stats.BytesReadOut.Add(uint64(h.PayloadSize))
			e.cfg.Stats.Touch(time.Now())
		}
		return loop.Ok, nil
	default:
		e.outputFull.Add(1)
		e.mu.Lock()
		e.parked = &ref
		e.mu.Unlock()
		return loop.Idle, nil
	}
}

// nextBlock returns a parked block from a previous throttled iteration,
// or pulls a fresh one from the pool and source.
func (e *Equipment) nextBlock() (pagepool.Ref, bool) {
	e.mu.Lock()
	if e.parked != nil {
		ref := *e.parked
		e.parked = nil
		e.mu.Unlock()
		return ref, true
	}
	e.mu.Unlock()

	pg, ok := e.cfg.Pool.NewPage()
	if !ok {
		e.poolExhausted.Add(1)
		if e.cfg.Stats != nil {
			e.cfg.Stats.PoolExhausted.Add(1)
		}
		return pagepool.Ref{}, false
	}
	ref, ok := e.cfg.Pool.NewDataBlock(pg)
	if !ok {
		return pagepool.Ref{}, false
	}

	e.cfg.Source.PushFreePage(pg)
	_, n, ok := e.cfg.Source.PollReady()
	if !ok {
		// The source had nothing ready; the page stays parked with it
		// and will come back on a later PollReady, so it must not be
		// released here.
		return pagepool.Ref{}, false
	}

	h := block.Decode(ref.Page().Header())
	h.PayloadSize = uint32(n)
	block.Encode(ref.Page().Header(), h)
	return ref, true
}

// validateRDH checks the minimal RDH validity predicate the core cares
// about: link id and header size must be sane.
func (e *Equipment) validateRDH(h block.Header) bool {
	if h.LinkID != block.UndefinedID8 && h.LinkID > block.MaxValidLinkID {
		if e.cfg.Logger != nil {
			e.rdhToken.Logf(e.cfg.Logger.Warnf, "equipment %s: invalid RDH link id %d", e.cfg.Name, h.LinkID)
		}
		return false
	}
	if h.HeaderSize == 0 {
		return false
	}
	return true
}

func (e *Equipment) persistErrorPage(ref pagepool.Ref) {
	if e.cfg.ErrorSink == nil || e.savedErrorPages.Load() >= uint64(e.cfg.ErrorSinkMax) {
		_ = ref.Release()
		return
	}
	h := block.Decode(ref.Page().Header())
	if _, err := e.cfg.ErrorSink.PushBlock(ref, h); err == nil {
		e.savedErrorPages.Add(1)
	}
}

func (e *Equipment) addLinkBytes(linkID uint8, n uint64) {
	e.linkBytesMu.Lock()
	e.linkBytes[linkID] += n
	e.linkBytesMu.Unlock()
}

// LinkBytes returns a snapshot of per-link byte counters.
func (e *Equipment) LinkBytes() map[uint8]uint64 {
	e.linkBytesMu.Lock()
	defer e.linkBytesMu.Unlock()
	out := make(map[uint8]uint64, len(e.linkBytes))
	for k, v := range e.linkBytes {
		out[k] = v
	}
	return out
}

// OutputFullCount returns how many times the output queue was full.
func (e *Equipment) OutputFullCount() uint64 { return e.outputFull.Load() }

// PoolExhaustedCount returns how many times the pool had no free page.
func (e *Equipment) PoolExhaustedCount() uint64 { return e.poolExhausted.Load() }

// RDHCheckErrorCount returns how many RDH validation failures occurred.
func (e *Equipment) RDHCheckErrorCount() uint64 { return e.rdhCheckErr.Load() }

// SavedErrorPageCount returns how many offending pages were persisted.
func (e *Equipment) SavedErrorPageCount() uint64 { return e.savedErrorPages.Load() }
