// Package aggregator implements the Aggregator: the
// per-source Slicer that groups contiguous same-timeframe pages into
// Data Sets, and the optional cross-source Timeframe Buffer that
// assembles slices from every source into one timeframe output.
package aggregator

import (
	"time"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/logging"
	"github.com/alice-fair/readout/internal/pagepool"
)

// slicerState is the Per-Source Slicer State, keyed by
// (equipment id, link id).
type slicerState struct {
	key        block.SliceKey
	open       pagepool.DataSet
	haveOpen   bool
	lastUpdate time.Time
	ready      []pagepool.DataSet
}

// Slicer groups pages arriving from one input queue into per-(equipment,
// link) Data Sets, closing a slice when the timeframe id changes, the
// "undefined" sentinel is seen, or sliceTimeout elapses.
type Slicer struct {
	states       map[block.SliceKey]*slicerState
	sliceTimeout time.Duration
	logger       *logging.Logger
	badLinkToken *logging.Token
}

// NewSlicer creates a Slicer. sliceTimeout of 0 disables the
// timeout-based partial-slice flush.
func NewSlicer(sliceTimeout time.Duration, logger *logging.Logger) *Slicer {
	return &Slicer{
		states:       make(map[block.SliceKey]*slicerState),
		sliceTimeout: sliceTimeout,
		logger:       logger,
		badLinkToken: logging.NewToken(5 * time.Second),
	}
}

// Ingest appends one arriving page to its slicer state, closing the
// previously open slice if the timeframe id changed.
// A link id above block.MaxValidLinkID is rejected outright (an
// Open Questions, tightened relative to original_source/).
func (s *Slicer) Ingest(ref pagepool.Ref, now time.Time) (accepted bool) {
	h := block.Decode(ref.Page().Header())
	if h.LinkID != block.UndefinedID8 && h.LinkID > block.MaxValidLinkID {
		if s.logger != nil {
			s.badLinkToken.Logf(s.logger.Errorf, "rejecting block with link id %d > %d", h.LinkID, block.MaxValidLinkID)
		}
		_ = ref.Release()
		return false
	}

	key := block.KeyOf(h)
	st := s.states[key]
	if st == nil {
		st = &slicerState{key: key}
		s.states[key] = st
	}

	if st.haveOpen && (st.open.TFID != h.TimeframeID || block.IsUndefinedTimeframe(h.TimeframeID)) {
		s.closeOpen(st)
	}
	if !st.haveOpen {
		st.open = pagepool.DataSet{Key: key, TFID: h.TimeframeID}
		st.haveOpen = true
	}
	st.open.Pages = append(st.open.Pages, ref)
	st.lastUpdate = now
	return true
}

func (s *Slicer) closeOpen(st *slicerState) {
	if !st.haveOpen {
		return
	}
	st.ready = append(st.ready, st.open)
	st.open = pagepool.DataSet{}
	st.haveOpen = false
}

// FlushTimedOut closes any open slice whose last update is older than
// now-sliceTimeout.
func (s *Slicer) FlushTimedOut(now time.Time) {
	if s.sliceTimeout <= 0 {
		return
	}
	for _, st := range s.states {
		if st.haveOpen && now.Sub(st.lastUpdate) >= s.sliceTimeout {
			s.closeOpen(st)
		}
	}
}

// FlushAll force-closes every currently open slice, used when the
// aggregator is asked to flush while a source's input is empty.
func (s *Slicer) FlushAll() {
	for _, st := range s.states {
		s.closeOpen(st)
	}
}

// PopReady pops up to max ready slices across all keys, oldest-first
// within each key, in map-iteration order across keys (ordering across
// require cross-key ordering at this stage; ordering within one key is
// preserved, satisfying invariant 6).
func (s *Slicer) PopReady(max int) []pagepool.DataSet {
	out := make([]pagepool.DataSet, 0, max)
	for _, st := range s.states {
		for len(st.ready) > 0 && len(out) < max {
			out = append(out, st.ready[0])
			st.ready = st.ready[1:]
		}
		if len(out) >= max {
			break
		}
	}
	return out
}
