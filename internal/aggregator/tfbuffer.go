package aggregator

import (
	"sort"
	"time"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/logging"
	"github.com/alice-fair/readout/internal/pagepool"
)

// tfEntry is a Timeframe Buffer Entry: the sub-timeframe sets
// collected so far for one timeframe id, in arrival order.
type tfEntry struct {
	tfID       uint32
	sets       []pagepool.DataSet
	lastUpdate time.Time
}

// TimeframeBuffer assembles per-source slices sharing a timeframe id
// into one emitted timeframe.
type TimeframeBuffer struct {
	tfTimeout          time.Duration
	entries            map[uint32]*tfEntry
	lastEmitted        uint32
	expectedSources    int
	sourcesLatched     bool
	logger             *logging.Logger
	lateToken          *logging.Token
}

// NewTimeframeBuffer creates a TimeframeBuffer.
func NewTimeframeBuffer(tfTimeout time.Duration, logger *logging.Logger) *TimeframeBuffer {
	return &TimeframeBuffer{
		tfTimeout: tfTimeout,
		entries:   make(map[uint32]*tfEntry),
		logger:    logger,
		lateToken: logging.NewToken(5 * time.Second),
	}
}

// File adds a completed slice to its timeframe's entry, or discards it
// with a logged warning if its timeframe id is already emitted.
func (b *TimeframeBuffer) File(ds pagepool.DataSet, now time.Time) {
	if ds.TFID <= b.lastEmitted && b.lastEmitted > 0 {
		if b.logger != nil {
			b.lateToken.Logf(b.logger.Warnf, "discarding late sub-timeframe: tf=%d already emitted up to %d", ds.TFID, b.lastEmitted)
		}
		for _, ref := range ds.Pages {
			_ = ref.Release()
		}
		return
	}
	e := b.entries[ds.TFID]
	if e == nil {
		e = &tfEntry{tfID: ds.TFID}
		b.entries[ds.TFID] = e
	}
	e.sets = append(e.sets, ds)
	e.lastUpdate = now
}

// Drain emits every entry whose age since last update is ≥ tfTimeout,
// in strictly increasing timeframe-id order, tagging the last page of
// the last sub-timeframe with endOfTimeframe (timeframe
// buffer path", invariant 9).
func (b *TimeframeBuffer) Drain(now time.Time) []pagepool.DataSet {
	ids := make([]uint32, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []pagepool.DataSet
	for _, id := range ids {
		e := b.entries[id]
		if now.Sub(e.lastUpdate) < b.tfTimeout {
			continue
		}
		if !b.sourcesLatched {
			b.expectedSources = len(e.sets)
			b.sourcesLatched = true
		}
		tagEndOfTimeframe(e.sets)
		out = append(out, e.sets...)
		b.lastEmitted = id
		delete(b.entries, id)
	}
	return out
}

func tagEndOfTimeframe(sets []pagepool.DataSet) {
	for i := len(sets) - 1; i >= 0; i-- {
		s := sets[i]
		if len(s.Pages) == 0 {
			continue
		}
		last := s.Pages[len(s.Pages)-1].Page()
		h := block.Decode(last.Header())
		h.EndOfTimeframe = true
		block.Encode(last.Header(), h)
		return
	}
}

// LastEmitted returns the highest timeframe id emitted so far.
func (b *TimeframeBuffer) LastEmitted() uint32 { return b.lastEmitted }

// ExpectedSources returns the number of sources observed in the first
// completed timeframe: that count becomes the expected number of
// sources for every later timeframe.
func (b *TimeframeBuffer) ExpectedSources() int { return b.expectedSources }
