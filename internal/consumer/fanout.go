// Package consumer implements the Consumer Fan-out:
// drives the Aggregator's output through an ordered list of sinks,
// honoring per-sink filters and forward chains, and surfacing
// per-sink errors.
package consumer

import (
	"sync/atomic"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
	"github.com/alice-fair/readout/internal/sink"
)

// Filter is a per-consumer include/exclude list on link id or equipment
// id. An empty Include list matches everything not
// excluded.
type Filter struct {
	LinkIDInclude      []uint8
	LinkIDExclude      []uint8
	EquipmentIDInclude []uint16
	EquipmentIDExclude []uint16
}

func containsU8(list []uint8, v uint8) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsU16(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Match reports whether h passes the filter: a block matching an
// exclude list is filtered out first; otherwise, if an include list is
// non-empty, the block must match it.
func (f Filter) Match(h block.Header) bool {
	if containsU8(f.LinkIDExclude, h.LinkID) || containsU16(f.EquipmentIDExclude, h.EquipmentID) {
		return false
	}
	if len(f.LinkIDInclude) > 0 && !containsU8(f.LinkIDInclude, h.LinkID) {
		return false
	}
	if len(f.EquipmentIDInclude) > 0 && !containsU16(f.EquipmentIDInclude, h.EquipmentID) {
		return false
	}
	return true
}

// Entry is one consumer slot in the Fan-out's ordered list.
type Entry struct {
	Name        string
	Sink        sink.Sink
	Filter      Filter
	StopOnError bool
	// Forward, if set, receives this consumer's output data set instead
	// of (or in addition to) it being considered terminal.
	Forward *Entry

	pushed atomic.Uint64
	errors atomic.Uint64
}

// Pushed returns how many blocks this consumer has accepted.
func (e *Entry) Pushed() uint64 { return e.pushed.Load() }

// Errors returns how many push errors this consumer has seen.
func (e *Entry) Errors() uint64 { return e.errors.Load() }

// Fanout drives an Aggregator's output Data Sets through an ordered
// list of consumers.
type Fanout struct {
	entries []*Entry
}

// New creates a Fanout over entries, in the given order.
func New(entries []*Entry) *Fanout {
	return &Fanout{entries: entries}
}

// Start starts every consumer's sink, resetting its counters.
func (f *Fanout) Start() error {
	for _, e := range f.entries {
		if err := e.Sink.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every consumer's sink.
func (f *Fanout) Stop() error {
	var first error
	for _, e := range f.entries {
		if err := e.Sink.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunStopRequested reports whether any stopOnError consumer has seen a
// push error, signaling the supervisor should trigger a global stop
// so the caller can bubble the failure up to a supervisor.
func (f *Fanout) RunStopRequested() bool {
	for _, e := range f.entries {
		if e.StopOnError && e.errors.Load() > 0 {
			return true
		}
	}
	return false
}

// Dispatch pushes ds through every consumer in order, applying each
// consumer's filter per block and following forward chains. Each
// consumer (and each forward hop) receives its own Ref clone of the
// pages it keeps, since sinks release the refs they're given and two
// independent consumers must not race to release the same underlying
// page; the Fanout drops its own holding reference once every entry has
// had a chance to clone what it needs.
func (f *Fanout) Dispatch(ds pagepool.DataSet) {
	for _, e := range f.entries {
		f.dispatchOne(e, ds)
	}
	for _, ref := range ds.Pages {
		_ = ref.Release()
	}
}

func (f *Fanout) dispatchOne(e *Entry, ds pagepool.DataSet) {
	var matched []pagepool.Ref
	for _, ref := range ds.Pages {
		h := block.Decode(ref.Page().Header())
		if e.Filter.Match(h) {
			matched = append(matched, ref)
		}
	}
	if len(matched) == 0 {
		return
	}

	ownSet := pagepool.DataSet{Key: ds.Key, TFID: ds.TFID}
	for _, ref := range matched {
		ownSet.Pages = append(ownSet.Pages, ref.Clone())
	}
	n, err := e.Sink.PushSet(ownSet)
	e.pushed.Add(uint64(n))
	if err != nil {
		e.errors.Add(1)
	}

	if e.Forward != nil {
		forwardSet := pagepool.DataSet{Key: ds.Key, TFID: ds.TFID}
		for _, ref := range matched {
			forwardSet.Pages = append(forwardSet.Pages, ref.Clone())
		}
		f.dispatchOne(e.Forward, forwardSet)
		for _, ref := range forwardSet.Pages {
			_ = ref.Release()
		}
	}
}
