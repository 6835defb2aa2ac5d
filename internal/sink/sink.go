// Package sink defines the Sink (consumer) contract and
// reference implementations. Sinks are external collaborators the
// core keeps out of its own scope, but the core still
// needs a contract and at least one concrete implementation to drive
// and test the Consumer Fan-out against.
package sink

import (
	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
)

// DataSet is an alias for the core data model's Data Set,
// kept as a sink-local name so sink implementations don't need to name
// the pagepool package directly in their public signatures.
type DataSet = pagepool.DataSet

// Sink is the consumer-side contract. PushBlock/PushSet return
// the number of blocks successfully accepted; a failure is reported
// through a non-nil error, never through a negative count.
type Sink interface {
	Start() error
	Stop() error
	PushBlock(ref pagepool.Ref, h block.Header) (int, error)
	PushSet(ds DataSet) (int, error)
}

// Base bridges PushBlock and PushSet by iterating blocks: a Sink
// embedding Base only needs to implement PushBlock, and gets PushSet
// for free by iterating the set's pages and decoding each one's header.
//
// PushBlockFunc must release ref on every path, success or failure: it
// owns ref for the duration of the call.
type Base struct {
	PushBlockFunc func(ref pagepool.Ref, h block.Header) (int, error)
}

// PushSet pushes every page in ds through PushBlockFunc. A failure on
// one page does not stop the rest of the set from being pushed: every
// ref is handed to PushBlockFunc exactly once, so none leak. The first
// error encountered is returned alongside the count of blocks that did
// succeed.
func (b Base) PushSet(ds DataSet) (int, error) {
	n := 0
	var firstErr error
	for _, ref := range ds.Pages {
		h := block.Decode(ref.Page().Header())
		ok, err := b.PushBlockFunc(ref, h)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n += ok
	}
	return n, firstErr
}
