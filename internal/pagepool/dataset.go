package pagepool

import "github.com/alice-fair/readout/internal/block"

// DataSet is an ordered sequence of page references belonging to one
// slice of one source. Ownership of the
// constituent pages is shared between the data set and any other live
// Ref clones.
type DataSet struct {
	Key   block.SliceKey
	TFID  uint32
	Pages []Ref
}

// EndOfTimeframe reports the header's flag on the data set's last page,
// used by the timeframe builder: endOfTimeframe appears on exactly one
// block per emitted timeframe.
func (ds DataSet) EndOfTimeframe() bool {
	if len(ds.Pages) == 0 {
		return false
	}
	h := block.Decode(ds.Pages[len(ds.Pages)-1].Page().Header())
	return h.EndOfTimeframe
}
