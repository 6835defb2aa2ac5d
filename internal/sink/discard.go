package sink

import (
	"sync/atomic"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
)

// Discard is a Sink that accepts every block, releases its page
// reference immediately, and counts what it saw. Useful as a
// stopOnError=false terminal sink in tests and as the default consumer
// when no real sink is configured.
type Discard struct {
	Accepted atomic.Uint64
	Bytes    atomic.Uint64
}

// NewDiscard creates a Discard sink.
func NewDiscard() *Discard { return &Discard{} }

func (d *Discard) Start() error { d.Accepted.Store(0); d.Bytes.Store(0); return nil }
func (d *Discard) Stop() error  { return nil }

func (d *Discard) PushBlock(ref pagepool.Ref, h block.Header) (int, error) {
	d.Accepted.Add(1)
	d.Bytes.Add(uint64(h.PayloadSize))
	if err := ref.Release(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (d *Discard) PushSet(ds DataSet) (int, error) {
	base := Base{PushBlockFunc: d.PushBlock}
	return base.PushSet(ds)
}
