// Package source defines the Source (producer) contract and
// reference implementations: a synthetic generator and a file replayer.
// An Equipment drives one Source: hand it a free page, poll it for a
// filled one.
package source

import (
	"github.com/alice-fair/readout/internal/pagepool"
)

// Source is the producer-side contract an Equipment drives: a narrow
// hardware-facing interface a producer loop can drive without knowing
// which backend is behind it.
type Source interface {
	Start() error
	Stop() error
	// PushFreePage hands an empty page to the source to fill.
	PushFreePage(pg *pagepool.Page)
	// PollReady retrieves the next filled page, if any, and how many
	// payload bytes the source wrote into it.
	PollReady() (pg *pagepool.Page, bytesWritten int, ok bool)
}
