package readout

import "time"

// Default configuration values for pipeline components. Each Config
// struct applies its own zero-value default independently; these are
// the values cmd/readout and tests fall back to when nothing more
// specific is configured.
const (
	// DefaultPageSize is the default page size in bytes when a bank's
	// page size is not configured.
	DefaultPageSize = 8192

	// DefaultPageCount is the default number of pages per pool when not
	// configured.
	DefaultPageCount = 256

	// DefaultBankSize is the default memory bank size in bytes (enough
	// for a handful of equipment pools of DefaultPageCount pages each).
	DefaultBankSize = 256 << 20 // 256 MiB

	// DefaultTFPeriodOrbits is the default number of orbits per
	// timeframe, used by the Timeframe Clock when a source does not
	// carry its own period hint.
	DefaultTFPeriodOrbits = 128

	// DefaultSliceTimeout bounds how long the aggregator's per-source
	// slicer waits for a link's next block before force-closing the
	// current slice.
	DefaultSliceTimeout = 250 * time.Millisecond

	// DefaultTFTimeout bounds how long the timeframe buffer waits for
	// all sources to contribute a sub-timeframe before emitting
	// whatever arrived.
	DefaultTFTimeout = time.Second

	// DefaultIdleSleep is the sleep a Controlled-Loop Thread takes
	// between consecutive Idle steps.
	DefaultIdleSleep = time.Millisecond

	// DefaultErrorSinkMax is the default cap on how many offending
	// pages an equipment persists to its error sink before discarding
	// the rest.
	DefaultErrorSinkMax = 64

	// DefaultStatsPublishInterval is the default period between Stats
	// Bus UDP publications.
	DefaultStatsPublishInterval = 500 * time.Millisecond
)
