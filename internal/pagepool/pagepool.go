// Package pagepool implements the Page Pool: a fixed-size
// page allocator over a bank sub-range with a free-list FIFO, per-page
// state tracking, and reference-counted handles whose destruction
// returns the page to the pool.
//
// The per-index state-array-plus-mutex discipline mirrors a tagged
// completion-queue state machine (tagStates []TagState, tagMutexes
// []sync.Mutex): here each page index plays the role of a tag, and its
// state machine is {Idle, Allocated, ...} instead of {InFlightFetch,
// Owned, InFlightCommit}.
package pagepool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/alice-fair/readout/internal/block"
)

// State is one of the page lifecycle states.
type State int

const (
	StateUndefined State = iota
	StateIdle
	StateAllocated
	StateInDriver
	StateInEquipment
	StateInEquipmentFifoOut
	StateInAggregator
	StateInAggregatorFifoOut
	StateInConsumer
	StateInTransport
	numStates
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAllocated:
		return "Allocated"
	case StateInDriver:
		return "InDriver"
	case StateInEquipment:
		return "InEquipment"
	case StateInEquipmentFifoOut:
		return "InEquipmentFifoOut"
	case StateInAggregator:
		return "InAggregator"
	case StateInAggregatorFifoOut:
		return "InAggregatorFifoOut"
	case StateInConsumer:
		return "InConsumer"
	case StateInTransport:
		return "InTransport"
	default:
		return "Undefined"
	}
}

// pageMeta tracks the live state and cumulative timing of one page, for
// diagnostics only and may approximate under concurrency.
type pageMeta struct {
	mu             sync.Mutex
	state          State
	lastTransition time.Time
	cumulative     [numStates]time.Duration
	getTimestamp   time.Time
	releaseTime    time.Time
}

func (m *pageMeta) transition(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if !m.lastTransition.IsZero() {
		m.cumulative[m.state] += now.Sub(m.lastTransition)
	}
	m.state = to
	m.lastTransition = now
}

func (m *pageMeta) snapshot() (State, [numStates]time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.cumulative
}

// Page is a fixed-size contiguous slice of a bank sub-range: a base
// pointer, pool-relative index, reserved header area, and payload area.
type Page struct {
	pool   *Pool
	index  int
	region []byte // full page, header prefix + payload
}

// Index returns the page's pool-relative index.
func (p *Page) Index() int { return p.index }

// Header returns the mutable header prefix of the page.
func (p *Page) Header() []byte { return p.region[:block.HeaderSizeBytes] }

// Payload returns the mutable payload area following the header.
func (p *Page) Payload() []byte { return p.region[block.HeaderSizeBytes:] }

// Addr returns the page's base address, used by the validity predicate
// and by ReleaseByAddr.
func (p *Page) Addr() uintptr { return uintptr(unsafe.Pointer(&p.region[0])) }

// Pool is a fixed-size page allocator over a bank sub-range.
type Pool struct {
	name       string
	pageSize   int
	pageCount  int
	data       []byte
	first      uintptr
	last       uintptr
	pages      []*Page
	meta       []*pageMeta
	free       chan int // free-list FIFO of available page indices
	inFlight   atomic.Int64
	warnHigh   float64 // fraction of pageCount, hysteresis "high" threshold
	okLow      float64 // fraction of pageCount, hysteresis "ok" threshold
	warnedHigh atomic.Bool
	gauge      *atomic.Int64 // optional externally-observed gauge
}

// Config configures a new Pool.
type Config struct {
	Name           string
	Data           []byte // bank sub-range bytes, must be >= (pageCount)*pageSize
	PageSize       int
	PageCount      int
	WarnHighFrac   float64 // defaults to 0.8 if zero
	RecoverOkFrac  float64 // defaults to 0.5 if zero
	ExternalGauge  *atomic.Int64
}

// New creates a Page Pool over data, with pageCount pages of pageSize
// bytes each, and fills the free-list with every page.
func New(cfg Config) (*Pool, error) {
	if cfg.PageSize <= block.HeaderSizeBytes {
		return nil, fmt.Errorf("pagepool %q: page size %d must exceed header size %d", cfg.Name, cfg.PageSize, block.HeaderSizeBytes)
	}
	if cfg.PageCount <= 0 {
		return nil, fmt.Errorf("pagepool %q: invalid page count %d", cfg.Name, cfg.PageCount)
	}
	need := cfg.PageSize * cfg.PageCount
	if len(cfg.Data) < need {
		return nil, fmt.Errorf("pagepool %q: data length %d < required %d", cfg.Name, len(cfg.Data), need)
	}
	warnHigh := cfg.WarnHighFrac
	if warnHigh <= 0 {
		warnHigh = 0.8
	}
	okLow := cfg.RecoverOkFrac
	if okLow <= 0 {
		okLow = 0.5
	}

	p := &Pool{
		name:      cfg.Name,
		pageSize:  cfg.PageSize,
		pageCount: cfg.PageCount,
		data:      cfg.Data,
		pages:     make([]*Page, cfg.PageCount),
		meta:      make([]*pageMeta, cfg.PageCount),
		free:      make(chan int, cfg.PageCount),
		warnHigh:  warnHigh,
		okLow:     okLow,
		gauge:     cfg.ExternalGauge,
	}
	p.first = uintptr(unsafe.Pointer(&cfg.Data[0]))
	p.last = p.first + uintptr((cfg.PageCount-1)*cfg.PageSize)

	for i := 0; i < cfg.PageCount; i++ {
		region := cfg.Data[i*cfg.PageSize : (i+1)*cfg.PageSize]
		p.pages[i] = &Page{pool: p, index: i, region: region}
		p.meta[i] = &pageMeta{}
		p.meta[i].transition(StateIdle)
		p.free <- i
	}
	return p, nil
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// PageSize returns the configured page size.
func (p *Pool) PageSize() int { return p.pageSize }

// PageCount returns the total number of pages.
func (p *Pool) PageCount() int { return p.pageCount }

// Free returns the number of pages currently on the free list.
func (p *Pool) Free() int { return len(p.free) }

// InFlight returns the number of pages currently allocated.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// ValidAddr reports whether addr is the base address of one of this
// pool's pages (first <= p <= last and
// (p−first) mod pageSize == 0).
func (p *Pool) ValidAddr(addr uintptr) bool {
	if addr < p.first || addr > p.last {
		return false
	}
	return (addr-p.first)%uintptr(p.pageSize) == 0
}

// NewPage pops one address from the free-list FIFO; returns (nil, false)
// when empty.
func (p *Pool) NewPage() (*Page, bool) {
	select {
	case idx := <-p.free:
		pg := p.pages[idx]
		p.meta[idx].transition(StateAllocated)
		p.meta[idx].mu.Lock()
		p.meta[idx].getTimestamp = time.Now()
		p.meta[idx].mu.Unlock()
		p.inFlight.Add(1)
		p.updateGauge()
		return pg, true
	default:
		return nil, false
	}
}

// ReleasePage validates pg against this pool and returns it to the
// free-list FIFO. Releasing a page not obtained from this pool is a
// fatal invariant violation.
func (p *Pool) ReleasePage(pg *Page) error {
	if pg == nil || pg.pool != p || pg.index < 0 || pg.index >= p.pageCount || p.pages[pg.index] != pg {
		return fmt.Errorf("pagepool %q: invalid page", p.name)
	}
	return p.releaseIndex(pg.index)
}

// ReleaseByAddr validates addr against the pool's range and stride (an
// address-based release_page) and returns the corresponding page to
// the free list. This exists alongside ReleasePage
// so the address-validity invariant (testable property 2) can be
// exercised directly against raw addresses, not just *Page handles.
func (p *Pool) ReleaseByAddr(addr uintptr) error {
	if !p.ValidAddr(addr) {
		return fmt.Errorf("pagepool %q: address %#x is not a valid page: invalid page", p.name, addr)
	}
	idx := int((addr - p.first) / uintptr(p.pageSize))
	return p.releaseIndex(idx)
}

func (p *Pool) releaseIndex(idx int) error {
	p.meta[idx].mu.Lock()
	state := p.meta[idx].state
	p.meta[idx].mu.Unlock()
	if state == StateIdle {
		return fmt.Errorf("pagepool %q: double release of page %d: invalid page", p.name, idx)
	}
	p.meta[idx].transition(StateIdle)
	p.meta[idx].mu.Lock()
	p.meta[idx].releaseTime = time.Now()
	p.meta[idx].mu.Unlock()
	p.inFlight.Add(-1)
	p.updateGauge()
	p.free <- idx
	return nil
}

// SetState records a page's lifecycle transition for diagnostics (called
// by the equipment/aggregator/consumer stages as a page moves through the
// pipeline).
func (p *Pool) SetState(pg *Page, s State) {
	p.meta[pg.index].transition(s)
}

// StateOf returns a page's current diagnostic state.
func (p *Pool) StateOf(pg *Page) State {
	s, _ := p.meta[pg.index].snapshot()
	return s
}

func (p *Pool) updateGauge() {
	usage := float64(p.inFlight.Load()) / float64(p.pageCount)
	if usage >= p.warnHigh && !p.warnedHigh.Load() {
		p.warnedHigh.Store(true)
	} else if usage < p.okLow && p.warnedHigh.Load() {
		p.warnedHigh.Store(false)
	}
	if p.gauge != nil {
		p.gauge.Store(p.inFlight.Load())
	}
}

// UsageWarning reports whether the buffer-usage gauge has crossed the
// high watermark since it last recovered below the ok watermark
// (hysteresis warning/recovery logging).
func (p *Pool) UsageWarning() bool { return p.warnedHigh.Load() }
