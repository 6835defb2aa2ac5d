package source

import (
	"sync"
	"time"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
)

// GeneratorConfig configures a synthetic Generator source.
type GeneratorConfig struct {
	LinkID      uint8
	EquipmentID uint16
	// OrbitRate is orbits per second, used to derive an orbit counter
	// from elapsed wall-clock time when no real DMA orbit is available.
	OrbitRate float64
	// PayloadSize is how many payload bytes each generated block carries.
	PayloadSize int
}

// Generator is a reference Source that fabricates pages at a steady
// simulated orbit rate, for development and end-to-end scenarios that
// run without real hardware: a flat in-memory backend fabricated
// purely in Go, with no kernel/device dependency.
type Generator struct {
	cfg   GeneratorConfig
	mu    sync.Mutex
	free  []*pagepool.Page
	start time.Time
	orbit uint32
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	return &Generator{cfg: cfg}
}

func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.start = time.Now()
	g.orbit = 0
	return nil
}

func (g *Generator) Stop() error { return nil }

func (g *Generator) PushFreePage(pg *pagepool.Page) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.free = append(g.free, pg)
}

func (g *Generator) PollReady() (*pagepool.Page, int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.free) == 0 {
		return nil, 0, false
	}
	pg := g.free[0]
	g.free = g.free[1:]

	elapsed := time.Since(g.start).Seconds()
	g.orbit = uint32(elapsed * g.cfg.OrbitRate)

	h := block.Default()
	h.BlockType = block.TypeRaw
	h.HeaderSize = uint16(block.HeaderSizeBytes)
	h.EquipmentID = g.cfg.EquipmentID
	h.LinkID = g.cfg.LinkID
	h.PayloadSize = uint32(g.cfg.PayloadSize)
	h.IsRDHFormat = true
	h.FirstOrbit = g.orbit
	h.LastOrbit = g.orbit
	block.Encode(pg.Header(), h)

	n := g.cfg.PayloadSize
	payload := pg.Payload()
	if n > len(payload) {
		n = len(payload)
	}
	return pg, n, true
}

// Orbit returns the generator's current simulated orbit counter.
func (g *Generator) Orbit() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orbit
}
