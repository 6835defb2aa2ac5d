package source

import (
	"os"
	"testing"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
)

func newTestPage(t *testing.T, size int) *pagepool.Page {
	t.Helper()
	pool, err := pagepool.New(pagepool.Config{
		Name:      "t",
		Data:      make([]byte, size),
		PageSize:  size,
		PageCount: 1,
	})
	if err != nil {
		t.Fatalf("New pool: %v", err)
	}
	pg, ok := pool.NewPage()
	if !ok {
		t.Fatalf("NewPage: pool exhausted")
	}
	return pg
}

func TestGenerator_PollReadyStampsBlock(t *testing.T) {
	g := NewGenerator(GeneratorConfig{LinkID: 3, EquipmentID: 7, OrbitRate: 11245.6, PayloadSize: 32})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	if _, _, ok := g.PollReady(); ok {
		t.Fatalf("PollReady with no free page: got ok=true, want false")
	}

	pg := newTestPage(t, 256)
	g.PushFreePage(pg)

	got, n, ok := g.PollReady()
	if !ok {
		t.Fatalf("PollReady after PushFreePage: got ok=false")
	}
	if got != pg {
		t.Fatalf("PollReady returned a different page than was pushed")
	}
	if n != 32 {
		t.Fatalf("PollReady bytesWritten = %d, want 32", n)
	}

	h := block.Decode(pg.Header())
	if h.LinkID != 3 || h.EquipmentID != 7 || h.PayloadSize != 32 {
		t.Fatalf("PollReady did not stamp header: %+v", h)
	}
	if !h.IsRDHFormat {
		t.Error("PollReady should mark generated blocks as RDH-format")
	}
	if h.FirstOrbit != g.Orbit() || h.LastOrbit != g.Orbit() {
		t.Errorf("PollReady stamped FirstOrbit=%d LastOrbit=%d, want both = current orbit %d", h.FirstOrbit, h.LastOrbit, g.Orbit())
	}
}

func TestGenerator_OrbitAdvancesAcrossPolls(t *testing.T) {
	g := NewGenerator(GeneratorConfig{OrbitRate: 1e9, PayloadSize: 8})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pg1 := newTestPage(t, 64)
	g.PushFreePage(pg1)
	if _, _, ok := g.PollReady(); !ok {
		t.Fatalf("PollReady: got ok=false")
	}
	first := block.Decode(pg1.Header()).FirstOrbit

	pg2 := newTestPage(t, 64)
	g.PushFreePage(pg2)
	if _, _, ok := g.PollReady(); !ok {
		t.Fatalf("PollReady: got ok=false")
	}
	second := block.Decode(pg2.Header()).FirstOrbit

	if second < first {
		t.Errorf("orbit went backwards across polls: first=%d second=%d", first, second)
	}
}

func TestGenerator_PollReadyTruncatesOversizedPayload(t *testing.T) {
	g := NewGenerator(GeneratorConfig{PayloadSize: 1 << 20})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pg := newTestPage(t, 64)
	g.PushFreePage(pg)

	_, n, ok := g.PollReady()
	if !ok {
		t.Fatalf("PollReady: got ok=false")
	}
	if n != len(pg.Payload()) {
		t.Fatalf("PollReady n = %d, want payload capacity %d", n, len(pg.Payload()))
	}
}

func TestFile_ReplaysWrittenBlocksThenEOF(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "readout-source-file-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()

	h := block.Default()
	h.PayloadSize = 4
	headerBuf := make([]byte, block.HeaderSizeBytes)
	block.Encode(headerBuf, h)
	if _, err := f.Write(headerBuf); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	f.Close()

	src := NewFile(FileConfig{Path: path})
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	pg := newTestPage(t, 256)
	src.PushFreePage(pg)

	_, n, ok := src.PollReady()
	if !ok {
		t.Fatalf("PollReady: got ok=false, want a replayed block")
	}
	if n != 4 {
		t.Fatalf("PollReady n = %d, want %d (payload bytes)", n, 4)
	}

	pg2 := newTestPage(t, 256)
	src.PushFreePage(pg2)
	if _, _, ok := src.PollReady(); ok {
		t.Fatalf("PollReady past end of file: got ok=true, want false")
	}
}

func TestFile_StartMissingFileFails(t *testing.T) {
	src := NewFile(FileConfig{Path: "/nonexistent/readout-source-file"})
	if err := src.Start(); err == nil {
		t.Fatalf("Start on missing file: got nil error")
	}
}
