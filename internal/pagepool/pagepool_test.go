package pagepool

import (
	"testing"

	"github.com/alice-fair/readout/internal/block"
)

func newTestPool(t *testing.T, pageSize, pageCount int) *Pool {
	t.Helper()
	data := make([]byte, pageSize*pageCount)
	p, err := New(Config{Name: "test", Data: data, PageSize: pageSize, PageCount: pageCount})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewPage_ExhaustsFreeList(t *testing.T) {
	p := newTestPool(t, 4096, 2)

	p1, ok := p.NewPage()
	if !ok {
		t.Fatal("expected page 1")
	}
	p2, ok := p.NewPage()
	if !ok {
		t.Fatal("expected page 2")
	}
	if _, ok := p.NewPage(); ok {
		t.Fatal("expected pool exhausted")
	}
	if p.InFlight() != 2 {
		t.Errorf("InFlight = %d, want 2", p.InFlight())
	}

	if err := p.ReleasePage(p1); err != nil {
		t.Fatalf("ReleasePage p1: %v", err)
	}
	if _, ok := p.NewPage(); !ok {
		t.Fatal("expected a page to be available after release")
	}
	_ = p2
}

func TestReleasePage_DoubleReleaseRejected(t *testing.T) {
	p := newTestPool(t, 4096, 1)
	pg, _ := p.NewPage()
	if err := p.ReleasePage(pg); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := p.ReleasePage(pg); err == nil {
		t.Fatal("expected error on double release")
	}
}

func TestReleasePage_ForeignPageRejected(t *testing.T) {
	p1 := newTestPool(t, 4096, 1)
	p2 := newTestPool(t, 4096, 1)
	pg, _ := p1.NewPage()
	if err := p2.ReleasePage(pg); err == nil {
		t.Fatal("expected error releasing a page into the wrong pool")
	}
}

func TestValidAddr_RejectsAddressesOffStride(t *testing.T) {
	p := newTestPool(t, 4096, 4)
	pg, _ := p.NewPage()
	addr := pg.Addr()
	if !p.ValidAddr(addr) {
		t.Fatal("expected page base address to be valid")
	}
	if p.ValidAddr(addr + 1) {
		t.Fatal("expected mid-page address to be invalid")
	}
	if p.ValidAddr(addr - 1) {
		t.Fatal("expected address before the bank to be invalid")
	}
}

func TestReleaseByAddr_RoundTrips(t *testing.T) {
	p := newTestPool(t, 4096, 2)
	pg, _ := p.NewPage()
	addr := pg.Addr()
	if err := p.ReleaseByAddr(addr); err != nil {
		t.Fatalf("ReleaseByAddr: %v", err)
	}
	if p.Free() != 2 {
		t.Errorf("Free = %d, want 2", p.Free())
	}
}

func TestUsageWarning_Hysteresis(t *testing.T) {
	p := newTestPool(t, 4096, 10)
	p.warnHigh = 0.8
	p.okLow = 0.5

	pages := make([]*Page, 0, 9)
	for i := 0; i < 9; i++ {
		pg, ok := p.NewPage()
		if !ok {
			t.Fatalf("NewPage %d: exhausted early", i)
		}
		pages = append(pages, pg)
	}
	if !p.UsageWarning() {
		t.Fatal("expected warning at 90% usage")
	}
	for i := 0; i < 6; i++ {
		if err := p.ReleasePage(pages[i]); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if p.UsageWarning() {
		t.Fatal("expected warning to clear once usage drops below the ok watermark")
	}
}

func TestRef_ReleaseOnLastClone(t *testing.T) {
	p := newTestPool(t, 4096, 1)
	pg, _ := p.NewPage()
	ref, ok := p.NewDataBlock(pg)
	if !ok {
		t.Fatal("NewDataBlock failed")
	}
	clone := ref.Clone()
	if err := ref.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if p.Free() != 0 {
		t.Fatal("page should still be held by the clone")
	}
	if err := clone.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if p.Free() != 1 {
		t.Fatal("page should be back on the free list")
	}
}

func TestNewDataBlock_WritesDefaultHeader(t *testing.T) {
	p := newTestPool(t, 4096, 1)
	ref, ok := p.NewDataBlock(nil)
	if !ok {
		t.Fatal("NewDataBlock failed")
	}
	h := ref.Page().Header()
	if len(h) == 0 {
		t.Fatal("expected non-empty header region")
	}
	if got := block.Decode(h); got != block.Default() {
		t.Errorf("header = %+v, want default %+v", got, block.Default())
	}
}

func TestSetStateAndStateOf(t *testing.T) {
	p := newTestPool(t, 4096, 1)
	pg, _ := p.NewPage()
	p.SetState(pg, StateInEquipment)
	if got := p.StateOf(pg); got != StateInEquipment {
		t.Errorf("StateOf = %v, want %v", got, StateInEquipment)
	}
}
