package aggregator

import (
	"testing"
	"time"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/loop"
	"github.com/alice-fair/readout/internal/pagepool"
)

func newTestPool(t *testing.T, n int) *pagepool.Pool {
	t.Helper()
	data := make([]byte, 4096*n)
	p, err := pagepool.New(pagepool.Config{Name: "t", Data: data, PageSize: 4096, PageCount: n})
	if err != nil {
		t.Fatalf("New pool: %v", err)
	}
	return p
}

func makeRef(t *testing.T, p *pagepool.Pool, equipmentID uint16, linkID uint8, tfID uint32) pagepool.Ref {
	t.Helper()
	ref, ok := p.NewDataBlock(nil)
	if !ok {
		t.Fatal("pool exhausted")
	}
	h := block.Decode(ref.Page().Header())
	h.EquipmentID = equipmentID
	h.LinkID = linkID
	h.TimeframeID = tfID
	block.Encode(ref.Page().Header(), h)
	return ref
}

func TestSlicer_ClosesOnTimeframeChange(t *testing.T) {
	p := newTestPool(t, 4)
	s := NewSlicer(0, nil)
	now := time.Now()

	s.Ingest(makeRef(t, p, 1, 5, 1), now)
	s.Ingest(makeRef(t, p, 1, 5, 1), now)
	s.Ingest(makeRef(t, p, 1, 5, 2), now)

	ready := s.PopReady(10)
	if len(ready) != 1 {
		t.Fatalf("len(ready) = %d, want 1", len(ready))
	}
	if len(ready[0].Pages) != 2 {
		t.Errorf("closed slice has %d pages, want 2", len(ready[0].Pages))
	}
}

func TestSlicer_RejectsInvalidLinkID(t *testing.T) {
	p := newTestPool(t, 2)
	s := NewSlicer(0, nil)
	ok := s.Ingest(makeRef(t, p, 1, 40, 1), time.Now())
	if ok {
		t.Fatal("expected link id 40 to be rejected")
	}
}

func TestSlicer_TimeoutClosesPartialSlice(t *testing.T) {
	p := newTestPool(t, 2)
	s := NewSlicer(10*time.Millisecond, nil)
	start := time.Now()
	s.Ingest(makeRef(t, p, 1, 5, 1), start)

	s.FlushTimedOut(start.Add(5 * time.Millisecond))
	if len(s.PopReady(10)) != 0 {
		t.Fatal("slice should not be closed before the timeout elapses")
	}
	s.FlushTimedOut(start.Add(20 * time.Millisecond))
	if len(s.PopReady(10)) != 1 {
		t.Fatal("slice should be closed once sliceTimeout elapses")
	}
}

func TestTimeframeBuffer_EmitsInIncreasingOrder(t *testing.T) {
	p := newTestPool(t, 8)
	b := NewTimeframeBuffer(10*time.Millisecond, nil)
	start := time.Now()

	dsA := pagepool.DataSet{TFID: 2, Pages: []pagepool.Ref{makeRef(t, p, 1, 5, 2)}}
	dsB := pagepool.DataSet{TFID: 1, Pages: []pagepool.Ref{makeRef(t, p, 1, 5, 1)}}
	b.File(dsA, start)
	b.File(dsB, start)

	out := b.Drain(start.Add(20 * time.Millisecond))
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].TFID != 1 || out[1].TFID != 2 {
		t.Errorf("emitted order = [%d,%d], want [1,2]", out[0].TFID, out[1].TFID)
	}
}

func TestTimeframeBuffer_TagsEndOfTimeframeOnLastPage(t *testing.T) {
	p := newTestPool(t, 8)
	b := NewTimeframeBuffer(0, nil)
	start := time.Now()

	ds1 := pagepool.DataSet{TFID: 1, Pages: []pagepool.Ref{makeRef(t, p, 1, 5, 1)}}
	ds2 := pagepool.DataSet{TFID: 1, Pages: []pagepool.Ref{makeRef(t, p, 2, 7, 1)}}
	b.File(ds1, start)
	b.File(ds2, start)

	out := b.Drain(start)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if !out[1].EndOfTimeframe() {
		t.Error("expected the last sub-timeframe's last page to carry endOfTimeframe")
	}
	if out[0].EndOfTimeframe() {
		t.Error("only the last sub-timeframe should carry endOfTimeframe")
	}
}

func TestTimeframeBuffer_DiscardsLateArrivals(t *testing.T) {
	p := newTestPool(t, 8)
	b := NewTimeframeBuffer(0, nil)
	start := time.Now()

	b.File(pagepool.DataSet{TFID: 3, Pages: []pagepool.Ref{makeRef(t, p, 1, 5, 3)}}, start)
	b.Drain(start)

	late := pagepool.DataSet{TFID: 2, Pages: []pagepool.Ref{makeRef(t, p, 2, 7, 2)}}
	b.File(late, start)
	if len(b.entries) != 0 {
		t.Error("late timeframe should have been discarded, not buffered")
	}
}

func TestAggregator_DirectPathForwardsSlices(t *testing.T) {
	p := newTestPool(t, 4)
	in := make(chan pagepool.Ref, 4)
	out := make(chan pagepool.DataSet, 4)

	a := New(Config{
		Inputs: []Input{{Name: "eq0", Queue: in}},
		Output: out,
	})

	in <- makeRef(t, p, 1, 5, 1)
	in <- makeRef(t, p, 1, 5, 2) // closes TF 1

	if res := a.Step(time.Now()); res != loop.Ok {
		t.Errorf("Step result = %v, want Ok", res)
	}
	select {
	case ds := <-out:
		if ds.TFID != 1 {
			t.Errorf("emitted TFID = %d, want 1", ds.TFID)
		}
	default:
		t.Fatal("expected a slice on the output queue")
	}
}

func TestAggregator_FullOutputDropsAndReleasesRestOfBatch(t *testing.T) {
	p := newTestPool(t, 8)
	in0 := make(chan pagepool.Ref, 8)
	in1 := make(chan pagepool.Ref, 8)
	out := make(chan pagepool.DataSet) // unbuffered: every push blocks

	a := New(Config{
		Inputs: []Input{{Name: "eq0", Queue: in0}, {Name: "eq1", Queue: in1}},
		Output: out,
	})

	// Two inputs each close a slice this Step; neither can be pushed
	// downstream because out has no reader.
	in0 <- makeRef(t, p, 1, 5, 1)
	in0 <- makeRef(t, p, 1, 5, 2)
	in1 <- makeRef(t, p, 2, 7, 1)
	in1 <- makeRef(t, p, 2, 7, 2)

	a.Step(time.Now())

	select {
	case <-out:
		t.Fatal("expected no push to succeed against an unread output")
	default:
	}
	if a.DroppedCount() != 2 {
		t.Errorf("DroppedCount = %d, want 2 (both closed slices dropped)", a.DroppedCount())
	}
	// The two TF-1 pages come back with the dropped slices; the two TF-2
	// pages are still held by each input's open slice.
	if p.Free() != 6 {
		t.Errorf("Free = %d, want 6 (dropped slices' pages released, none leaked)", p.Free())
	}
}
