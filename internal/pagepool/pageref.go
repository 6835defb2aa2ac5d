package pagepool

import (
	"sync/atomic"

	"github.com/alice-fair/readout/internal/block"
)

// Ref is a shared, reference-counted handle to a Page. Cloning bumps the
// refcount; Release decrements it and returns the page to its pool once
// the last clone is released. No weak pointers are needed here: the Go
// garbage collector already tolerates the pool/page/ref reference cycle.
type Ref struct {
	page  *Page
	count *atomic.Int32
}

// newRef wraps pg in a fresh, singly-owned Ref.
func newRef(pg *Page) Ref {
	c := &atomic.Int32{}
	c.Store(1)
	return Ref{page: pg, count: c}
}

// Page returns the underlying page. Valid only while the Ref (or a
// clone of it) has not yet been released.
func (r Ref) Page() *Page { return r.page }

// Clone returns a second handle to the same page, incrementing the
// shared refcount. Both handles must be released independently.
func (r Ref) Clone() Ref {
	r.count.Add(1)
	return r
}

// Release decrements the shared refcount and, if this was the last
// outstanding handle, returns the page to its pool.
func (r Ref) Release() error {
	if r.count.Add(-1) == 0 {
		return r.page.pool.ReleasePage(r.page)
	}
	return nil
}

// NewDataBlock allocates a page (or adopts one already reserved by the
// caller), writes a default Data Block Header into its reserved prefix,
// and wraps it in a Ref.
func (p *Pool) NewDataBlock(reserved *Page) (Ref, bool) {
	pg := reserved
	if pg == nil {
		var ok bool
		pg, ok = p.NewPage()
		if !ok {
			return Ref{}, false
		}
	}
	h := block.Default()
	block.Encode(pg.Header(), h)
	return newRef(pg), true
}
