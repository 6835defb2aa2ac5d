// Package bank implements the Memory Bank and Bank Manager:
// one contiguous, optionally huge-page-backed region with a base pointer,
// size, and description, and a process-wide registry that carves named,
// aligned sub-ranges for pools.
package bank

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Kind identifies how a Bank's backing memory was obtained.
type Kind int

const (
	// KindMalloc backs the bank with a plain heap allocation.
	KindMalloc Kind = iota
	// KindHugepage backs the bank with an anonymous huge-page mapping,
	// using MAP_PRIVATE|MAP_ANONYMOUS|MAP_POPULATE for low-fault-overhead
	// buffers.
	KindHugepage
)

func (k Kind) String() string {
	if k == KindHugepage {
		return "hugepage"
	}
	return "malloc"
}

// Bank is an immutable contiguous memory region: base pointer, size,
// backing kind, and description. Lifetime is bound to the process or to
// explicit teardown via Close.
type Bank struct {
	name        string
	description string
	kind        Kind
	data        []byte
	release     func()
	closed      bool
}

// Name returns the bank's registered name.
func (b *Bank) Name() string { return b.name }

// Description returns the bank's human-readable description.
func (b *Bank) Description() string { return b.description }

// Kind returns the bank's backing kind.
func (b *Bank) Kind() Kind { return b.kind }

// Size returns the bank's total size in bytes.
func (b *Bank) Size() int64 { return int64(len(b.data)) }

// Bytes returns the bank's backing storage. Callers must not reslice
// beyond the returned length.
func (b *Bank) Bytes() []byte { return b.data }

// Close releases the bank's backing memory via its registered callback.
// Safe to call multiple times.
func (b *Bank) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.release != nil {
		b.release()
	}
	return nil
}

// New creates a malloc-backed bank of the given size.
func New(name, description string, size int64) (*Bank, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bank %q: invalid size %d", name, size)
	}
	return &Bank{
		name:        name,
		description: description,
		kind:        KindMalloc,
		data:        make([]byte, size),
	}, nil
}

// NewHugepage creates a bank backed by an anonymous mmap mapping,
// requesting huge pages where the kernel supports it: MAP_PRIVATE|
// MAP_ANONYMOUS for user-owned buffers, with MAP_HUGETLB added when
// available and MAP_POPULATE to avoid first-touch page faults on the
// data path.
func NewHugepage(name, description string, size int64) (*Bank, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bank %q: invalid size %d", name, size)
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_POPULATE | unix.MAP_HUGETLB
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		// Huge pages may not be configured on this host; fall back to a
		// regular anonymous mapping rather than failing the bank outright.
		flags = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_POPULATE
		data, err = unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, flags)
		if err != nil {
			return nil, fmt.Errorf("bank %q: mmap: %w", name, err)
		}
	}
	return &Bank{
		name:        name,
		description: description,
		kind:        KindHugepage,
		data:        data,
		release:     func() { _ = unix.Munmap(data) },
	}, nil
}

// usedRange records a reserved, non-overlapping byte range within a bank.
type usedRange struct {
	offset int64
	size   int64
}

// entry tracks one registered bank plus its allocated sub-ranges.
type entry struct {
	bank   *Bank
	used   []usedRange
	maxOff int64
}

// Manager is the process-wide registry of banks: it stores a
// list of (name, bank, in-use ranges) and carves named, aligned
// sub-ranges for pools under a single mutex, touched only at pool
// creation/destruction and never on the data path.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	first   string // name of the first-registered bank, used as the default
}

// NewManager creates an empty bank registry.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Register adds a bank to the registry under its own name.
func (m *Manager) Register(b *Bank) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[b.name] = &entry{bank: b}
	if m.first == "" {
		m.first = b.name
	}
}

// Range describes a carved-out sub-range of a bank, returned to a pool.
type Range struct {
	Bank   *Bank
	Offset int64
	Size   int64
}

// Bytes returns the byte slice for this range.
func (r Range) Bytes() []byte {
	return r.Bank.data[r.Offset : r.Offset+r.Size]
}

// Reserve carves an aligned sub-range of (n+1)*pageSize bytes (the extra
// page is the alignment tolerance) from the named
// bank, or the first registered bank if name is empty. Returns
// ErrNoSuchBank / ErrOutOfSpace equivalents via the wrapped error values.
func (m *Manager) Reserve(name string, leadingOffset int64, align int64, pageSize int64, n int) (Range, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = m.first
	}
	e, ok := m.entries[name]
	if !ok {
		return Range{}, fmt.Errorf("bank manager: no such bank %q: %w", name, ErrNoSuchBank)
	}

	off := e.maxOff
	if leadingOffset > off {
		off = leadingOffset
	}
	if align > 1 {
		base := int64(0) // base address is unknown for plain []byte, align within the bank
		for (base+off)%align != 0 {
			off++
		}
	}

	size := int64(n+1) * pageSize
	if off+size > e.bank.Size() {
		return Range{}, fmt.Errorf("bank manager: bank %q: %w", name, ErrOutOfSpace)
	}

	e.used = append(e.used, usedRange{offset: off, size: size})
	e.maxOff = off + size

	return Range{Bank: e.bank, Offset: off, Size: size}, nil
}

// Bank looks up a registered bank by name.
func (m *Manager) Bank(name string) (*Bank, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.bank, true
}

// Close releases every registered bank.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		_ = e.bank.Close()
	}
	m.entries = make(map[string]*entry)
	return nil
}

// Sentinel errors surfaced to callers (NoSuchBank, OutOfSpace).
var (
	ErrNoSuchBank = fmt.Errorf("no such bank")
	ErrOutOfSpace = fmt.Errorf("not enough space")
)
