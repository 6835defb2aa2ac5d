package bank

import (
	"errors"
	"testing"
)

func TestManager_ReserveWithinBank(t *testing.T) {
	b, err := New("main", "test bank", 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := NewManager()
	m.Register(b)

	r, err := m.Reserve("main", 0, 64, 4096, 8)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.Size != int64(9*4096) {
		t.Errorf("Size = %d, want %d (n+1 pages)", r.Size, 9*4096)
	}
	if r.Offset%64 != 0 {
		t.Errorf("Offset %d not aligned to 64", r.Offset)
	}
}

func TestManager_ReserveNonOverlapping(t *testing.T) {
	b, _ := New("main", "", 1<<16)
	m := NewManager()
	m.Register(b)

	r1, err := m.Reserve("main", 0, 1, 1024, 4)
	if err != nil {
		t.Fatalf("Reserve 1: %v", err)
	}
	r2, err := m.Reserve("main", 0, 1, 1024, 4)
	if err != nil {
		t.Fatalf("Reserve 2: %v", err)
	}
	if r2.Offset < r1.Offset+r1.Size {
		t.Errorf("ranges overlap: r1=[%d,%d) r2 starts at %d", r1.Offset, r1.Offset+r1.Size, r2.Offset)
	}
}

func TestManager_OutOfSpace(t *testing.T) {
	b, _ := New("main", "", 1024)
	m := NewManager()
	m.Register(b)

	_, err := m.Reserve("main", 0, 1, 4096, 8)
	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("err = %v, want ErrOutOfSpace", err)
	}
}

func TestManager_NoSuchBank(t *testing.T) {
	m := NewManager()
	_, err := m.Reserve("missing", 0, 1, 4096, 1)
	if !errors.Is(err, ErrNoSuchBank) {
		t.Fatalf("err = %v, want ErrNoSuchBank", err)
	}
}

func TestManager_DefaultsToFirstRegistered(t *testing.T) {
	b, _ := New("first", "", 1<<16)
	m := NewManager()
	m.Register(b)

	r, err := m.Reserve("", 0, 1, 1024, 2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.Bank.Name() != "first" {
		t.Errorf("Bank = %q, want %q", r.Bank.Name(), "first")
	}
}
