package sink

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
)

// FileConfig configures a File sink.
type FileConfig struct {
	Path string
}

// File is a reference Sink that appends every block's raw header and
// payload to a single file. It writes no file-level header of its own.
type File struct {
	cfg      FileConfig
	mu       sync.Mutex
	f        *os.File
	Accepted atomic.Uint64
	Errors   atomic.Uint64
}

// NewFile creates a File sink. The backing file is opened on Start.
func NewFile(cfg FileConfig) *File {
	return &File{cfg: cfg}
}

func (s *File) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	s.f = f
	s.Accepted.Store(0)
	s.Errors.Store(0)
	return nil
}

func (s *File) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *File) PushBlock(ref pagepool.Ref, h block.Header) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		_ = ref.Release()
		return 0, fmt.Errorf("file sink: not started")
	}
	if _, err := s.f.Write(ref.Page().Header()); err != nil {
		s.Errors.Add(1)
		_ = ref.Release()
		return 0, err
	}
	n := int(h.PayloadSize)
	payload := ref.Page().Payload()
	if n > len(payload) {
		n = len(payload)
	}
	if _, err := s.f.Write(payload[:n]); err != nil {
		s.Errors.Add(1)
		_ = ref.Release()
		return 0, err
	}
	s.Accepted.Add(1)
	if err := ref.Release(); err != nil {
		return 1, err
	}
	return 1, nil
}

func (s *File) PushSet(ds DataSet) (int, error) {
	base := Base{PushBlockFunc: s.PushBlock}
	return base.PushSet(ds)
}
