package source

import (
	"io"
	"os"
	"sync"

	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/pagepool"
)

// FileConfig configures a File replayer source.
type FileConfig struct {
	Path string
}

// File is a reference Source that replays raw page payloads previously
// captured by a file Sink, for offline re-processing and testing. At
// end-of-file, PollReady returns ok=false forever (equivalent to an
// idle, never-recovering source).
type File struct {
	cfg  FileConfig
	mu   sync.Mutex
	f    *os.File
	free []*pagepool.Page
	eof  bool
}

// NewFile creates a File source. The backing file is opened lazily on
// Start.
func NewFile(cfg FileConfig) *File {
	return &File{cfg: cfg}
}

func (s *File) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return err
	}
	s.f = f
	s.eof = false
	return nil
}

func (s *File) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		return err
	}
	return nil
}

func (s *File) PushFreePage(pg *pagepool.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = append(s.free, pg)
}

func (s *File) PollReady() (*pagepool.Page, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eof || len(s.free) == 0 || s.f == nil {
		return nil, 0, false
	}
	pg := s.free[0]
	s.free = s.free[1:]

	if _, err := io.ReadFull(s.f, pg.Header()); err != nil {
		s.eof = true
		return nil, 0, false
	}
	n := int(block.Decode(pg.Header()).PayloadSize)
	payload := pg.Payload()
	if n > len(payload) {
		n = len(payload)
	}
	if _, err := io.ReadFull(s.f, payload[:n]); err != nil {
		s.eof = true
		return nil, 0, false
	}
	return pg, n, true
}
