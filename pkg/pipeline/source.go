package pipeline

import (
	"io"
	"sync"

	"github.com/mediamask/mediamask/pkg/models"
)

// FrameSource yields decoded frames in index order. Next returns io.EOF
// after the last frame. The returned frame is owned by the caller.
type FrameSource interface {
	Next() (*models.Frame, error)
	Close() error
}

// FrameSink consumes transformed frames. The scheduler guarantees Write
// is called with strictly increasing frame indices from a single
// goroutine; the sink exclusively owns each written frame.
type FrameSink interface {
	Write(frame *models.Frame) error
	Close() error
}

// MemorySource serves a fixed slice of frames. Used by tests and the
// single-image path.
type MemorySource struct {
	frames []*models.Frame
	pos    int
}

// NewMemorySource creates a source over pre-decoded frames
func NewMemorySource(frames []*models.Frame) *MemorySource {
	return &MemorySource{frames: frames}
}

// Next implements FrameSource
func (s *MemorySource) Next() (*models.Frame, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, nil
}

// Len returns the total number of frames the source will yield
func (s *MemorySource) Len() int {
	return len(s.frames)
}

// Close implements FrameSource
func (s *MemorySource) Close() error {
	return nil
}

// MemorySink collects written frames in arrival order
type MemorySink struct {
	mu     sync.Mutex
	frames []*models.Frame
	closed bool
}

// NewMemorySink creates an in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements FrameSink
func (s *MemorySink) Write(frame *models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

// Frames returns the frames in the order they were written
func (s *MemorySink) Frames() []*models.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Indices returns the written frame indices in arrival order
func (s *MemorySink) Indices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Index
	}
	return out
}

// Close implements FrameSink
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
