package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mediamask/mediamask/pkg/models"
)

// ErrScripted is the failure injected by FailFrame
var ErrScripted = errors.New("scripted detector failure")

// Scripted replays a fixed per-frame detection script. It backs pipeline
// tests and the daemon's dry-run mode, where no inference service is
// available.
type Scripted struct {
	mu       sync.Mutex
	script   map[int][]models.Detection
	failures map[int]int // frame index -> remaining failures before success
	latency  time.Duration
	calls    int
}

// NewScripted creates a detector returning the scripted detections per
// frame index, and nothing for unscripted frames.
func NewScripted(script map[int][]models.Detection) *Scripted {
	return &Scripted{
		script:   script,
		failures: make(map[int]int),
	}
}

// FailFrame makes Detect fail n times for the given frame before
// succeeding. Used to exercise the retry and zero-detection fallback
// paths.
func (s *Scripted) FailFrame(index, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[index] = n
}

// SetLatency adds an artificial per-call delay, simulating a slow
// GPU-bound model to provoke out-of-order worker completion.
func (s *Scripted) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Calls reports how many Detect invocations were made
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Detect implements Detector
func (s *Scripted) Detect(ctx context.Context, frame *models.Frame, opts Options) ([]models.Detection, error) {
	s.mu.Lock()
	s.calls++
	latency := s.latency
	if remaining := s.failures[frame.Index]; remaining > 0 {
		s.failures[frame.Index] = remaining - 1
		s.mu.Unlock()
		return nil, &Error{FrameIndex: frame.Index, Err: ErrScripted}
	}
	scripted := s.script[frame.Index]
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]models.Detection, 0, len(scripted))
	for _, d := range scripted {
		if d.Class == models.ClassFace && !opts.Faces {
			continue
		}
		if d.Class == models.ClassPlate && !opts.Plates {
			continue
		}
		d.Box = d.Box.Clamp(frame.Width(), frame.Height())
		if d.Box.Empty() {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
