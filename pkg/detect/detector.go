// Package detect defines the detection model contract consumed by the
// anonymization pipeline. The model itself is an external collaborator;
// this package holds the interface, the remote HTTP client, and a
// scripted implementation for tests and development.
package detect

import (
	"context"
	"fmt"

	"github.com/mediamask/mediamask/pkg/models"
)

// Options narrows a detection call to the classes a job cares about.
// Filtering by confidence happens in the pipeline so a detector may
// return everything it found.
type Options struct {
	Faces  bool
	Plates bool
}

// Detector locates sensitive regions in a single frame. Implementations
// must be safe for concurrent use: the pipeline shares one instance
// across all workers and never mutates it.
//
// Detect must be deterministic for identical model weights and inputs.
type Detector interface {
	Detect(ctx context.Context, frame *models.Frame, opts Options) ([]models.Detection, error)
}

// Error signals a collaborator failure on a single frame. The pipeline
// retries these a bounded number of times and then treats the frame as
// having zero detections.
type Error struct {
	FrameIndex int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("detection failed on frame %d: %v", e.FrameIndex, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
