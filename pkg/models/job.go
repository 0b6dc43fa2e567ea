package models

import (
	"fmt"
	"time"
)

// AnonymizationMethod selects the redaction applied to detected regions
type AnonymizationMethod string

const (
	MethodBlur     AnonymizationMethod = "blur"
	MethodPixelate AnonymizationMethod = "pixelate"
	MethodMask     AnonymizationMethod = "mask"
)

// Valid reports whether the method is one of the supported redactions
func (m AnonymizationMethod) Valid() bool {
	switch m {
	case MethodBlur, MethodPixelate, MethodMask:
		return true
	}
	return false
}

// JobOptions holds the per-job anonymization parameters.
// Options are validated once at submit time and immutable afterwards.
type JobOptions struct {
	DetectFaces         bool                `json:"detect_faces"`
	DetectPlates        bool                `json:"detect_plates"`
	Method              AnonymizationMethod `json:"anonymization_method"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	BlurKernelSize      int                 `json:"blur_kernel_size"`
	PixelateBlocks      int                 `json:"pixelate_blocks"`
	EnablePreview       bool                `json:"enable_preview"`
	PreviewStride       int                 `json:"preview_stride"`
}

// DefaultJobOptions returns the option set used when a field is omitted
func DefaultJobOptions() JobOptions {
	return JobOptions{
		DetectFaces:         true,
		DetectPlates:        true,
		Method:              MethodBlur,
		ConfidenceThreshold: 0.5,
		BlurKernelSize:      51,
		PixelateBlocks:      10,
		EnablePreview:       true,
		PreviewStride:       3,
	}
}

// Validate checks option ranges and normalizes the blur kernel.
// The kernel is forced to the nearest odd value >= 3 (a Gaussian kernel
// needs a center pixel).
func (o *JobOptions) Validate() error {
	if !o.Method.Valid() {
		return fmt.Errorf("invalid anonymization method: %s", o.Method)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", o.ConfidenceThreshold)
	}
	o.BlurKernelSize = NormalizeKernelSize(o.BlurKernelSize)
	if o.PixelateBlocks < 2 {
		o.PixelateBlocks = 2
	}
	if o.PreviewStride < 1 {
		o.PreviewStride = 1
	}
	return nil
}

// NormalizeKernelSize rounds a requested blur kernel to the nearest odd
// value >= 3 (50 -> 51, 2 -> 3)
func NormalizeKernelSize(k int) int {
	if k < 3 {
		return 3
	}
	if k%2 == 0 {
		return k + 1
	}
	return k
}

// VideoJob is a single anonymization job bound to one protocol session
type VideoJob struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	Options   JobOptions `json:"options"`
	CreatedAt time.Time  `json:"created_at"`
}

// Stats accumulates job-level detection totals
type Stats struct {
	TotalFaces           int `json:"total_faces"`
	TotalPlates          int `json:"total_plates"`
	FramesProcessed      int `json:"frames_processed"`
	FramesWithDetections int `json:"frames_with_detections"`
}

// JobResult is the terminal artifact of a successful job. It is produced
// once and delivered exactly once.
type JobResult struct {
	Video []byte `json:"-"`
	Stats Stats  `json:"stats"`
}

// VideoInfo describes a probed container
type VideoInfo struct {
	FPS               float64 `json:"fps"`
	FrameCount        int     `json:"frame_count"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DurationSeconds   float64 `json:"duration_seconds"`
	DurationFormatted string  `json:"duration_formatted"`
}

// FormatDuration renders seconds as MM:SS or HH:MM:SS
func FormatDuration(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}
