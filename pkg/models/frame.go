package models

import "image"

// Frame is one decoded video frame. A frame is owned by exactly one
// pipeline stage at a time; ownership transfers through channels and the
// holder may mutate Img freely.
type Frame struct {
	Index int
	Img   *image.NRGBA
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	if f.Img == nil {
		return 0
	}
	return f.Img.Rect.Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	if f.Img == nil {
		return 0
	}
	return f.Img.Rect.Dy()
}

// NewFrame allocates a blank frame of the given dimensions
func NewFrame(index, width, height int) *Frame {
	return &Frame{
		Index: index,
		Img:   image.NewNRGBA(image.Rect(0, 0, width, height)),
	}
}

// ProgressEvent reports per-frame pipeline progress. Preview carries a
// JPEG-compressed snapshot of the transformed frame on stride boundaries
// and is nil otherwise.
type ProgressEvent struct {
	FrameIndex      int
	TotalFrames     int
	ProgressPercent float64
	FacesInFrame    int
	PlatesInFrame   int
	Preview         []byte
}
