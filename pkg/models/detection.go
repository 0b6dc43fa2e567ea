package models

// DetectionClass identifies the kind of region a detector located
type DetectionClass string

const (
	ClassFace  DetectionClass = "face"
	ClassPlate DetectionClass = "plate"
)

// BBox is a pixel-space bounding box (origin top-left)
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Clamp confines the box to a width x height frame. A box fully outside
// the frame collapses to zero area.
func (b BBox) Clamp(width, height int) BBox {
	x2 := b.X + b.W
	y2 := b.Y + b.H
	if b.X < 0 {
		b.X = 0
	}
	if b.Y < 0 {
		b.Y = 0
	}
	if x2 > width {
		x2 = width
	}
	if y2 > height {
		y2 = height
	}
	b.W = x2 - b.X
	b.H = y2 - b.Y
	if b.W < 0 {
		b.W = 0
	}
	if b.H < 0 {
		b.H = 0
	}
	return b
}

// Empty reports whether the box covers no pixels
func (b BBox) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Detection is a located, classified, confidence-scored region of interest
type Detection struct {
	Class      DetectionClass `json:"class"`
	Box        BBox           `json:"box"`
	Confidence float64        `json:"confidence"`
}
