package models

// MessageType tags every server-to-client message on the duplex channel
type MessageType string

const (
	MessageProgress MessageType = "progress"
	MessageVideo    MessageType = "video"
	MessageError    MessageType = "error"
)

// ServerMessage is implemented by every message the server may emit on a
// session. The tag replaces dynamic dispatch on a loose string field: each
// protocol message kind is its own type.
type ServerMessage interface {
	Kind() MessageType
}

// SubmitMessage is the single client message accepted in the INIT state
type SubmitMessage struct {
	VideoData           string               `json:"video_data"`
	Filename            string               `json:"filename"`
	DetectFaces         *bool                `json:"detect_faces,omitempty"`
	DetectPlates        *bool                `json:"detect_plates,omitempty"`
	Method              *AnonymizationMethod `json:"anonymization_method,omitempty"`
	ConfidenceThreshold *float64             `json:"confidence_threshold,omitempty"`
	BlurKernelSize      *int                 `json:"blur_kernel_size,omitempty"`
	PixelateBlocks      *int                 `json:"pixelate_blocks,omitempty"`
	EnablePreview       *bool                `json:"enable_preview,omitempty"`
	PreviewStride       *int                 `json:"preview_stride,omitempty"`
}

// Options merges the submit message over the defaults. Unset fields keep
// their default values.
func (m *SubmitMessage) Options() JobOptions {
	opts := DefaultJobOptions()
	if m.DetectFaces != nil {
		opts.DetectFaces = *m.DetectFaces
	}
	if m.DetectPlates != nil {
		opts.DetectPlates = *m.DetectPlates
	}
	if m.Method != nil {
		opts.Method = *m.Method
	}
	if m.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = *m.ConfidenceThreshold
	}
	if m.BlurKernelSize != nil {
		opts.BlurKernelSize = *m.BlurKernelSize
	}
	if m.PixelateBlocks != nil {
		opts.PixelateBlocks = *m.PixelateBlocks
	}
	if m.EnablePreview != nil {
		opts.EnablePreview = *m.EnablePreview
	}
	if m.PreviewStride != nil {
		opts.PreviewStride = *m.PreviewStride
	}
	return opts
}

// ProgressMessage streams per-frame progress during PROCESSING
type ProgressMessage struct {
	Type            MessageType `json:"type"`
	Frame           int         `json:"frame"`
	TotalFrames     int         `json:"total_frames"`
	ProgressPercent float64     `json:"progress_percent"`
	FacesInFrame    int         `json:"faces_in_frame"`
	PlatesInFrame   int         `json:"plates_in_frame"`
	CurrentFrame    string      `json:"current_frame,omitempty"` // base64 JPEG preview
}

func (m *ProgressMessage) Kind() MessageType { return MessageProgress }

// NewProgressMessage converts a pipeline event into its wire form
func NewProgressMessage(ev ProgressEvent, preview string) *ProgressMessage {
	return &ProgressMessage{
		Type:            MessageProgress,
		Frame:           ev.FrameIndex,
		TotalFrames:     ev.TotalFrames,
		ProgressPercent: ev.ProgressPercent,
		FacesInFrame:    ev.FacesInFrame,
		PlatesInFrame:   ev.PlatesInFrame,
		CurrentFrame:    preview,
	}
}

// VideoMessage is the terminal COMPLETE message carrying the artifact
type VideoMessage struct {
	Type      MessageType `json:"type"`
	VideoData string      `json:"video_data"` // base64 encoded output container
	Stats     Stats       `json:"stats"`
}

func (m *VideoMessage) Kind() MessageType { return MessageVideo }

// ErrorMessage is the terminal ABORTED message
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (m *ErrorMessage) Kind() MessageType { return MessageError }

// NewErrorMessage wraps an error string as a terminal protocol message
func NewErrorMessage(msg string) *ErrorMessage {
	return &ErrorMessage{Type: MessageError, Message: msg}
}
