package pipeline

import (
	"bytes"
	"context"
	"image/jpeg"

	"github.com/mediamask/mediamask/pkg/models"
)

// ProgressReporter receives per-frame progress events from the pipeline.
// Report must never block the frame loop; implementations are free to
// drop preview payloads or whole intermediate events under pressure.
// Final delivers the terminal (100%) event and is the only guaranteed
// delivery; it may block until the consumer takes it or ctx is done.
type ProgressReporter interface {
	Report(ev models.ProgressEvent)
	Final(ctx context.Context, ev models.ProgressEvent)
}

// NopReporter discards all events. Used by the synchronous HTTP path,
// which has no progress channel.
type NopReporter struct{}

func (NopReporter) Report(models.ProgressEvent)                 {}
func (NopReporter) Final(context.Context, models.ProgressEvent) {}

// ChannelReporter hands events to a consumer over a bounded channel.
// When the consumer lags, Report first retries without the preview
// payload, then evicts the oldest queued event so numeric progress is
// never starved behind stale previews.
type ChannelReporter struct {
	ch chan models.ProgressEvent
}

// NewChannelReporter creates a reporter with the given buffer capacity
func NewChannelReporter(buffer int) *ChannelReporter {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelReporter{ch: make(chan models.ProgressEvent, buffer)}
}

// Events is the consumer side of the reporter
func (r *ChannelReporter) Events() <-chan models.ProgressEvent {
	return r.ch
}

// Report implements ProgressReporter without ever blocking
func (r *ChannelReporter) Report(ev models.ProgressEvent) {
	select {
	case r.ch <- ev:
		return
	default:
	}

	// Transport saturated: shed the preview payload first
	ev.Preview = nil
	select {
	case r.ch <- ev:
		return
	default:
	}

	// Still full: evict the oldest queued event and try once more
	select {
	case <-r.ch:
	default:
	}
	select {
	case r.ch <- ev:
	default:
	}
}

// Final implements ProgressReporter with guaranteed delivery
func (r *ChannelReporter) Final(ctx context.Context, ev models.ProgressEvent) {
	select {
	case r.ch <- ev:
	case <-ctx.Done():
	}
}

// Close releases the consumer once no more events will be sent
func (r *ChannelReporter) Close() {
	close(r.ch)
}

// encodePreview compresses a frame to JPEG for the preview payload
func encodePreview(frame *models.Frame, quality int) []byte {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Img, &jpeg.Options{Quality: quality}); err != nil {
		return nil
	}
	return buf.Bytes()
}
