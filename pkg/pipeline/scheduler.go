package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/mediamask/mediamask/pkg/anonymize"
	"github.com/mediamask/mediamask/pkg/detect"
	"github.com/mediamask/mediamask/pkg/logging"
	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/retry"
)

// Scheduler runs detection and transform over a frame stream with
// parallelism P while guaranteeing the sink receives frames in strict
// index order and memory stays bounded.
//
// One producer goroutine decodes frames into a bounded queue of capacity
// K (K >= P). Every frame holds an in-flight token from decode until it
// is sunk; the token pool has capacity K, so at most K frames exist
// between source and sink at any instant. Token exhaustion suspends the
// producer, which is the pipeline's backpressure mechanism and what
// bounds the reorder buffer under scheduling skew. P workers pull
// frames, call the detector, filter, and apply the transform. A reorder
// buffer re-sequences worker output for the single sink consumer.
type Scheduler struct {
	Detector    detect.Detector
	Options     models.JobOptions
	Parallelism int
	QueueSize   int // 0 = 2x parallelism
	Reporter    ProgressReporter
	Logger      *logging.Logger

	// Detection failure policy: each frame's detection is retried per
	// Retry, then the frame counts as zero detections; the whole job
	// aborts when more than FailureRateLimit of at least
	// MinFramesForAbort processed frames failed permanently.
	Retry             retry.Config
	FailureRateLimit  float64 // 0 = default 0.20
	MinFramesForAbort int     // 0 = default 10

	PreviewQuality int // JPEG quality for preview payloads, 0 = 85
}

// Run processes every frame from source into sink. totalFrames drives
// intermediate progress percentages and may be an estimate (probed
// frame counts sometimes are); the terminal event is driven by the
// stream actually ending, never by the estimate. Run does not close
// source or sink; the caller owns their lifecycle so release happens on
// every exit path.
//
// On success the returned stats are final and a single 100% progress
// event has been delivered. On failure no 100% event is ever emitted.
func (s *Scheduler) Run(ctx context.Context, source FrameSource, sink FrameSink, totalFrames int) (models.Stats, error) {
	parallelism := s.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	queueSize := s.QueueSize
	if queueSize < parallelism {
		queueSize = parallelism * 2
	}
	reporter := s.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First failure wins; everything after it drains and discards
	var failMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		failMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		failMu.Unlock()
		cancel()
	}

	frames := make(chan *models.Frame, queueSize)
	results := make(chan *result, queueSize)

	// In-flight cap: the producer takes a token per decoded frame and the
	// consumer returns it when the frame is sunk, so at most queueSize
	// frames live between source and sink. This is what bounds the
	// reorder buffer: decoding stalls instead of piling results behind a
	// slow frame.
	tokens := make(chan struct{}, queueSize)

	// Decode producer
	go func() {
		defer close(frames)
		for {
			select {
			case tokens <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			frame, err := source.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				fail(Wrap(KindDecode, err))
				return
			}
			select {
			case frames <- frame:
			case <-runCtx.Done():
				return
			}
		}
	}()

	// Detection/transform workers
	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range frames {
				// Cooperative cancellation: no new frames are submitted
				// once the context is set, but the queue is still
				// drained so the producer never deadlocks.
				if runCtx.Err() != nil {
					continue
				}
				r := s.processFrame(runCtx, frame)
				if r == nil {
					continue
				}
				select {
				case results <- r:
				case <-runCtx.Done():
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Ordered sink consumer
	buffer := newReorderBuffer()
	stats := NewStatsAggregator()

	failureLimit := s.FailureRateLimit
	if failureLimit <= 0 {
		failureLimit = 0.20
	}
	minFrames := s.MinFramesForAbort
	if minFrames <= 0 {
		minFrames = 10
	}

	// The last sunk frame is held back one step: only when the results
	// channel closes do we know the stream really ended, and the held
	// frame becomes the terminal 100% event. Probed totals can be
	// estimates, so frame counting alone cannot decide completion.
	type sunk struct {
		rel       *result
		processed int
	}
	var held *sunk

	for r := range results {
		if runCtx.Err() != nil {
			continue
		}
		if r.err != nil {
			fail(r.err)
			continue
		}
		for _, rel := range buffer.add(r) {
			if err := sink.Write(rel.frame); err != nil {
				fail(Wrap(KindEncode, err))
				break
			}
			stats.Add(rel.faces, rel.plates, rel.detectFailed)
			select {
			case <-tokens:
			default:
			}

			if stats.FramesProcessed() >= minFrames && stats.FailureRate() > failureLimit {
				fail(Errorf(KindDetection, "detection failed on %.0f%% of frames (limit %.0f%%)",
					stats.FailureRate()*100, failureLimit*100))
				break
			}

			if held != nil {
				reporter.Report(s.progressEvent(held.rel, held.processed, totalFrames, false))
			}
			held = &sunk{rel: rel, processed: stats.FramesProcessed()}
		}
	}
	buffer.discard()

	failMu.Lock()
	err := firstErr
	failMu.Unlock()

	if err == nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = Wrap(KindTimeout, ctx.Err())
		} else {
			err = Wrap(KindCanceled, ctx.Err())
		}
	}
	if err != nil {
		return stats.Snapshot(), err
	}
	if held != nil {
		reporter.Final(ctx, s.progressEvent(held.rel, held.processed, totalFrames, true))
	}
	return stats.Snapshot(), nil
}

// progressEvent builds the wire event for one sunk frame. The terminal
// event reads exactly 100 and reports the true frame count; intermediate
// events are capped below 100 so an underestimated total cannot fake
// completion, and use the lossy delivery path.
func (s *Scheduler) progressEvent(rel *result, processed, totalFrames int, terminal bool) models.ProgressEvent {
	var percent float64
	switch {
	case terminal:
		percent = 100
		totalFrames = processed
	case totalFrames > 0:
		percent = math.Round(float64(processed)/float64(totalFrames)*10000) / 100
		if percent >= 100 {
			percent = 99.9
		}
	}

	ev := models.ProgressEvent{
		FrameIndex:      rel.frame.Index,
		TotalFrames:     totalFrames,
		ProgressPercent: percent,
		FacesInFrame:    rel.faces,
		PlatesInFrame:   rel.plates,
	}

	if s.Options.EnablePreview {
		stride := s.Options.PreviewStride
		if stride < 1 {
			stride = 1
		}
		if (rel.frame.Index+1)%stride == 0 {
			ev.Preview = encodePreview(rel.frame, s.PreviewQuality)
		}
	}
	return ev
}

// processFrame runs detection (with bounded retries), filtering, and the
// anonymizing transform for a single frame. Returns nil when the run was
// cancelled and the frame should be discarded.
func (s *Scheduler) processFrame(ctx context.Context, frame *models.Frame) *result {
	detectOpts := detect.Options{Faces: s.Options.DetectFaces, Plates: s.Options.DetectPlates}

	var detections []models.Detection
	detectFailed := false

	err := retry.Do(ctx, s.retryConfig(), func() error {
		found, derr := s.Detector.Detect(ctx, frame, detectOpts)
		if derr != nil {
			return derr
		}
		detections = found
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// Partial-failure tolerance: the frame passes through with zero
		// detections and is counted against the job failure budget.
		detectFailed = true
		detections = nil
		if s.Logger != nil {
			s.Logger.Warn("Detection failed permanently, frame passes unredacted", map[string]interface{}{
				"frame": frame.Index,
				"error": err.Error(),
			})
		}
	}

	filtered := filterDetections(detections, s.Options)
	faces, plates := countByClass(filtered)

	if len(filtered) > 0 {
		if err := anonymize.Apply(frame, filtered, s.Options); err != nil {
			return &result{frame: frame, err: Wrap(KindTransform, err)}
		}
	}

	return &result{frame: frame, faces: faces, plates: plates, detectFailed: detectFailed}
}

func (s *Scheduler) retryConfig() retry.Config {
	if s.Retry.MaxRetries == 0 && s.Retry.InitialBackoff == 0 {
		return retry.DefaultConfig()
	}
	return s.Retry
}

// filterDetections drops detections below the confidence threshold or of
// a disabled class
func filterDetections(detections []models.Detection, opts models.JobOptions) []models.Detection {
	out := make([]models.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence < opts.ConfidenceThreshold {
			continue
		}
		if d.Class == models.ClassFace && !opts.DetectFaces {
			continue
		}
		if d.Class == models.ClassPlate && !opts.DetectPlates {
			continue
		}
		out = append(out, d)
	}
	return out
}

func countByClass(detections []models.Detection) (faces, plates int) {
	for _, d := range detections {
		switch d.Class {
		case models.ClassFace:
			faces++
		case models.ClassPlate:
			plates++
		}
	}
	return faces, plates
}
