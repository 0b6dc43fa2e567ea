package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/mediamask/mediamask/pkg/detect"
	"github.com/mediamask/mediamask/pkg/models"
)

func collectEvents(r *ChannelReporter) []models.ProgressEvent {
	r.Close()
	var events []models.ProgressEvent
	for ev := range r.Events() {
		events = append(events, ev)
	}
	return events
}

func TestProgressMonotonicWithSingleTerminalEvent(t *testing.T) {
	detector := detect.NewScripted(nil)
	detector.SetLatency(time.Millisecond)

	frames := testFrames(10)
	reporter := NewChannelReporter(64)
	opts := models.DefaultJobOptions()
	opts.EnablePreview = false

	s := &Scheduler{
		Detector:    detector,
		Options:     opts,
		Parallelism: 4,
		Reporter:    reporter,
		Retry:       fastRetry(),
	}

	if _, err := s.Run(context.Background(), NewMemorySource(frames), NewMemorySink(), len(frames)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := collectEvents(reporter)
	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}

	last := -1.0
	terminal := 0
	for _, ev := range events {
		if ev.ProgressPercent < last {
			t.Errorf("progress went backwards: %.2f after %.2f", ev.ProgressPercent, last)
		}
		last = ev.ProgressPercent
		if ev.ProgressPercent == 100 {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("emitted %d terminal events, want exactly 1", terminal)
	}
	if events[len(events)-1].ProgressPercent != 100 {
		t.Errorf("last event is %.2f%%, want 100%%", events[len(events)-1].ProgressPercent)
	}
}

func TestTerminalEventWhenTotalOverestimated(t *testing.T) {
	// Probed totals can overshoot the real frame count; the terminal
	// event must still fire when the stream ends.
	detector := detect.NewScripted(nil)
	frames := testFrames(5)
	reporter := NewChannelReporter(64)
	opts := models.DefaultJobOptions()
	opts.EnablePreview = false

	s := &Scheduler{
		Detector:    detector,
		Options:     opts,
		Parallelism: 2,
		Reporter:    reporter,
		Retry:       fastRetry(),
	}

	if _, err := s.Run(context.Background(), NewMemorySource(frames), NewMemorySink(), 10); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := collectEvents(reporter)
	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}
	terminal := 0
	for _, ev := range events {
		if ev.ProgressPercent == 100 {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("emitted %d terminal events, want exactly 1", terminal)
	}
	last := events[len(events)-1]
	if last.ProgressPercent != 100 {
		t.Errorf("last event is %.2f%%, want 100%%", last.ProgressPercent)
	}
	if last.TotalFrames != 5 {
		t.Errorf("terminal event reports %d total frames, want the true count 5", last.TotalFrames)
	}
}

func TestTerminalEventWhenTotalUnderestimated(t *testing.T) {
	// With an undershot total the percentages reach the cap early; 100
	// must still appear exactly once, at the very end.
	detector := detect.NewScripted(nil)
	frames := testFrames(10)
	reporter := NewChannelReporter(64)
	opts := models.DefaultJobOptions()
	opts.EnablePreview = false

	s := &Scheduler{
		Detector:    detector,
		Options:     opts,
		Parallelism: 2,
		Reporter:    reporter,
		Retry:       fastRetry(),
	}

	if _, err := s.Run(context.Background(), NewMemorySource(frames), NewMemorySink(), 5); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := collectEvents(reporter)
	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}
	for i, ev := range events {
		if i < len(events)-1 && ev.ProgressPercent >= 100 {
			t.Errorf("event %d reads %.2f%% before the stream ended", i, ev.ProgressPercent)
		}
	}
	if got := events[len(events)-1].ProgressPercent; got != 100 {
		t.Errorf("last event is %.2f%%, want 100%%", got)
	}
}

func TestPreviewFollowsStride(t *testing.T) {
	detector := detect.NewScripted(nil)
	frames := testFrames(9)
	reporter := NewChannelReporter(64)

	opts := models.DefaultJobOptions()
	opts.EnablePreview = true
	opts.PreviewStride = 3

	s := &Scheduler{
		Detector:    detector,
		Options:     opts,
		Parallelism: 1,
		Reporter:    reporter,
		Retry:       fastRetry(),
	}

	if _, err := s.Run(context.Background(), NewMemorySource(frames), NewMemorySink(), len(frames)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, ev := range collectEvents(reporter) {
		wantPreview := (ev.FrameIndex+1)%3 == 0
		if wantPreview && len(ev.Preview) == 0 {
			t.Errorf("frame %d: expected preview payload, got none", ev.FrameIndex)
		}
		if !wantPreview && len(ev.Preview) != 0 {
			t.Errorf("frame %d: unexpected preview payload off stride", ev.FrameIndex)
		}
	}
}

func TestPreviewDisabled(t *testing.T) {
	detector := detect.NewScripted(nil)
	frames := testFrames(6)
	reporter := NewChannelReporter(64)

	opts := models.DefaultJobOptions()
	opts.EnablePreview = false

	s := &Scheduler{
		Detector:    detector,
		Options:     opts,
		Parallelism: 2,
		Reporter:    reporter,
		Retry:       fastRetry(),
	}

	if _, err := s.Run(context.Background(), NewMemorySource(frames), NewMemorySink(), len(frames)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, ev := range collectEvents(reporter) {
		if len(ev.Preview) != 0 {
			t.Errorf("frame %d: preview emitted with previews disabled", ev.FrameIndex)
		}
	}
}

func TestChannelReporterEvictsOldestWhenSaturated(t *testing.T) {
	r := NewChannelReporter(1)

	r.Report(models.ProgressEvent{FrameIndex: 0, Preview: []byte{1, 2, 3}})
	r.Report(models.ProgressEvent{FrameIndex: 1, Preview: []byte{4, 5, 6}})

	select {
	case ev := <-r.Events():
		if ev.FrameIndex != 1 {
			t.Errorf("queued event is frame %d, want frame 1 (oldest evicted)", ev.FrameIndex)
		}
		if len(ev.Preview) != 0 {
			t.Error("preview payload should have been shed under saturation")
		}
	default:
		t.Fatal("reporter queue empty after two reports")
	}
}

func TestChannelReporterFinalBlocksUntilDelivered(t *testing.T) {
	r := NewChannelReporter(1)
	r.Report(models.ProgressEvent{FrameIndex: 0})

	delivered := make(chan struct{})
	go func() {
		r.Final(context.Background(), models.ProgressEvent{FrameIndex: 1, ProgressPercent: 100})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("Final returned before the consumer made room")
	case <-time.After(20 * time.Millisecond):
	}

	<-r.Events() // consumer catches up
	ev := <-r.Events()
	if ev.ProgressPercent != 100 {
		t.Errorf("final event percent = %.2f, want 100", ev.ProgressPercent)
	}

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Final never returned after delivery")
	}
}

func TestChannelReporterFinalRespectsContext(t *testing.T) {
	r := NewChannelReporter(1)
	r.Report(models.ProgressEvent{FrameIndex: 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Final(ctx, models.ProgressEvent{ProgressPercent: 100})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Final blocked despite cancelled context")
	}
}
