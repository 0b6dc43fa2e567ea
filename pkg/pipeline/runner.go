package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediamask/mediamask/pkg/detect"
	"github.com/mediamask/mediamask/pkg/ffmpeg"
	"github.com/mediamask/mediamask/pkg/logging"
	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/retry"
)

// allowedExtensions are the video containers accepted for processing
var allowedExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// ValidateFilename rejects unsupported container types before any frame
// is touched
func ValidateFilename(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return Errorf(KindValidation, "unsupported file type %q (allowed: .mp4, .avi, .mov, .mkv)", ext)
	}
	return nil
}

// Runner executes complete video anonymization jobs: temp file staging,
// probe, ffmpeg decode/encode, and the frame scheduler. One Runner is
// shared by all sessions; each Process call is an independent job.
type Runner struct {
	Detector         detect.Detector
	Parallelism      int
	QueueSize        int
	JobTimeout       time.Duration
	PreviewQuality   int
	Retry            retry.Config
	FailureRateLimit float64
	Logger           *logging.Logger
}

// Probe stages the payload and inspects the container without
// processing it
func (r *Runner) Probe(ctx context.Context, video []byte, filename string) (*models.VideoInfo, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	inPath, cleanup, err := stageInput(video, filename)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	info, err := ffmpeg.Probe(ctx, inPath)
	if err != nil {
		return nil, Wrap(KindDecode, err)
	}
	return info, nil
}

// Process runs one full anonymization job and returns the output
// container plus stats. Decoder, encoder, and temp files are released
// on every exit path, including cancellation and timeout.
func (r *Runner) Process(ctx context.Context, video []byte, filename string, opts models.JobOptions, reporter ProgressReporter) (*models.JobResult, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, Wrap(KindValidation, err)
	}

	if r.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.JobTimeout)
		defer cancel()
	}

	inPath, cleanupIn, err := stageInput(video, filename)
	if err != nil {
		return nil, err
	}
	defer cleanupIn()

	info, err := ffmpeg.Probe(ctx, inPath)
	if err != nil {
		return nil, Wrap(KindDecode, err)
	}

	decoder, err := ffmpeg.NewDecoder(inPath, info)
	if err != nil {
		return nil, Wrap(KindDecode, err)
	}
	defer decoder.Close()

	outFile, err := os.CreateTemp("", "mediamask_out_*.mp4")
	if err != nil {
		return nil, Errorf(KindEncode, "failed to create output file: %v", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	encoder, err := ffmpeg.NewEncoder(outPath, info)
	if err != nil {
		return nil, Wrap(KindEncode, err)
	}

	scheduler := &Scheduler{
		Detector:         r.Detector,
		Options:          opts,
		Parallelism:      r.Parallelism,
		QueueSize:        r.QueueSize,
		Reporter:         reporter,
		Logger:           r.Logger,
		Retry:            r.Retry,
		FailureRateLimit: r.FailureRateLimit,
		PreviewQuality:   r.PreviewQuality,
	}

	stats, err := scheduler.Run(ctx, decoder, encoder, info.FrameCount)
	if err != nil {
		encoder.Abort()
		return nil, err
	}

	// Flush; an encoder failure at close time is still an encode error
	if err := encoder.Close(); err != nil {
		return nil, Wrap(KindEncode, err)
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		return nil, Errorf(KindEncode, "failed to read output container: %v", err)
	}

	if r.Logger != nil {
		r.Logger.Info("Video job complete", map[string]interface{}{
			"frames":       stats.FramesProcessed,
			"total_faces":  stats.TotalFaces,
			"total_plates": stats.TotalPlates,
		})
	}

	return &models.JobResult{Video: output, Stats: stats}, nil
}

// stageInput writes the payload to a temp file keeping the original
// extension, which ffmpeg uses for container sniffing
func stageInput(video []byte, filename string) (string, func(), error) {
	ext := filepath.Ext(filename)
	f, err := os.CreateTemp("", "mediamask_in_*"+ext)
	if err != nil {
		return "", nil, Errorf(KindValidation, "failed to stage upload: %v", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.Write(video); err != nil {
		f.Close()
		cleanup()
		return "", nil, Errorf(KindValidation, "failed to stage upload: %v", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, Errorf(KindValidation, "failed to stage upload: %v", err)
	}
	return path, cleanup, nil
}
