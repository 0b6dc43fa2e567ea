package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/pipeline"
)

// readUpload extracts the "file" part of a multipart upload, enforcing
// the configured size cap
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", pipeline.Errorf(pipeline.KindValidation, "missing file upload: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

// parseFormOptions merges multipart form fields over the default job
// options. The synchronous path never streams previews.
func parseFormOptions(r *http.Request) (models.JobOptions, error) {
	opts := models.DefaultJobOptions()
	opts.EnablePreview = false

	if v := r.FormValue("detect_faces"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, pipeline.Errorf(pipeline.KindValidation, "invalid detect_faces: %q", v)
		}
		opts.DetectFaces = b
	}
	if v := r.FormValue("detect_plates"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, pipeline.Errorf(pipeline.KindValidation, "invalid detect_plates: %q", v)
		}
		opts.DetectPlates = b
	}
	if v := r.FormValue("anonymization_method"); v != "" {
		opts.Method = models.AnonymizationMethod(v)
	}
	if v := r.FormValue("confidence_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, pipeline.Errorf(pipeline.KindValidation, "invalid confidence_threshold: %q", v)
		}
		opts.ConfidenceThreshold = f
	}
	if v := r.FormValue("blur_kernel_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, pipeline.Errorf(pipeline.KindValidation, "invalid blur_kernel_size: %q", v)
		}
		opts.BlurKernelSize = n
	}
	if v := r.FormValue("pixelate_blocks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, pipeline.Errorf(pipeline.KindValidation, "invalid pixelate_blocks: %q", v)
		}
		opts.PixelateBlocks = n
	}

	if err := opts.Validate(); err != nil {
		return opts, pipeline.Wrap(pipeline.KindValidation, err)
	}
	return opts, nil
}

// setStatsHeaders attaches the detection totals the synchronous
// endpoints report alongside the binary payload
func setStatsHeaders(w http.ResponseWriter, stats models.Stats, elapsed time.Duration) {
	w.Header().Set("x-total-faces", strconv.Itoa(stats.TotalFaces))
	w.Header().Set("x-total-plates", strconv.Itoa(stats.TotalPlates))
	w.Header().Set("x-frames-processed", strconv.Itoa(stats.FramesProcessed))
	w.Header().Set("x-frames-with-detections", strconv.Itoa(stats.FramesWithDetections))
	w.Header().Set("x-processing-time", fmt.Sprintf("%.2f", elapsed.Seconds()))
}

// statusLabel maps a job error to the metric status label
func statusLabel(err error) string {
	switch pipeline.KindOf(err) {
	case pipeline.KindCanceled:
		return "canceled"
	case pipeline.KindDetection:
		return "aborted"
	default:
		return "failed"
	}
}

// ProcessVideo handles the synchronous upload-and-wait path: the whole
// video is processed before the response starts.
func (h *Handler) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	data, filename, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := pipeline.ValidateFilename(filename); err != nil {
		h.writeError(w, err)
		return
	}
	opts, err := parseFormOptions(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.logger != nil {
		h.logger.Info("Processing video", map[string]interface{}{
			"filename": filename,
			"bytes":    len(data),
			"method":   string(opts.Method),
		})
	}

	result, err := h.runner.Process(r.Context(), data, filename, opts, pipeline.NopReporter{})
	if err != nil {
		h.metrics.RecordJob(statusLabel(err), time.Since(start).Seconds())
		h.writeError(w, err)
		return
	}

	elapsed := time.Since(start)
	h.metrics.RecordJob("completed", elapsed.Seconds())
	h.metrics.AddFrames(result.Stats.FramesProcessed)
	h.metrics.AddDetections("face", result.Stats.TotalFaces)
	h.metrics.AddDetections("plate", result.Stats.TotalPlates)

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	setStatsHeaders(w, result.Stats, elapsed)
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"anonymized_%s.mp4\"", base))
	w.Write(result.Video)
}

// VideoInfo probes an uploaded container without processing it
func (h *Handler) VideoInfo(w http.ResponseWriter, r *http.Request) {
	data, filename, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	info, err := h.runner.Probe(r.Context(), data, filename)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
