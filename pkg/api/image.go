package api

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/pipeline"
)

// ProcessImage anonymizes a single still image. It runs the same
// detect-and-transform path as video, over a one-frame stream.
func (h *Handler) ProcessImage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	data, _, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	opts, err := parseFormOptions(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		h.writeError(w, pipeline.Errorf(pipeline.KindDecode, "unsupported image: %v", err))
		return
	}

	frame := &models.Frame{Index: 0, Img: imaging.Clone(img)}
	sink := pipeline.NewMemorySink()
	scheduler := &pipeline.Scheduler{
		Detector:    h.detector,
		Options:     opts,
		Parallelism: 1,
	}

	stats, err := scheduler.Run(r.Context(), pipeline.NewMemorySource([]*models.Frame{frame}), sink, 1)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	contentType := "image/jpeg"
	if format == "png" {
		contentType = "image/png"
		err = png.Encode(&buf, frame.Img)
	} else {
		err = jpeg.Encode(&buf, frame.Img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		h.writeError(w, pipeline.Wrap(pipeline.KindEncode, err))
		return
	}

	h.metrics.AddDetections("face", stats.TotalFaces)
	h.metrics.AddDetections("plate", stats.TotalPlates)

	setStatsHeaders(w, stats, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Write(buf.Bytes())
}
