package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/mediamask/mediamask/pkg/detect"
	"github.com/mediamask/mediamask/pkg/logging"
	"github.com/mediamask/mediamask/pkg/metrics"
	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/pipeline"
)

// fakeRunner is a scripted JobRunner for handler tests
type fakeRunner struct {
	mu          sync.Mutex
	result      *models.JobResult
	info        *models.VideoInfo
	err         error
	events      []models.ProgressEvent
	block       bool
	canceled    chan struct{}
	gotFilename string
	gotOpts     models.JobOptions
	gotVideo    []byte
}

func (f *fakeRunner) Process(ctx context.Context, video []byte, filename string, opts models.JobOptions, reporter pipeline.ProgressReporter) (*models.JobResult, error) {
	f.mu.Lock()
	f.gotFilename = filename
	f.gotOpts = opts
	f.gotVideo = video
	f.mu.Unlock()

	for i, ev := range f.events {
		if i == len(f.events)-1 && ev.ProgressPercent >= 100 {
			reporter.Final(ctx, ev)
		} else {
			reporter.Report(ev)
		}
	}
	if f.block {
		<-ctx.Done()
		if f.canceled != nil {
			close(f.canceled)
		}
		return nil, pipeline.Wrap(pipeline.KindCanceled, ctx.Err())
	}
	return f.result, f.err
}

func (f *fakeRunner) Probe(ctx context.Context, video []byte, filename string) (*models.VideoInfo, error) {
	return f.info, f.err
}

func testRouter(runner JobRunner, detector detect.Detector) *mux.Router {
	h := NewHandler(runner, detector, metrics.New(), nil, 10<<20)
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// uploadRequest builds a multipart request with a file part and extra
// form fields
func uploadRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write(data)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestProcessVideoSync(t *testing.T) {
	runner := &fakeRunner{
		result: &models.JobResult{
			Video: []byte("anonymized-container"),
			Stats: models.Stats{TotalFaces: 2, TotalPlates: 1, FramesProcessed: 10, FramesWithDetections: 3},
		},
	}
	router := testRouter(runner, detect.NewScripted(nil))

	req := uploadRequest(t, "/process-video", "dashcam.mp4", []byte("raw-video"), map[string]string{
		"anonymization_method": "pixelate",
		"confidence_threshold": "0.7",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("x-total-faces"); got != "2" {
		t.Errorf("x-total-faces = %q, want 2", got)
	}
	if got := rec.Header().Get("x-total-plates"); got != "1" {
		t.Errorf("x-total-plates = %q, want 1", got)
	}
	if got := rec.Header().Get("x-frames-processed"); got != "10" {
		t.Errorf("x-frames-processed = %q, want 10", got)
	}
	if got := rec.Header().Get("x-frames-with-detections"); got != "3" {
		t.Errorf("x-frames-with-detections = %q, want 3", got)
	}
	if rec.Header().Get("x-processing-time") == "" {
		t.Error("x-processing-time header missing")
	}
	if rec.Body.String() != "anonymized-container" {
		t.Error("response body is not the job artifact")
	}

	if runner.gotFilename != "dashcam.mp4" {
		t.Errorf("runner got filename %q", runner.gotFilename)
	}
	if runner.gotOpts.Method != models.MethodPixelate {
		t.Errorf("runner got method %q, want pixelate", runner.gotOpts.Method)
	}
	if runner.gotOpts.ConfidenceThreshold != 0.7 {
		t.Errorf("runner got threshold %v, want 0.7", runner.gotOpts.ConfidenceThreshold)
	}
	if runner.gotOpts.EnablePreview {
		t.Error("synchronous path must not enable previews")
	}
}

func TestProcessVideoRejectsExtension(t *testing.T) {
	router := testRouter(&fakeRunner{}, detect.NewScripted(nil))

	req := uploadRequest(t, "/process-video", "notes.txt", []byte("hello"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessVideoRejectsBadOptions(t *testing.T) {
	router := testRouter(&fakeRunner{}, detect.NewScripted(nil))

	req := uploadRequest(t, "/process-video", "in.mp4", []byte("v"), map[string]string{
		"confidence_threshold": "1.5",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessVideoErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"decode failure", pipeline.Errorf(pipeline.KindDecode, "bad container"), http.StatusBadRequest},
		{"timeout", pipeline.Errorf(pipeline.KindTimeout, "deadline"), http.StatusGatewayTimeout},
		{"detection abort", pipeline.Errorf(pipeline.KindDetection, "failure rate"), http.StatusBadGateway},
		{"transform failure", pipeline.Errorf(pipeline.KindTransform, "unappliable method"), http.StatusInternalServerError},
		{"encode failure", pipeline.Errorf(pipeline.KindEncode, "flush"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testRouter(&fakeRunner{err: tt.err}, detect.NewScripted(nil))
			req := uploadRequest(t, "/process-video", "in.mp4", []byte("v"), nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSessionTransitionGuard(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.ERROR, false)
	logger.SetOutput(&buf)
	h := NewHandler(&fakeRunner{}, detect.NewScripted(nil), metrics.New(), logger, 10<<20)

	session := models.NewSession("job-1")

	// init -> complete skips the whole lifecycle and must be rejected
	h.transition(session, models.SessionComplete)
	if session.State() != models.SessionInit {
		t.Errorf("state = %s, want init preserved after rejected transition", session.State())
	}
	if !strings.Contains(buf.String(), "Invalid session transition") {
		t.Errorf("rejected transition not logged, output: %q", buf.String())
	}

	buf.Reset()
	h.transition(session, models.SessionReceiving)
	if session.State() != models.SessionReceiving {
		t.Errorf("state = %s, want receiving", session.State())
	}
	if buf.Len() != 0 {
		t.Errorf("valid transition logged an error: %q", buf.String())
	}
}

func TestVideoInfo(t *testing.T) {
	info := &models.VideoInfo{FPS: 30, FrameCount: 90, Width: 640, Height: 480, DurationSeconds: 3, DurationFormatted: "00:03"}
	router := testRouter(&fakeRunner{info: info}, detect.NewScripted(nil))

	req := uploadRequest(t, "/video-info", "in.mp4", []byte("v"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got models.VideoInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got != *info {
		t.Errorf("info = %+v, want %+v", got, *info)
	}
}

func TestHealth(t *testing.T) {
	router := testRouter(&fakeRunner{}, detect.NewScripted(nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
}

func TestProcessImage(t *testing.T) {
	detector := detect.NewScripted(map[int][]models.Detection{
		0: {{Class: models.ClassFace, Box: models.BBox{X: 8, Y: 8, W: 12, H: 12}, Confidence: 0.9}},
	})
	router := testRouter(&fakeRunner{}, detector)

	src := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	var payload bytes.Buffer
	if err := jpeg.Encode(&payload, src, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}

	req := uploadRequest(t, "/process-image", "face.jpg", payload.Bytes(), map[string]string{
		"anonymization_method": "mask",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("x-total-faces"); got != "1" {
		t.Errorf("x-total-faces = %q, want 1", got)
	}

	out, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a JPEG: %v", err)
	}
	r, g, b, _ := out.At(12, 12).RGBA()
	if r>>8 > 40 || g>>8 > 40 || b>>8 > 40 {
		t.Errorf("masked region not blacked out, got RGB(%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

func TestProcessImageRejectsGarbage(t *testing.T) {
	router := testRouter(&fakeRunner{}, detect.NewScripted(nil))

	req := uploadRequest(t, "/process-image", "x.jpg", []byte("not an image"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
