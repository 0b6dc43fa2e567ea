package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/mediamask/mediamask/pkg/models"
)

// Client talks to a local inference service over HTTP. The service
// accepts a JPEG frame and returns located regions as JSON.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a detector client for the given inference endpoint
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// wireDetection is the inference service's response element
type wireDetection struct {
	Class      string  `json:"class"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Detect sends the frame as a JPEG multipart upload and decodes the
// detection list. Boxes are clamped to the frame before returning.
func (c *Client) Detect(ctx context.Context, frame *models.Frame, opts Options) ([]models.Detection, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("frame", fmt.Sprintf("frame_%d.jpg", frame.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := jpeg.Encode(part, frame.Img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Index, err)
	}
	writer.WriteField("detect_faces", strconv.FormatBool(opts.Faces))
	writer.WriteField("detect_plates", strconv.FormatBool(opts.Plates))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{FrameIndex: frame.Index, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &Error{
			FrameIndex: frame.Index,
			Err:        fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(msg)),
		}
	}

	var wire struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &Error{FrameIndex: frame.Index, Err: fmt.Errorf("failed to decode detections: %w", err)}
	}

	detections := make([]models.Detection, 0, len(wire.Detections))
	for _, d := range wire.Detections {
		det := models.Detection{
			Class:      models.DetectionClass(d.Class),
			Box:        models.BBox{X: d.X, Y: d.Y, W: d.W, H: d.H}.Clamp(frame.Width(), frame.Height()),
			Confidence: d.Confidence,
		}
		if det.Box.Empty() {
			continue
		}
		detections = append(detections, det)
	}
	return detections, nil
}

// Ping checks whether the inference service answers at all. Used by the
// daemon health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
