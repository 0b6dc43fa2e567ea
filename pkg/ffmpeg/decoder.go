package ffmpeg

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os/exec"

	"github.com/mediamask/mediamask/pkg/models"
)

// decodeArgs builds the ffmpeg invocation streaming raw RGBA to stdout
func decodeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

// Decoder is a FrameSource backed by an ffmpeg subprocess. Frames are
// read as fixed-size raw RGBA buffers off the pipe, one at a time, so
// decoder memory stays at a single frame regardless of video length.
type Decoder struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	width     int
	height    int
	frameSize int
	index     int
	closed    bool
}

// NewDecoder starts decoding the container at path. The caller must
// Close the decoder on every exit path.
func NewDecoder(path string, info *models.VideoInfo) (*Decoder, error) {
	cmd := exec.Command("ffmpeg", decodeArgs(path)...)

	d := &Decoder{
		cmd:       cmd,
		width:     info.Width,
		height:    info.Height,
		frameSize: info.Width * info.Height * 4,
	}
	cmd.Stderr = &d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder pipe: %w", err)
	}
	d.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg decoder: %w", err)
	}
	return d, nil
}

// Next reads one frame. Returns io.EOF after the last full frame.
func (d *Decoder) Next() (*models.Frame, error) {
	buf := make([]byte, d.frameSize)
	n, err := io.ReadFull(d.stdout, buf)
	if err != nil {
		if (err == io.EOF || err == io.ErrUnexpectedEOF) && n == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("truncated frame %d (%d of %d bytes): %s",
			d.index, n, d.frameSize, d.errorDetail(err))
	}

	frame := &models.Frame{
		Index: d.index,
		Img: &image.NRGBA{
			Pix:    buf,
			Stride: d.width * 4,
			Rect:   image.Rect(0, 0, d.width, d.height),
		},
	}
	d.index++
	return frame, nil
}

// errorDetail prefers ffmpeg's stderr over the raw pipe error
func (d *Decoder) errorDetail(err error) string {
	if msg := bytes.TrimSpace(d.stderr.Bytes()); len(msg) > 0 {
		return string(msg)
	}
	return err.Error()
}

// Close terminates the subprocess and reaps it
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.stdout.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	return nil
}
