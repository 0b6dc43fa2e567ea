package ffmpeg

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"

	"github.com/mediamask/mediamask/pkg/models"
)

// encodeArgs builds the ffmpeg invocation reading raw RGBA from stdin
// and writing an H.264 MP4. yuv420p keeps the output playable in
// browsers; faststart moves the moov atom up front for streaming.
func encodeArgs(outPath string, info *models.VideoInfo) []string {
	return []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", fmt.Sprintf("%g", info.FPS),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", outPath,
	}
}

// Encoder is a FrameSink backed by an ffmpeg subprocess. It is owned by
// the pipeline's single encode consumer; Write is never called
// concurrently.
type Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	closed bool
}

// NewEncoder starts the encoder writing to outPath. The caller must
// Close the encoder on every exit path.
func NewEncoder(outPath string, info *models.VideoInfo) (*Encoder, error) {
	cmd := exec.Command("ffmpeg", encodeArgs(outPath, info)...)

	e := &Encoder{cmd: cmd}
	cmd.Stderr = &e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder pipe: %w", err)
	}
	e.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}
	return e, nil
}

// Write feeds one raw frame to the encoder
func (e *Encoder) Write(frame *models.Frame) error {
	if _, err := e.stdin.Write(frame.Img.Pix); err != nil {
		return fmt.Errorf("failed to encode frame %d: %s", frame.Index, e.errorDetail(err))
	}
	return nil
}

// Close flushes the stream and waits for the encoder to finish. The
// returned error distinguishes a clean flush from an encode failure.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder exited with error: %s", e.errorDetail(err))
	}
	return nil
}

// Abort kills the encoder without flushing. Used on cancellation paths
// where the partial artifact is discarded anyway.
func (e *Encoder) Abort() {
	if e.closed {
		return
	}
	e.closed = true
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
}

func (e *Encoder) errorDetail(err error) string {
	if msg := bytes.TrimSpace(e.stderr.Bytes()); len(msg) > 0 {
		return string(msg)
	}
	return err.Error()
}
