// Package ffmpeg drives ffmpeg/ffprobe subprocesses for container
// decode and encode. Frames cross the process boundary as raw RGBA over
// pipes, so the pipeline never depends on a cgo media binding.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mediamask/mediamask/pkg/models"
)

// probeArgs builds the ffprobe invocation for the first video stream
func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames,duration",
		"-of", "json",
		path,
	}
}

type probeOutput struct {
	Streams []struct {
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		FrameRate string `json:"r_frame_rate"`
		NbFrames  string `json:"nb_frames"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe inspects a video container and returns its stream geometry,
// frame rate, and frame count. A container ffprobe cannot parse is a
// decode failure.
func Probe(ctx context.Context, path string) (*models.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", probeArgs(path)...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found in %s", path)
	}

	stream := probed.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d in %s", stream.Width, stream.Height, path)
	}

	fps, err := parseFrameRate(stream.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("invalid frame rate %q: %w", stream.FrameRate, err)
	}

	duration, _ := strconv.ParseFloat(stream.Duration, 64)

	frameCount, _ := strconv.Atoi(stream.NbFrames)
	if frameCount <= 0 && duration > 0 && fps > 0 {
		// Some containers omit nb_frames; estimate from duration
		frameCount = int(math.Round(duration * fps))
	}
	if frameCount <= 0 {
		return nil, fmt.Errorf("cannot determine frame count for %s", path)
	}

	return &models.VideoInfo{
		FPS:               fps,
		FrameCount:        frameCount,
		Width:             stream.Width,
		Height:            stream.Height,
		DurationSeconds:   math.Round(duration*100) / 100,
		DurationFormatted: models.FormatDuration(duration),
	}, nil
}

// parseFrameRate resolves ffprobe's rational rate ("30000/1001") to a float
func parseFrameRate(rate string) (float64, error) {
	if rate == "" {
		return 0, fmt.Errorf("empty rate")
	}
	if num, den, found := strings.Cut(rate, "/"); found {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, err
		}
		if d == 0 {
			return 0, fmt.Errorf("zero denominator")
		}
		return n / d, nil
	}
	return strconv.ParseFloat(rate, 64)
}
