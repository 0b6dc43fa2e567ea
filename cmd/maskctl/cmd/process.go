package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mediamask/mediamask/pkg/models"
)

var (
	processOutput     string
	processMethod     string
	processFaces      bool
	processPlates     bool
	processConfidence float64
	processKernel     int
	processBlocks     int
	processSync       bool
)

var processCmd = &cobra.Command{
	Use:   "process <video>",
	Short: "Anonymize a video",
	Long:  `Uploads a video to the daemon, streams per-frame progress, and saves the anonymized output.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processOutput, "out", "o", "", "output path (default: anonymized_<input>.mp4)")
	processCmd.Flags().StringVar(&processMethod, "method", "blur", "anonymization method: blur, pixelate, or mask")
	processCmd.Flags().BoolVar(&processFaces, "faces", true, "detect and anonymize faces")
	processCmd.Flags().BoolVar(&processPlates, "plates", true, "detect and anonymize license plates")
	processCmd.Flags().Float64Var(&processConfidence, "confidence", 0.5, "detection confidence threshold (0-1)")
	processCmd.Flags().IntVar(&processKernel, "kernel", 51, "blur kernel size")
	processCmd.Flags().IntVar(&processBlocks, "blocks", 10, "pixelation block count")
	processCmd.Flags().BoolVar(&processSync, "sync", false, "use the synchronous HTTP endpoint (no progress)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	inputPath := args[0]
	outPath := processOutput
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		outPath = fmt.Sprintf("anonymized_%s.mp4", base)
	}

	start := time.Now()
	if processSync {
		return processOverHTTP(inputPath, outPath, start)
	}
	return processOverWebSocket(inputPath, outPath, start)
}

// processOverWebSocket streams the job over the duplex channel, printing
// progress as it arrives
func processOverWebSocket(inputPath, outPath string, start time.Time) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", inputPath, err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(GetWebSocketURL()+"/ws/process-video", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	method := models.AnonymizationMethod(processMethod)
	preview := false // the CLI has nowhere to render previews
	submit := models.SubmitMessage{
		VideoData:           base64.StdEncoding.EncodeToString(data),
		Filename:            filepath.Base(inputPath),
		DetectFaces:         &processFaces,
		DetectPlates:        &processPlates,
		Method:              &method,
		ConfidenceThreshold: &processConfidence,
		BlurKernelSize:      &processKernel,
		PixelateBlocks:      &processBlocks,
		EnablePreview:       &preview,
	}
	if err := conn.WriteJSON(&submit); err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	for {
		var msg struct {
			Type            string       `json:"type"`
			Message         string       `json:"message"`
			Frame           int          `json:"frame"`
			TotalFrames     int          `json:"total_frames"`
			ProgressPercent float64      `json:"progress_percent"`
			FacesInFrame    int          `json:"faces_in_frame"`
			PlatesInFrame   int          `json:"plates_in_frame"`
			VideoData       string       `json:"video_data"`
			Stats           models.Stats `json:"stats"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}

		switch msg.Type {
		case "progress":
			fmt.Printf("\rFrame %d/%d (%.1f%%)  faces: %d  plates: %d   ",
				msg.Frame+1, msg.TotalFrames, msg.ProgressPercent, msg.FacesInFrame, msg.PlatesInFrame)
		case "video":
			fmt.Println()
			out, err := base64.StdEncoding.DecodeString(msg.VideoData)
			if err != nil {
				return fmt.Errorf("invalid video payload: %w", err)
			}
			if err := os.WriteFile(outPath, out, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			printJobResult(outPath, msg.Stats, time.Since(start))
			return nil
		case "error":
			fmt.Println()
			return fmt.Errorf("job failed: %s", msg.Message)
		default:
			return fmt.Errorf("unexpected message type %q", msg.Type)
		}
	}
}

// processOverHTTP uses the synchronous endpoint: upload, wait, save
func processOverHTTP(inputPath, outPath string, start time.Time) error {
	resp, err := uploadFile("/process-video", inputPath, map[string]string{
		"detect_faces":         strconv.FormatBool(processFaces),
		"detect_plates":        strconv.FormatBool(processPlates),
		"anonymization_method": processMethod,
		"confidence_threshold": fmt.Sprintf("%g", processConfidence),
		"blur_kernel_size":     strconv.Itoa(processKernel),
		"pixelate_blocks":      strconv.Itoa(processBlocks),
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	printJobResult(outPath, statsFromHeaders(resp), time.Since(start))
	return nil
}

// statsFromHeaders rebuilds job stats from the sync endpoint's headers
func statsFromHeaders(resp *http.Response) models.Stats {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(resp.Header.Get(key))
		return n
	}
	return models.Stats{
		TotalFaces:           atoi("x-total-faces"),
		TotalPlates:          atoi("x-total-plates"),
		FramesProcessed:      atoi("x-frames-processed"),
		FramesWithDetections: atoi("x-frames-with-detections"),
	}
}

func printJobResult(outPath string, stats models.Stats, elapsed time.Duration) {
	if IsJSONOutput() {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"output":  outPath,
			"stats":   stats,
			"elapsed": elapsed.Seconds(),
		})
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Output", outPath)
	table.Append("Frames Processed", fmt.Sprintf("%d", stats.FramesProcessed))
	table.Append("Frames With Detections", fmt.Sprintf("%d", stats.FramesWithDetections))
	table.Append("Faces Anonymized", fmt.Sprintf("%d", stats.TotalFaces))
	table.Append("Plates Anonymized", fmt.Sprintf("%d", stats.TotalPlates))
	table.Append("Elapsed", elapsed.Round(time.Millisecond).String())
	table.Render()
}
