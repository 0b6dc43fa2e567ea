package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	imageOutput string
	imageMethod string
)

var imageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Anonymize a still image",
	Args:  cobra.ExactArgs(1),
	RunE:  runImage,
}

func init() {
	imageCmd.Flags().StringVarP(&imageOutput, "out", "o", "", "output path (default: anonymized_<input>)")
	imageCmd.Flags().StringVar(&imageMethod, "method", "blur", "anonymization method: blur, pixelate, or mask")
	rootCmd.AddCommand(imageCmd)
}

func runImage(cmd *cobra.Command, args []string) error {
	inputPath := args[0]
	outPath := imageOutput
	if outPath == "" {
		outPath = "anonymized_" + filepath.Base(inputPath)
	}

	resp, err := uploadFile("/process-image", inputPath, map[string]string{
		"anonymization_method": imageMethod,
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

	faces, _ := strconv.Atoi(resp.Header.Get("x-total-faces"))
	plates, _ := strconv.Atoi(resp.Header.Get("x-total-plates"))
	fmt.Printf("Saved %s (faces: %d, plates: %d)\n", outPath, faces, plates)
	return nil
}
