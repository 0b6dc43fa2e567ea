package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mediamask/mediamask/pkg/models"
)

var infoCmd = &cobra.Command{
	Use:   "info <video>",
	Short: "Inspect a video container",
	Long:  `Uploads a video for probing and prints its geometry, frame rate, and duration without processing it.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	resp, err := uploadFile("/video-info", args[0], nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	defer resp.Body.Close()

	var info models.VideoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	if IsJSONOutput() {
		return json.NewEncoder(os.Stdout).Encode(info)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Resolution", fmt.Sprintf("%dx%d", info.Width, info.Height))
	table.Append("Frame Rate", fmt.Sprintf("%.3f fps", info.FPS))
	table.Append("Frame Count", fmt.Sprintf("%d", info.FrameCount))
	table.Append("Duration", info.DurationFormatted)
	table.Render()
	return nil
}
