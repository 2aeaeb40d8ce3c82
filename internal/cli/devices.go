package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesListCmd)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect registered devices",
}

var devicesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List devices known to the orchestrator",
	RunE:    runDevicesList,
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	var devices []domain.Device
	if err := getJSON(apiAddr+"/api/devices", &devices); err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No devices registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tNAME\tSTATUS\tBATTERY\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\n",
			d.ID, d.Name, d.Status, d.LastMetrics.BatteryLevel*100, d.LastSeenAt.Format(time.Kitchen))
	}
	return w.Flush()
}

func getJSON(url string, v interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", url, apiErr.Error.Message)
		}
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
