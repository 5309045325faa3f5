package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/subzero/swarm/internal/config"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the swarm dispatch daemon, including
backend connectivity and per-agent telemetry when the daemon's status
endpoint is reachable.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status endpoint response")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()

	if !isRunning(pidFile) {
		fmt.Println("Status: stopped")
		return nil
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Println("Status: running")
	fmt.Printf("PID: %d\n", pid)

	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Printf("Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	return printEndpointStatus()
}

// printEndpointStatus queries the daemon's local status endpoint. A
// stopped endpoint is not an error; the PID-level status already printed.
func printEndpointStatus() error {
	cfg, err := config.Load(cfgFile)
	if err != nil || !cfg.Metrics.Enabled {
		return nil
	}

	url := fmt.Sprintf("http://%s:%d/status", cfg.Metrics.Host, cfg.Metrics.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("Endpoint: unreachable (%s)\n", url)
		return nil
	}
	defer resp.Body.Close()

	if statusJSON {
		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return fmt.Errorf("invalid status response: %w", err)
		}
		fmt.Println(string(raw))
		return nil
	}

	var body struct {
		Backend struct {
			Status              string `json:"status"`
			ConsecutiveFailures int    `json:"consecutive_failures"`
		} `json:"backend"`
		Telemetry struct {
			Agents map[string]struct {
				Calls  int `json:"calls"`
				Errors int `json:"errors"`
			} `json:"agents"`
			Failovers int `json:"failovers"`
			Queued    int `json:"queued"`
		} `json:"telemetry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("invalid status response: %w", err)
	}

	fmt.Printf("Backend: %s\n", body.Backend.Status)
	for agent, stats := range body.Telemetry.Agents {
		fmt.Printf("Agent %s: %d calls, %d errors\n", agent, stats.Calls, stats.Errors)
	}
	fmt.Printf("Failovers: %d\n", body.Telemetry.Failovers)
	fmt.Printf("Queued: %d\n", body.Telemetry.Queued)
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
