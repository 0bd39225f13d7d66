package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/platewatch/platewatch/internal/monitoring"
)

var metricsAddr string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Fetch pipeline health counters from a running serve instance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := metricsAddr
		if addr == "" {
			addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}

		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, addr+"/metrics", nil)
		if err != nil {
			return eris.Wrap(err, "metrics request")
		}

		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrap(err, "metrics fetch")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("metrics fetch: unexpected status %d", resp.StatusCode)
		}

		var snap monitoring.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return eris.Wrap(err, "metrics decode")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsAddr, "addr", "", "base URL of the serve instance (default http://localhost:<server.port>)")
	rootCmd.AddCommand(metricsCmd)
}
