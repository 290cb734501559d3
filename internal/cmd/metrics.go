package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/piilens/piilens/internal/config"
	errwrap "github.com/piilens/piilens/internal/errors"
	"github.com/piilens/piilens/internal/output"
	"github.com/piilens/piilens/internal/server/middleware"
)

var (
	metricsFormat string
	metricsURL    string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Fetch aggregated request metrics from a running server",
	Long: `Fetch the aggregated request metrics snapshot from a running
server's /metrics endpoint and render it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(metricsFormat)
		if err != nil {
			return errwrap.NewInvalidInputError(err.Error())
		}

		url := metricsURL
		if url == "" {
			cfg, err := config.Load(cmd.Context(), cfgFile)
			if err != nil {
				return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration load failed")
			}
			host := cfg.Server.Host
			if host == "" || host == "0.0.0.0" {
				host = "localhost"
			}
			url = fmt.Sprintf("http://%s:%d/metrics", host, cfg.Server.Port)
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "failed to build metrics request")
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return errwrap.WrapExternalService(cmd.Context(), err, "failed to reach the server")
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return errwrap.NewExternalServiceError(
				fmt.Sprintf("metrics endpoint returned status %d", resp.StatusCode))
		}

		var snapshot middleware.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return errwrap.WrapExternalService(cmd.Context(), err, "failed to decode metrics snapshot")
		}

		formatter := output.NewFormatter(format)
		rendered, err := formatter.FormatMetrics(&snapshot)
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "failed to render metrics")
		}

		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)

	metricsCmd.Flags().StringVarP(&metricsFormat, "format", "f", "table", "output format (table, json)")
	metricsCmd.Flags().StringVar(&metricsURL, "url", "", "metrics endpoint URL (defaults to the configured server address)")
}
