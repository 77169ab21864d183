package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/scope"
)

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Scopes         []scope.Status `json:"scopes"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the scopes a running server has indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			status, err := statusViaHTTP(serverURL)
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if format == cli.OutputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			if err := cli.WriteStatus(out, status.Scopes, format); err != nil {
				return err
			}
			if status.DiskUsageBytes != nil {
				fmt.Fprintf(out, "\ndisk_usage_bytes: %d   # embedding cache on disk\n", *status.DiskUsageBytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}
