package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-linkshare/internal/mirror"
)

// ManifestResponse represents a remote manifest
type ManifestResponse struct {
	URL         string   `json:"url"`
	LinkedPaths []string `json:"linked_paths"`
}

var manifestCmd = &cobra.Command{
	Use:   "manifest [server-url]",
	Short: "Show the linked paths a remote server exposes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp ManifestResponse
		data, err := newClient().Get("/api/remote/manifest?"+url.Values{"url": {args[0]}}.Encode(), &resp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}
		if len(resp.LinkedPaths) == 0 {
			fmt.Fprintln(out, "Remote server shares nothing.")
			return nil
		}
		for _, name := range resp.LinkedPaths {
			fmt.Fprintln(out, name)
		}
		return nil
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror [server-url] [directory]",
	Short: "Copy a remote server's tree into a local directory",
	Long: `Copy every linked path a remote server exposes into a local directory.
The daemon performs the download, so the directory is resolved on the
daemon's host.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("invalid directory: %w", err)
		}

		data, err := newClient().Request(http.MethodPost, "/api/mirror", map[string]string{
			"base_url":   args[0],
			"local_path": dir,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var summary mirror.Summary
		if err := jsonUnmarshal(data, &summary); err != nil {
			return err
		}
		fmt.Fprintf(out, "Mirrored %d file(s) in %d director(ies), %s, into %s\n",
			summary.Files, summary.Directories, humanize.Bytes(uint64(summary.Bytes)), dir)
		return nil
	},
}

func jsonUnmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(mirrorCmd)
}
