package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// LinkedPathListResponse represents the list linked paths response
type LinkedPathListResponse struct {
	LinkedPaths []domain.LinkedPath `json:"linked_paths"`
}

var pathsCmd = &cobra.Command{
	Use:     "paths",
	Aliases: []string{"path"},
	Short:   "Manage linked paths",
	Long:    `Commands for managing the local directories available for sharing.`,
}

var pathsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List linked paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp LinkedPathListResponse
		data, err := newClient().Get("/api/linked-paths", &resp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		if len(resp.LinkedPaths) == 0 {
			fmt.Fprintln(out, "No linked paths found.")
			return nil
		}

		rows := make([][]string, len(resp.LinkedPaths))
		for i, lp := range resp.LinkedPaths {
			rows[i] = []string{lp.Name, lp.Path}
		}
		printTable(out, []string{"NAME", "PATH"}, rows)
		return nil
	},
}

var pathsLinkCmd = &cobra.Command{
	Use:   "link [name] [directory]",
	Short: "Link a local directory",
	Long: `Link a local directory under a name. The directory is made absolute
before it is sent, and the name becomes the top-level entry clients see.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("invalid directory: %w", err)
		}

		lp := domain.LinkedPath{Name: args[0], Path: dir}
		data, err := newClient().Request(http.MethodPost, "/api/linked-paths", lp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}
		fmt.Fprintf(out, "Linked '%s' -> %s\n", lp.Name, lp.Path)
		return nil
	},
}

var pathsUnlinkCmd = &cobra.Command{
	Use:   "unlink [name]",
	Short: "Unlink a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := newClient().Request(http.MethodDelete, "/api/linked-paths/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unlinked '%s'.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
	pathsCmd.AddCommand(pathsListCmd)
	pathsCmd.AddCommand(pathsLinkCmd)
	pathsCmd.AddCommand(pathsUnlinkCmd)
}
