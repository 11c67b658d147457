package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// NetworkListResponse represents the list networks response
type NetworkListResponse struct {
	Networks []domain.Network `json:"networks"`
}

var networksCmd = &cobra.Command{
	Use:     "networks",
	Aliases: []string{"network", "net"},
	Short:   "Manage saved networks",
	Long:    `Commands for managing named selections of linked paths.`,
}

var networksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp NetworkListResponse
		data, err := newClient().Get("/api/networks", &resp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		if len(resp.Networks) == 0 {
			fmt.Fprintln(out, "No networks found.")
			return nil
		}

		rows := make([][]string, len(resp.Networks))
		for i, n := range resp.Networks {
			rows[i] = []string{n.Name, portString(n.Port), linkedPathNames(n.LinkedPaths)}
		}
		printTable(out, []string{"NAME", "PORT", "LINKED PATHS"}, rows)
		return nil
	},
}

var (
	networkCreatePaths []string
	networkCreatePort  uint16
)

var networksCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Save a network",
	Long: `Save a network made of already linked paths, selected by name with
--path (repeatable). --port pins the network to a fixed port; without it
every server gets a free one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(networkCreatePaths) == 0 {
			return fmt.Errorf("at least one --path is required")
		}

		client := newClient()
		var linked LinkedPathListResponse
		if _, err := client.Get("/api/linked-paths", &linked); err != nil {
			return err
		}
		selected, err := selectLinkedPaths(linked.LinkedPaths, networkCreatePaths)
		if err != nil {
			return err
		}

		network := domain.Network{Name: args[0], LinkedPaths: selected, Port: networkCreatePort}
		data, err := client.Request(http.MethodPost, "/api/networks", network)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}
		fmt.Fprintf(out, "Network '%s' created with %d linked path(s).\n", network.Name, len(selected))
		return nil
	},
}

var networksRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a saved network",
	Long:    `Remove a saved network. Servers already running for it keep running.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := newClient().Request(http.MethodDelete, "/api/networks/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Network '%s' removed.\n", args[0])
		return nil
	},
}

// selectLinkedPaths picks the named entries from all, in the order given.
func selectLinkedPaths(all []domain.LinkedPath, names []string) ([]domain.LinkedPath, error) {
	byName := make(map[string]domain.LinkedPath, len(all))
	for _, lp := range all {
		byName[lp.Name] = lp
	}
	selected := make([]domain.LinkedPath, 0, len(names))
	for _, name := range names {
		lp, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no linked path named %q", name)
		}
		selected = append(selected, lp)
	}
	return selected, nil
}

func linkedPathNames(paths []domain.LinkedPath) string {
	names := make([]string, len(paths))
	for i, lp := range paths {
		names[i] = lp.Name
	}
	return strings.Join(names, ", ")
}

func portString(port uint16) string {
	if port == 0 {
		return "auto"
	}
	return strconv.Itoa(int(port))
}

func init() {
	rootCmd.AddCommand(networksCmd)
	networksCmd.AddCommand(networksListCmd)
	networksCmd.AddCommand(networksCreateCmd)
	networksCmd.AddCommand(networksRemoveCmd)

	networksCreateCmd.Flags().StringSliceVarP(&networkCreatePaths, "path", "p", nil, "Linked path name to include (repeatable)")
	networksCreateCmd.Flags().Uint16Var(&networkCreatePort, "port", 0, "Fixed port for servers of this network")
}
