package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// ServerListResponse represents the list servers response
type ServerListResponse struct {
	Network string               `json:"network"`
	Servers []domain.ServerGroup `json:"servers"`
}

// ServerResponse represents a started server
type ServerResponse struct {
	Network string `json:"network"`
	domain.ServerGroup
}

var serversCmd = &cobra.Command{
	Use:     "servers",
	Aliases: []string{"server"},
	Short:   "Manage running servers",
	Long:    `Commands for starting, listing and stopping file-serving instances.`,
}

var serversListCmd = &cobra.Command{
	Use:   "list [network]",
	Short: "List the running servers of a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp ServerListResponse
		data, err := newClient().Get("/api/networks/"+url.PathEscape(args[0])+"/servers", &resp)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		if len(resp.Servers) == 0 {
			fmt.Fprintf(out, "No servers running for '%s'.\n", args[0])
			return nil
		}

		rows := make([][]string, len(resp.Servers))
		for i, s := range resp.Servers {
			rows[i] = []string{
				strconv.FormatUint(s.ID, 10),
				addressList(s.Addresses),
				humanize.Time(s.StartedAt),
			}
		}
		printTable(out, []string{"ID", "ADDRESSES", "STARTED"}, rows)
		return nil
	},
}

var serverStartMode string

var serversStartCmd = &cobra.Command{
	Use:   "start [network]",
	Short: "Start a server for a saved network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := domain.ParseMode(serverStartMode)
		if err != nil {
			return err
		}

		data, err := newClient().Request(http.MethodPost,
			"/api/networks/"+url.PathEscape(args[0])+"/servers",
			map[string]interface{}{"mode": mode},
		)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var resp ServerResponse
		if err := jsonUnmarshal(data, &resp); err != nil {
			return err
		}
		fmt.Fprintf(out, "Server %d started for '%s':\n", resp.ID, resp.Network)
		for _, a := range resp.Addresses {
			fmt.Fprintf(out, "  %s\n", a.URL())
		}
		return nil
	},
}

var serversStopCmd = &cobra.Command{
	Use:   "stop [network] [id]",
	Short: "Stop a running server",
	Long:  `Stop a running server. In-flight downloads are allowed to finish.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[1], 10, 64); err != nil {
			return fmt.Errorf("invalid server id %q", args[1])
		}
		_, err := newClient().Request(http.MethodDelete,
			"/api/networks/"+url.PathEscape(args[0])+"/servers/"+args[1], nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server %s of '%s' stopping.\n", args[1], args[0])
		return nil
	},
}

func addressList(addrs []domain.Address) string {
	urls := make([]string, len(addrs))
	for i, a := range addrs {
		urls[i] = a.URL()
	}
	return strings.Join(urls, " ")
}

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversStartCmd)
	serversCmd.AddCommand(serversStopCmd)

	serversStartCmd.Flags().StringVarP(&serverStartMode, "mode", "m", string(domain.ModeLocalHost), "Server mode: LocalHost, Internet, DarkWeb")
}
