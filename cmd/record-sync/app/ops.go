package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/record-sync/internal/httpclient"
)

const defaultServerURL = "http://localhost:8080"

// addServerFlags registers the flags shared by the commands that talk to a running server
func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", defaultServerURL, "Base URL of the record-sync server")
	cmd.Flags().Duration("timeout", httpclient.DefaultTimeout, "Request timeout")
}

func serverClient(cmd *cobra.Command) (string, httpclient.Client, error) {
	server, err := cmd.Flags().GetString("server")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get server flag: %w", err)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get timeout flag: %w", err)
	}
	if _, err := url.ParseRequestURI(server); err != nil {
		return "", nil, fmt.Errorf("invalid server URL %q: %w", server, err)
	}
	return strings.TrimSuffix(server, "/"), httpclient.NewDefaultClient(timeout), nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [PIPELINE]",
		Short: "Show the persisted sync status of a running server",
		Long: `Show the persisted sync status of every pipeline known to a running server, or of
a single pipeline when its name is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, client, err := serverClient(cmd)
			if err != nil {
				return err
			}

			endpoint := base + "/status"
			if len(args) == 1 {
				endpoint += "/" + url.PathEscape(args[0])
			}

			body, err := client.Get(cmd.Context(), endpoint)
			if len(args) == 1 && httpclient.IsNotFound(err) {
				return fmt.Errorf("pipeline %q is not known to %s", args[0], base)
			}
			if err != nil {
				return fmt.Errorf("failed to get sync status: %w", err)
			}
			return printJSON(cmd, json.RawMessage(body))
		},
	}
	addServerFlags(cmd)
	return cmd
}

func newResyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Ask a running server to run a full sync on its next cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, client, err := serverClient(cmd)
			if err != nil {
				return err
			}

			body, err := client.Post(cmd.Context(), base+"/resync")
			if err != nil {
				return fmt.Errorf("failed to request full sync: %w", err)
			}
			return printJSON(cmd, json.RawMessage(body))
		},
	}
	addServerFlags(cmd)
	return cmd
}
