package main

import (
	"fmt"

	clienthttp "github.com/quantumauth-io/wc-bridge/internal/http"
	"github.com/spf13/cobra"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show bridge state and the connected wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var st clienthttp.StatusResponse
			if err := api.get(cmd.Context(), "/status", &st); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSONOutput(cmd.OutOrStdout(), st)
			}

			out := cmd.OutOrStdout()
			account := st.Account
			if account == "" {
				account = "not connected"
			}
			_, err = fmt.Fprintf(out, "bridge:   %s\nwallet:   %s\nchain:    %d\nsessions: %d\nversion:  %s\n",
				stateString(st.State), account, st.ChainID, st.Sessions, st.Version)
			return err
		},
	}
}

func newConnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Ask the host wallet for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var res clienthttp.WalletConnectResponse
			if err := api.post(cmd.Context(), "/wallet/connect", nil, &res); err != nil {
				return err
			}
			return success(cmd.OutOrStdout(), "wallet connected: %s (bridge %s)", res.Account, res.Bridge)
		},
	}
}
