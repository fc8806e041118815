package main

import (
	clientconfig "github.com/quantumauth-io/wc-bridge/cmd/wc-bridge/config"
	"github.com/quantumauth-io/wc-bridge/internal/setup"
	"github.com/spf13/cobra"
)

type cli struct {
	build  setup.BuildInfo
	cfg    *clientconfig.Config
	asJSON bool
}

func newRootCmd(build setup.BuildInfo) *cobra.Command {
	c := &cli{build: build}

	rootCmd := &cobra.Command{
		Use:           "wc-bridge",
		Short:         "WalletConnect bridge for a host wallet",
		Long:          "wc-bridge pairs dApps over WalletConnect and answers their requests with the host wallet. `serve` runs the daemon; the other commands talk to its local API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := clientconfig.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		newVersionCmd(c),
		newServeCmd(c),
		newStatusCmd(c),
		newConnectCmd(c),
		newPairCmd(c),
		newSessionsCmd(c),
		newDisconnectCmd(c),
		newHistoryCmd(c),
		newSettingsCmd(c),
		newNoticesCmd(c),
	)
	return rootCmd
}

func (c *cli) client() (*apiClient, error) {
	return newAPIClient(c.cfg)
}
