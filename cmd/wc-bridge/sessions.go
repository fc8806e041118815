package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
	"github.com/quantumauth-io/wc-bridge/internal/setup"
	"github.com/spf13/cobra"
)

func newPairCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pair <wc-uri>",
		Short: "Pair with a dApp from its WalletConnect URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			if err := api.post(cmd.Context(), "/pair", map[string]string{"uri": strings.TrimSpace(args[0])}, nil); err != nil {
				return err
			}
			return success(cmd.OutOrStdout(), "pairing started; approve happens when the dApp proposes a session")
		},
	}
}

func newSessionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List connected dApps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var apps []sessions.ConnectedApp
			if err := api.get(cmd.Context(), "/sessions", &apps); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSONOutput(cmd.OutOrStdout(), apps)
			}
			if len(apps) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no connected apps")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tTOPIC\tCHAIN\tACCOUNTS\tCONNECTED")
			for _, a := range apps {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.Name, shortTopic(a.Topic), a.ChainID, joinOrDash(a.Accounts), since(a.ConnectedAt))
			}
			return tw.Flush()
		},
	}
}

func newDisconnectCmd(c *cli) *cobra.Command {
	var (
		all bool
		yes bool
	)

	cmd := &cobra.Command{
		Use:   "disconnect [topic]",
		Short: "Disconnect one dApp, or every dApp with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass a topic or --all")
			}
			api, err := c.client()
			if err != nil {
				return err
			}

			if !all {
				if err := api.post(cmd.Context(), "/sessions/disconnect", map[string]string{"topic": args[0]}, nil); err != nil {
					return err
				}
				return success(cmd.OutOrStdout(), "disconnected %s", shortTopic(args[0]))
			}

			if !yes {
				ok, err := setup.PromptYesNo(cmd.InOrStdin(), cmd.OutOrStdout(), "Disconnect every connected app? [y/N] ")
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := api.post(cmd.Context(), "/sessions/disconnect-all", nil, nil); err != nil {
				return err
			}
			return success(cmd.OutOrStdout(), "all apps disconnected")
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "disconnect every session")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
