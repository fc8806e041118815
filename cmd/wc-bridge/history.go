package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/setup"
	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var list []history.TransactionRecord
			if err := api.get(cmd.Context(), "/transactions", &list); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSONOutput(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no transactions")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STATUS\tCHAIN\tPAIR\tAGGREGATOR\tTX\tCREATED")
			for _, r := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s→%s\t%s\t%s\t%s\n",
					statusString(r.Status), r.FromChain, r.FromToken, r.ToToken, r.Aggregator, r.ExplorerURL, since(r.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newHistoryClearCmd(c))
	return cmd
}

func newHistoryClearCmd(c *cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every recorded transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			if !yes {
				ok, err := setup.PromptYesNo(cmd.InOrStdin(), cmd.OutOrStdout(), "Clear the transaction history? [y/N] ")
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := api.post(cmd.Context(), "/transactions/clear", nil, nil); err != nil {
				return err
			}
			return success(cmd.OutOrStdout(), "transaction history cleared")
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newSettingsCmd(c *cli) *cobra.Command {
	var patch history.Settings

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change swap settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}

			var out history.Settings
			if patchRequested(cmd) {
				err = api.post(cmd.Context(), "/settings", patch, &out)
			} else {
				err = api.get(cmd.Context(), "/settings", &out)
			}
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSONOutput(cmd.OutOrStdout(), out)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "aggregator: %s\nslippage:   %.2f%%\nfrom chain: %d\nto chain:   %d\n",
				out.PreferredAggregator, out.Slippage, out.DefaultFromChain, out.DefaultToChain)
			return err
		},
	}
	cmd.Flags().StringVar(&patch.PreferredAggregator, "aggregator", "", "preferred aggregator, or auto")
	cmd.Flags().Float64Var(&patch.Slippage, "slippage", 0, "slippage tolerance in percent (0-50)")
	cmd.Flags().Uint64Var(&patch.DefaultFromChain, "from-chain", 0, "default source chain id")
	cmd.Flags().Uint64Var(&patch.DefaultToChain, "to-chain", 0, "default destination chain id")
	return cmd
}

func patchRequested(cmd *cobra.Command) bool {
	for _, name := range []string{"aggregator", "slippage", "from-chain", "to-chain"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func newNoticesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "notices",
		Short: "Show recent notices from the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var list []notice.Notice
			if err := api.get(cmd.Context(), "/notices", &list); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSONOutput(cmd.OutOrStdout(), list)
			}
			for _, n := range list {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %s\n", since(n.Time), levelString(n.Level), n.Message); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
