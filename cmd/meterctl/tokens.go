package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect and reset token balances",
}

var tokensStatusCmd = &cobra.Command{
	Use:   "status <user-id>",
	Short: "Show a user's daily and monthly balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokensStatus,
}

var tokensResetDailyCmd = &cobra.Command{
	Use:   "reset-daily",
	Short: "Zero every user's daily usage",
	Long: `Zero daily usage for every user. Normally the API resets lazily on the
first request after midnight UTC; this forces it for all users at once.`,
	Args: cobra.NoArgs,
	RunE: runTokensResetDaily,
}

func init() {
	tokensCmd.AddCommand(tokensStatusCmd)
	tokensCmd.AddCommand(tokensResetDailyCmd)
}

func runTokensStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	t, err := e.repo.GetUserTokens(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load balance for %s: %w", args[0], err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tUSED\tLIMIT\tREMAINING\tLAST RESET")
	fmt.Fprintf(tw, "daily\t%d\t%d\t%d\t%s\n",
		t.DailyTokensUsed, t.DailyLimit, t.DailyRemaining(), t.LastDailyReset.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "monthly\t%d\t%d\t%d\t%s\n",
		t.MonthlyTokensUsed, t.MonthlyLimit, t.MonthlyRemaining(), t.LastMonthlyReset.UTC().Format(time.RFC3339))
	return tw.Flush()
}

func runTokensResetDaily(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.repo.ResetDailyTokens(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset daily usage for %d user(s)\n", n)
	return nil
}
