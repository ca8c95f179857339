// Command swaptest drives a running server through the basic settlement
// round trip: an ask is posted, swapped against and cranked, and the
// resulting balances are checked against the fee schedule.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "swaptest",
		Short:        "Exercise the DEX settlement core over WebSocket",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newKeygenCmd())
	return root
}
