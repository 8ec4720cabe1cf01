package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-checkout-reconcile/internal/logging"
	"github.com/imrishuroy/go-checkout-reconcile/internal/notify"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [orderId]",
		Short: "Show the current payment status of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _ := cmd.Flags().GetString("api")
			ev, err := newAPISource(api).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEvent(cmd.OutOrStdout(), ev)
			fmt.Fprintln(cmd.OutOrStdout(), notify.MessageFor(ev.Status))
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	defaults := notify.DefaultWatchConfig()
	cmd := &cobra.Command{
		Use:   "watch [orderId]",
		Short: "Wait for an order to be paid or declined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _ := cmd.Flags().GetString("api")
			verbose, _ := cmd.Flags().GetBool("verbose")
			cfg := defaults
			cfg.GraceDelay, _ = cmd.Flags().GetDuration("grace")
			cfg.Interval, _ = cmd.Flags().GetDuration("interval")
			cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
			cfg.Dwell, _ = cmd.Flags().GetDuration("dwell")

			var logger *slog.Logger
			if verbose {
				logger = logging.New(cmd.ErrOrStderr(), "debug", false)
			} else {
				logger = logging.Discard()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			w := notify.NewWatcher(cfg, logger)
			w.OnStatus = func(ev notify.StatusEvent) { printEvent(out, ev) }

			res := w.Poll(ctx, args[0], newAPISource(api))
			printResult(out, res)
			dwell(ctx, res.Dwell)
			return nil
		},
	}

	cmd.Flags().Duration("grace", defaults.GraceDelay, "Delay before the first status check")
	cmd.Flags().Duration("interval", defaults.Interval, "Time between status checks")
	cmd.Flags().Duration("timeout", defaults.Timeout, "Give up after this long")
	cmd.Flags().Duration("dwell", defaults.Dwell, "How long the final result stays on screen")
	cmd.Flags().BoolP("verbose", "v", false, "Log every status check to stderr")

	return cmd
}

// printResult renders the terminal screen: outcome, message and the order references.
func printResult(w io.Writer, res notify.Result) {
	fmt.Fprintf(w, "%s: %s\n", res.Outcome, res.Message)
	if res.Outcome == notify.OutcomeDeclined && res.ResponseText != "" {
		fmt.Fprintf(w, "processor said: %s\n", res.ResponseText)
	}
	fmt.Fprintf(w, "order id:       %s\n", res.OrderID)
	if res.TransactionID != "" {
		fmt.Fprintf(w, "transaction id: %s\n", res.TransactionID)
	}
	if res.AuthCode != "" {
		fmt.Fprintf(w, "auth code:      %s\n", res.AuthCode)
	}
}

// dwell keeps the result on screen for d, or until ctx is done.
func dwell(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func printEvent(w io.Writer, ev notify.StatusEvent) {
	line := fmt.Sprintf("%s  order=%s status=%s", time.Now().Format(time.TimeOnly), ev.OrderID, ev.Status)
	if ev.TransactionID != "" {
		line += " transaction=" + ev.TransactionID
	}
	fmt.Fprintln(w, line)
}
