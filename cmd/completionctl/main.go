package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cassiomorais/ordercompletion/internal/bootstrap"
	infraRedis "github.com/cassiomorais/ordercompletion/internal/infrastructure/redis"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "completionctl",
		Short:         "Inspect and drive scheduled order completion",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(deferCmd())
	rootCmd.AddCommand(fireCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(requestCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withCompletion bootstraps the app and wires the completion components for
// a single command run.
func withCompletion(ctx context.Context, fn func(app *bootstrap.App, comp *bootstrap.Completion) error) error {
	app, err := bootstrap.New(ctx, "completionctl", "completionctl")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	comp, err := app.Completion()
	if err != nil {
		return fmt.Errorf("wire completion: %w", err)
	}
	return fn(app, comp)
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List the pending recheck jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompletion(cmd.Context(), func(_ *bootstrap.App, comp *bootstrap.Completion) error {
				jobs, err := comp.Scheduler.Pending(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No pending jobs")
					return nil
				}
				for _, j := range jobs {
					fmt.Fprintf(out, "%s  %s  run_at=%s  orders=%s\n",
						j.Handle, j.Hook, j.RunAt.Format(time.RFC3339), strings.Join(j.Payload, ","))
				}
				return nil
			})
		},
	}
}

func deferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defer [order-id...]",
		Short: "Add orders to the pending recheck job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompletion(cmd.Context(), func(_ *bootstrap.App, comp *bootstrap.Completion) error {
				res, err := comp.Scheduler.DeferIDs(cmd.Context(), args...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Action: %s\n", res.Action)
				if res.Job != nil {
					fmt.Fprintf(out, "Job:    %s (run_at=%s, %d orders)\n",
						res.Job.Handle, res.Job.RunAt.Format(time.RFC3339), len(res.Job.Payload))
				}
				return nil
			})
		},
	}
}

func fireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fire [order-id...]",
		Short: "Recheck orders now, as if their job had fired",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompletion(cmd.Context(), func(_ *bootstrap.App, comp *bootstrap.Completion) error {
				report, err := comp.Scheduler.Fire(cmd.Context(), args)
				out := cmd.OutOrStdout()
				if report != nil {
					fmt.Fprintf(out, "Completed:   %s\n", strings.Join(report.Completed, ","))
					fmt.Fprintf(out, "Rescheduled: %s\n", strings.Join(report.Rescheduled, ","))
					fmt.Fprintf(out, "Failed:      %s\n", strings.Join(report.Failed, ","))
					fmt.Fprintf(out, "Skipped:     %s\n", strings.Join(report.Skipped, ","))
				}
				return err
			})
		},
	}
}

func evaluateCmd() *cobra.Command {
	var increment bool

	cmd := &cobra.Command{
		Use:   "evaluate [order-id]",
		Short: "Run the completion gate on one order",
		Long: `Run the completion gate on one order and print the decision.
The order is moved to on_hold or failed exactly as during a real completion
attempt, but it is not added to the recheck job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompletion(cmd.Context(), func(_ *bootstrap.App, comp *bootstrap.Completion) error {
				o, err := comp.Orders.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				d, err := comp.Gate.Evaluate(cmd.Context(), o, increment)
				fmt.Fprintf(cmd.OutOrStdout(), "Decision: %s\nStatus:   %s\nRetries:  %d\n", d, o.Status, o.RescheduleCount())
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&increment, "increment", "i", false, "Bump the reschedule counter on defer")

	return cmd
}

func requestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request [order-id...]",
		Short: "Queue completion requests for the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompletion(cmd.Context(), func(app *bootstrap.App, _ *bootstrap.Completion) error {
				producer := infraRedis.NewStreamProducer(app.Redis)
				for _, id := range args {
					if err := producer.RequestCompletion(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %s on %s\n", id, infraRedis.CompletionRequestStream)
				}
				return nil
			})
		},
	}
}
