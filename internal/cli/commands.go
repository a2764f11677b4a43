package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"sorter/internal/apperr"
	"sorter/internal/dispatcher"
	"sorter/internal/model"
	"sorter/internal/program"
	"sorter/internal/queue"
	rediskey "sorter/pkg/redis"

	"github.com/spf13/cobra"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) formatter {
	return formatter{format: opts.Format, w: cmd.OutOrStdout()}
}

// NewCreateTestOrderCommand creates the create-test-order command.
func NewCreateTestOrderCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create-test-order",
		Short:         "Create the demo order unless active orders exist",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)

			orderID, created, err := s.q.CreateTestOrder(cmd.Context(), s.userID)
			if err != nil {
				return out.fail(ExitFailure, "create test order", nil, err)
			}
			text := fmt.Sprintf("created test order %d", orderID)
			if !created {
				text = "active orders exist, test order not created"
			}
			return out.ok(map[string]any{"order_id": orderID, "created": created}, text)
		},
	}
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(opts *RootOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Claim the next queued job and send its program to the robot",
		Long: `Claim the highest-priority queued job and send its program to the robot.

On success the job stays Running until it is completed. If the program
cannot be found or sent, the job is marked Failed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			d := dispatcher.New(s.q, opts.newSender(s.cfg), program.NewStore(s.cfg.ProgramDir), s.cfg.DispatchTimeout,
				dispatcher.WithLogger(log))
			start := time.Now()
			cycle, err := d.RunCycle(cmd.Context(), &s.userID)
			if err != nil {
				return out.fail(ExitFailure, "dispatch", cycle, err)
			}
			if cycle == nil {
				return out.ok(nil, "queue empty")
			}
			remember(cmd.Context(), s, log, cycle)
			return out.ok(cycle, fmt.Sprintf("dispatched %s for order %d line %d (%s, %s)",
				cycle.Program, cycle.Job.OrderID, cycle.Job.LineItemID, cycle.Job.ItemClass, elapsedMs(time.Since(start))))
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every dispatch step to stderr")
	return cmd
}

// remember records cycle as the operator's last claim so done-last can
// find it. Without Redis the dispatch still counts; only a warning is logged.
func remember(ctx context.Context, s *session, log *slog.Logger, cycle *dispatcher.Cycle) {
	tracker, err := s.claims(ctx)
	if err == nil {
		err = tracker.Remember(ctx, rediskey.LastClaim{
			Operator:   s.operator,
			OrderID:    cycle.Job.OrderID,
			LineItemID: cycle.Job.LineItemID,
			Program:    cycle.Program,
			ClaimedAt:  time.Now(),
		})
	}
	if err != nil {
		log.Warn("last claim not recorded", slog.String("operator", s.operator), slog.String("error", err.Error()))
	}
}

// NewDoneLastCommand creates the done-last command.
func NewDoneLastCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "done-last",
		Short:         "Mark the operator's last dispatched job Done",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)
			ctx := cmd.Context()

			tracker, err := s.claims(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "last-claim tracking", err)
			}
			last, found, err := tracker.Last(ctx, s.operator)
			if err != nil {
				return out.fail(ExitFailure, "done-last", nil, err)
			}
			if !found {
				return out.fail(ExitFailure, "done-last", nil, fmt.Errorf("%w: no job claimed by %s", apperr.ErrNotFound, s.operator))
			}

			orderStatus, err := s.q.Complete(ctx, queue.Completion{
				OrderID:    last.OrderID,
				LineItemID: last.LineItemID,
				Outcome:    model.StatusDone,
				UserID:     &s.userID,
			})
			if err != nil {
				return out.fail(ExitFailure, "done-last", nil, err)
			}
			if err := tracker.Forget(ctx, s.operator); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "forget last claim: %v\n", err)
			}
			return out.ok(map[string]any{
				"order_id":     last.OrderID,
				"line_item_id": last.LineItemID,
				"status":       model.StatusDone,
				"order_status": orderStatus,
			}, fmt.Sprintf("line %d Done, order %d %s", last.LineItemID, last.OrderID, orderStatus))
		},
	}
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(opts *RootOptions) *cobra.Command {
	var outcome, detail string
	cmd := &cobra.Command{
		Use:           "complete <order-id> <line-item-id>",
		Short:         "Report the outcome of a running job",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid order id", err)
			}
			lineID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid line item id", err)
			}
			st, err := model.ParseStatus(outcome)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid outcome", err)
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)

			orderStatus, err := s.q.Complete(cmd.Context(), queue.Completion{
				OrderID:    orderID,
				LineItemID: lineID,
				Outcome:    st,
				UserID:     &s.userID,
				Detail:     detail,
			})
			if err != nil {
				return out.fail(ExitFailure, "complete", nil, err)
			}
			return out.ok(map[string]any{
				"order_id":     orderID,
				"line_item_id": lineID,
				"status":       st,
				"order_status": orderStatus,
			}, fmt.Sprintf("line %d %s, order %d %s", lineID, st, orderID, orderStatus))
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", string(model.StatusDone), "Done or Failed")
	cmd.Flags().StringVar(&detail, "detail", "", "note for the event log")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List jobs of active orders",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)

			if limit <= 0 {
				limit = s.cfg.ListLimit
			}
			jobs, err := s.q.ListActive(cmd.Context(), limit)
			if err != nil {
				return out.fail(ExitFailure, "list", nil, err)
			}
			return out.ok(jobs, jobTable(jobs))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max rows (default $LIST_LIMIT)")
	return cmd
}

func jobTable(jobs []queue.Job) string {
	if len(jobs) == 0 {
		return "no active jobs"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-6s %-10s %-20s %4s %4s  %s", "ORDER", "LINE", "CLASS", "BIN", "QTY", "PRIO", "STATUS")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n%-6d %-6d %-10s %-20s %4d %4d  %s", j.OrderID, j.LineItemID, j.ItemClass, j.TargetBin, j.Quantity, j.Priority, j.Status)
	}
	return b.String()
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Put every Running job back in the queue",
		Long: `Put every Running job and order back to Queued.

Only use this when nothing is executing, e.g. after the robot controller
was restarted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)

			res, err := s.q.RecoverStuck(cmd.Context(), &s.userID)
			if err != nil {
				return out.fail(ExitFailure, "reset", nil, err)
			}
			return out.ok(res, fmt.Sprintf("reset %d line items, %d orders", res.LineItems, res.Orders))
		},
	}
}

// NewTestMoveCommand creates the test-move command.
func NewTestMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "test-move",
		Short:         "Send the built-in test move to the robot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()
			out := newFormatter(opts, cmd)

			start := time.Now()
			err = opts.newSender(s.cfg).Send(cmd.Context(), program.Prepare(program.TestMoveName, program.TestMove), s.cfg.DispatchTimeout)
			if err != nil {
				return out.fail(ExitFailure, "test move", nil, err)
			}
			return out.ok(map[string]any{"program": program.TestMoveName}, "test move sent in "+elapsedMs(time.Since(start)))
		},
	}
}
