package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rivalcast/internal/control"
	"rivalcast/internal/queue"
	"rivalcast/internal/status"
)

func newOrderCommand(ctx *commandContext) *cobra.Command {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Create and inspect comparison orders",
	}
	orderCmd.AddCommand(newOrderCreateCommand(ctx))
	orderCmd.AddCommand(newOrderListCommand(ctx))
	orderCmd.AddCommand(newOrderStatusCommand(ctx))
	return orderCmd
}

func newOrderCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		selfURL     string
		competitors []string
		live        bool
		expected    float64
		priority    int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order for one self stream and its competitors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := control.IntakeRequest{Priority: priority}
			req.Files = append(req.Files, control.IntakeFile{
				Role:             queue.RoleSelf,
				SourceURL:        selfURL,
				ExpectedDuration: expected,
				Live:             live,
			})
			for _, url := range competitors {
				req.Files = append(req.Files, control.IntakeFile{
					Role:             "competitor",
					SourceURL:        url,
					ExpectedDuration: expected,
					Live:             live,
				})
			}

			return ctx.withController(func(c *control.Controller) error {
				result, err := c.Intake(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created order %d\n", result.OrderID)
				fmt.Fprintf(out, "Video files: %s\n", formatIDs(result.VideoFileIDs))
				fmt.Fprintf(out, "Queued tasks: %s\n", formatIDs(result.TaskIDs))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&selfURL, "self", "", "Source URL of the self stream")
	cmd.Flags().StringArrayVar(&competitors, "competitor", nil, "Source URL of a competitor stream (repeatable)")
	cmd.Flags().BoolVar(&live, "live", false, "Capture the streams live instead of downloading them")
	cmd.Flags().Float64Var(&expected, "expected-duration", 0, "Expected recording length in seconds")
	cmd.Flags().IntVar(&priority, "priority", 0, "Order priority (higher runs first)")
	return cmd
}

func newOrderListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			orders, err := store.ListOrders(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, orders)
			}
			out := cmd.OutOrStdout()
			if len(orders) == 0 {
				fmt.Fprintln(out, "No orders")
				return nil
			}
			rows := make([][]string, 0, len(orders))
			for _, o := range orders {
				rows = append(rows, []string{
					strconv.FormatInt(o.ID, 10),
					colorStatus(out, string(o.Status)),
					strconv.Itoa(o.Priority),
					yesNo(o.NeedsAttention),
					formatTime(&o.CreatedAt),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Order", "Status", "Priority", "Attention", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of orders to show")
	return cmd
}

func newOrderStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id>",
		Short: "Show task progress for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			return ctx.withStatus(func(agg *status.Aggregator, _ *queue.Store) error {
				progress, err := agg.OrderProgress(cmd.Context(), orderID)
				if errors.Is(err, queue.ErrOrderNotFound) {
					return fmt.Errorf("order %d not found", orderID)
				}
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, progress)
				}
				renderOrderProgress(cmd, progress)
				return nil
			})
		},
	}
}

func renderOrderProgress(cmd *cobra.Command, p status.OrderProgress) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Order %d: %s (%.1f%%)\n", p.OrderID, colorStatus(out, p.OrderStatus), p.Progress)
	if p.NeedsAttention {
		fmt.Fprintln(out, "Needs attention: yes")
	}
	if p.ReportURI != "" {
		fmt.Fprintf(out, "Report: %s\n", p.ReportURI)
	}
	if p.CurrentTask != nil {
		fmt.Fprintf(out, "Current: %s task %d\n", label(p.CurrentTask.TaskType), p.CurrentTask.ID)
	}
	s := p.TaskStats
	fmt.Fprintf(out, "Tasks: %d total, %d pending, %d processing, %d completed, %d failed\n",
		s.Total, s.Pending, s.Processing, s.Completed, s.Failed)
	if len(p.Tasks) == 0 {
		return
	}
	rows := make([][]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			label(t.TaskType),
			strconv.FormatInt(t.TargetID, 10),
			colorStatus(out, t.Status),
			fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
			t.ErrorMessage,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Task", "Stage", "Target", "Status", "Retries", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))
}
