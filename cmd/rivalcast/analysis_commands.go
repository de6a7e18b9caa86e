package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rivalcast/internal/control"
)

func newAnalysisCommand(ctx *commandContext) *cobra.Command {
	analysisCmd := &cobra.Command{
		Use:   "analysis",
		Short: "Start or stop processing of an order",
	}
	analysisCmd.AddCommand(newAnalysisStartCommand(ctx))
	analysisCmd.AddCommand(newAnalysisStopCommand(ctx))
	return analysisCmd
}

func newAnalysisStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <order-id>",
		Short: "Requeue failed tasks and schedule missing downloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			return ctx.withController(func(c *control.Controller) error {
				result, err := c.StartAnalysis(cmd.Context(), orderID)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Analysis started for order %d\n", orderID)
				fmt.Fprintf(out, "Requeued: %s\n", formatIDs(result.Requeued))
				fmt.Fprintf(out, "Enqueued: %s\n", formatIDs(result.Enqueued))
				return nil
			})
		},
	}
}

func newAnalysisStopCommand(ctx *commandContext) *cobra.Command {
	var reason, operator string
	cmd := &cobra.Command{
		Use:   "stop <order-id>",
		Short: "Cancel every unfinished task of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			return ctx.withController(func(c *control.Controller) error {
				result, err := c.StopAnalysis(operatorContext(cmd, operator), orderID, reason)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled tasks for order %d: %s\n", orderID, formatIDs(result.Cancelled))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the cancelled tasks")
	cmd.Flags().StringVar(&operator, "operator", "", "Operator name recorded with the stop")
	return cmd
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reclaim processing tasks whose heartbeat expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withController(func(c *control.Controller) error {
				reclaimed, err := c.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				ids := make([]int64, 0, len(reclaimed))
				for _, t := range reclaimed {
					ids = append(ids, t.ID)
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string][]int64{"reclaimed_task_ids": ids})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed tasks: %s\n", formatIDs(ids))
				return nil
			})
		},
	}
}
