package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rivalcast/internal/control"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Queue individual processing tasks",
	}
	taskCmd.AddCommand(newTaskEnqueueCommand(ctx))
	return taskCmd
}

func newTaskEnqueueCommand(ctx *commandContext) *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "enqueue <order-id> <task-type> <target-id>",
		Short: "Queue one task (download, transcode, segment, asr, analysis, report)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			targetID, err := parseID("target", args[2])
			if err != nil {
				return err
			}
			return ctx.withController(func(c *control.Controller) error {
				id, err := c.EnqueueTask(cmd.Context(), control.EnqueueRequest{
					OrderID:  orderID,
					TargetID: targetID,
					TaskType: args[1],
					Priority: priority,
				})
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]int64{"task_id": id})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s task %d\n", label(args[1]), id)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Task priority (higher runs first)")
	return cmd
}
