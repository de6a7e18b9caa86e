package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rivalcast/internal/control"
	"rivalcast/internal/queue"
	"rivalcast/internal/status"
)

func newRecordingCommand(ctx *commandContext) *cobra.Command {
	recordingCmd := &cobra.Command{
		Use:   "recording",
		Short: "Control and inspect live recording sessions",
	}
	recordingCmd.AddCommand(newRecordingStatusCommand(ctx))
	recordingCmd.AddCommand(newRecordingActionCommand(ctx, "start", "Mark a video file as recording",
		func(cmd *cobra.Command, c *control.Controller, id int64) (string, error) {
			if err := c.StartRecording(cmd.Context(), id); err != nil {
				return "", err
			}
			return fmt.Sprintf("Recording started for video file %d", id), nil
		}))
	recordingCmd.AddCommand(newRecordingActionCommand(ctx, "stop", "Stop an active recording",
		func(cmd *cobra.Command, c *control.Controller, id int64) (string, error) {
			final, err := c.StopRecording(cmd.Context(), id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Recording for video file %d is %s", id, final), nil
		}))
	recordingCmd.AddCommand(newRecordingActionCommand(ctx, "reset", "Return a finished recording to pending",
		func(cmd *cobra.Command, c *control.Controller, id int64) (string, error) {
			if err := c.ResetRecording(cmd.Context(), id); err != nil {
				return "", err
			}
			return fmt.Sprintf("Recording for video file %d reset", id), nil
		}))
	return recordingCmd
}

type recordingAction func(cmd *cobra.Command, c *control.Controller, videoFileID int64) (string, error)

func newRecordingActionCommand(ctx *commandContext, use, short string, action recordingAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <video-file-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("video file", args[0])
			if err != nil {
				return err
			}
			return ctx.withController(func(c *control.Controller) error {
				msg, err := action(cmd, c, id)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{"video_file_id": id, "message": msg})
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
}

func newRecordingStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id>",
		Short: "Show recording progress for every file of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID("order", args[0])
			if err != nil {
				return err
			}
			return ctx.withStatus(func(agg *status.Aggregator, _ *queue.Store) error {
				views, err := agg.RecordingProgress(cmd.Context(), orderID)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No video files")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					state := colorStatus(out, v.RecordingStatus)
					if v.Stalled {
						state += " (stalled)"
					}
					rows = append(rows, []string{
						strconv.FormatInt(v.VideoFileID, 10),
						v.Role,
						state,
						fmt.Sprintf("%.1f%%", v.Percent),
						fmt.Sprintf("%.0fs", v.DurationSeconds),
						formatBytes(v.FileSizeBytes),
						v.LatestProgress.Message,
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"File", "Role", "Recording", "Progress", "Elapsed", "Size", "Message"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}
