package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"rivalcast/internal/preflight"
	"rivalcast/internal/queue"
)

type healthReport struct {
	Database queue.DatabaseHealth `json:"database"`
	Tasks    map[string]int       `json:"tasks"`
	Checks   []preflight.Result   `json:"checks"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var services bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the task store, directories, and external tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			report := healthReport{Tasks: map[string]int{}}
			report.Database, err = store.CheckHealth(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			for s, n := range counts {
				report.Tasks[string(s)] = n
			}
			report.Checks = preflight.RunAll(cmd.Context(), cfg)
			if services {
				report.Checks = append(report.Checks, preflight.CheckServices(cmd.Context(), cfg)...)
			}

			if ctx.jsonMode() {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				renderHealth(cmd, report)
			}
			if failed := preflight.Failed(report.Checks); len(failed) > 0 || !report.Database.IntegrityCheck {
				return fmt.Errorf("%d health check(s) failed", len(failed)+boolCount(!report.Database.IntegrityCheck))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&services, "services", false, "Also probe the ASR and LLM endpoints")
	return cmd
}

func renderHealth(cmd *cobra.Command, r healthReport) {
	out := cmd.OutOrStdout()
	db := r.Database
	fmt.Fprintf(out, "Database path: %s\n", db.DBPath)
	fmt.Fprintf(out, "Database exists: %s\n", yesNo(db.DatabaseExists))
	fmt.Fprintf(out, "Readable: %s\n", yesNo(db.DatabaseReadable))
	fmt.Fprintf(out, "Schema version: %d\n", db.SchemaVersion)
	fmt.Fprintf(out, "Integrity check: %s\n", yesNo(db.IntegrityCheck))
	fmt.Fprintf(out, "Total tasks: %d\n", db.TotalTasks)
	if db.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", db.Error)
	}

	if len(r.Tasks) > 0 {
		keys := make([]string, 0, len(r.Tasks))
		for k := range r.Tasks {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{label(k), strconv.Itoa(r.Tasks[k])})
		}
		fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	rows := make([][]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		result := "ok"
		if !c.Passed {
			result = "failed"
		}
		rows = append(rows, []string{c.Name, colorStatus(out, result), c.Detail})
	}
	fmt.Fprint(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
}

func boolCount(v bool) int {
	if v {
		return 1
	}
	return 0
}
