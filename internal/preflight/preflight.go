package preflight

import (
	"context"

	"rivalcast/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local preflight checks for the given config. Service
// checks that cost an API call are left to CheckServices.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	}
	if cfg.Media.MinFreeGiB > 0 {
		results = append(results, CheckFreeSpace("Work disk space", cfg.Paths.WorkDir, cfg.Media.MinFreeGiB))
	}
	for _, b := range MediaBinaries(cfg) {
		results = append(results, CheckBinary(b))
	}
	return results
}

// CheckServices verifies the remote services used by the analysis stages.
func CheckServices(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckLLM(ctx, "Analysis LLM", cfg.GetLLM()),
		CheckASR(cfg),
	}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
