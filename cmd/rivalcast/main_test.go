package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	base       string
	configPath string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	binDir := filepath.Join(base, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	}

	configPath := filepath.Join(base, "rivalcast.toml")
	body := fmt.Sprintf(`[paths]
data_dir = %q
work_dir = %q
log_dir = %q

[media]
ffmpeg_binary = %q
ffprobe_binary = %q
min_free_gib = 0
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "work"),
		filepath.Join(base, "logs"),
		filepath.Join(binDir, "ffmpeg"),
		filepath.Join(binDir, "ffprobe"),
	)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))
	return &cliEnv{base: base, configPath: configPath}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := e.run(t, append([]string{"--json"}, args...)...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestOrderCreateAndStatus(t *testing.T) {
	env := setupCLIEnv(t)

	var created struct {
		OrderID      int64   `json:"order_id"`
		VideoFileIDs []int64 `json:"video_file_ids"`
		TaskIDs      []int64 `json:"task_ids"`
	}
	env.runJSON(t, &created, "order", "create",
		"--self", "https://example.com/self.mp4",
		"--competitor", "https://example.com/rival.mp4")
	require.NotZero(t, created.OrderID)
	assert.Len(t, created.VideoFileIDs, 2)
	assert.Len(t, created.TaskIDs, 2)

	var progress struct {
		OrderStatus string `json:"order_status"`
		TaskStats   struct {
			Total   int `json:"total"`
			Pending int `json:"pending"`
		} `json:"task_stats"`
	}
	env.runJSON(t, &progress, "order", "status", fmt.Sprint(created.OrderID))
	assert.Equal(t, "pending", progress.OrderStatus)
	assert.Equal(t, 2, progress.TaskStats.Total)
	assert.Equal(t, 2, progress.TaskStats.Pending)

	out, err := env.run(t, "order", "status", fmt.Sprint(created.OrderID))
	require.NoError(t, err)
	assert.Contains(t, out, "Download")
	assert.Contains(t, out, "Tasks: 2 total, 2 pending")

	out, err = env.run(t, "order", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
}

func TestOrderCreateRequiresSelfSource(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "order", "create", "--competitor", "https://example.com/rival.mp4")
	require.Error(t, err)
}

func TestOrderStatusUnknownOrder(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "order", "status", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order 99 not found")
}

func TestTaskEnqueueRejectsUnknownType(t *testing.T) {
	env := setupCLIEnv(t)
	var created struct {
		OrderID      int64   `json:"order_id"`
		VideoFileIDs []int64 `json:"video_file_ids"`
	}
	env.runJSON(t, &created, "order", "create", "--self", "https://example.com/self.mp4")

	_, err := env.run(t, "task", "enqueue", fmt.Sprint(created.OrderID), "mixdown", fmt.Sprint(created.VideoFileIDs[0]))
	require.Error(t, err)

	out, err := env.run(t, "task", "enqueue", fmt.Sprint(created.OrderID), "transcode", fmt.Sprint(created.VideoFileIDs[0]))
	require.NoError(t, err)
	assert.Contains(t, out, "Queued Transcode task")
}

func TestRecordingLifecycle(t *testing.T) {
	env := setupCLIEnv(t)
	var created struct {
		OrderID      int64   `json:"order_id"`
		VideoFileIDs []int64 `json:"video_file_ids"`
		TaskIDs      []int64 `json:"task_ids"`
	}
	env.runJSON(t, &created, "order", "create", "--live", "--expected-duration", "600")
	require.Len(t, created.VideoFileIDs, 1)
	assert.Empty(t, created.TaskIDs)
	id := fmt.Sprint(created.VideoFileIDs[0])

	out, err := env.run(t, "recording", "start", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Recording started")

	_, err = env.run(t, "recording", "start", id)
	require.Error(t, err)

	var views []struct {
		RecordingStatus string `json:"recording_status"`
	}
	env.runJSON(t, &views, "recording", "status", fmt.Sprint(created.OrderID))
	require.Len(t, views, 1)
	assert.Equal(t, "recording", views[0].RecordingStatus)

	out, err = env.run(t, "recording", "stop", id)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")

	_, err = env.run(t, "recording", "reset", id)
	require.NoError(t, err)
	env.runJSON(t, &views, "recording", "status", fmt.Sprint(created.OrderID))
	assert.Equal(t, "pending", views[0].RecordingStatus)
}

func TestAnalysisStopAndStart(t *testing.T) {
	env := setupCLIEnv(t)
	var created struct {
		OrderID int64   `json:"order_id"`
		TaskIDs []int64 `json:"task_ids"`
	}
	env.runJSON(t, &created, "order", "create",
		"--self", "https://example.com/self.mp4",
		"--competitor", "https://example.com/rival.mp4")
	order := fmt.Sprint(created.OrderID)

	var stopped struct {
		Cancelled []int64 `json:"cancelled_task_ids"`
	}
	env.runJSON(t, &stopped, "analysis", "stop", order, "--operator", "alex")
	assert.ElementsMatch(t, created.TaskIDs, stopped.Cancelled)

	var progress struct {
		OrderStatus string `json:"order_status"`
		FailedTasks []struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message"`
		} `json:"failed_tasks"`
	}
	env.runJSON(t, &progress, "order", "status", order)
	assert.Equal(t, "failed", progress.OrderStatus)
	require.Len(t, progress.FailedTasks, 2)
	assert.Equal(t, "cancelled", progress.FailedTasks[0].Status)
	assert.Contains(t, progress.FailedTasks[0].ErrorMessage, "alex")

	var started struct {
		Requeued []int64 `json:"requeued_task_ids"`
	}
	env.runJSON(t, &started, "analysis", "start", order)
	assert.ElementsMatch(t, created.TaskIDs, started.Requeued)
}

func TestReconcileWithNothingStale(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Reclaimed tasks: none")
}

func TestHealthReportsDatabase(t *testing.T) {
	env := setupCLIEnv(t)
	var report struct {
		Database struct {
			DatabaseExists bool
			IntegrityCheck bool
		} `json:"database"`
		Checks []struct {
			Name   string
			Passed bool
		} `json:"checks"`
	}
	env.runJSON(t, &report, "health")
	assert.True(t, report.Database.DatabaseExists)
	assert.True(t, report.Database.IntegrityCheck)
	assert.NotEmpty(t, report.Checks)
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLIEnv(t)

	out, err := env.run(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "nested", "rivalcast.toml")
	out, err = env.run(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote sample configuration")
	_, err = os.Stat(target)
	require.NoError(t, err)

	_, err = env.run(t, "config", "init", "--path", target)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))
}

func TestConfigShowMasksSecrets(t *testing.T) {
	env := setupCLIEnv(t)
	t.Setenv("RIVALCAST_LLM_API_KEY", "sk-live-secret")

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[dispatcher]")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "sk-live-secret")
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "ASR", label("asr"))
	assert.Equal(t, "Download", label("download"))
	assert.Equal(t, "Needs Attention", label("needs_attention"))
}
