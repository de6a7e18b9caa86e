package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"rivalcast/internal/fileutil"
	"rivalcast/internal/media/ffmpeg"
	"rivalcast/internal/services"
)

type stubExecutor struct {
	lines []string
	err   error
	run   func(args []string) error
	calls [][]string
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	s.calls = append(s.calls, append([]string{binary}, args...))
	for _, line := range s.lines {
		if onStdout != nil {
			onStdout(line)
		}
	}
	if s.run != nil {
		if err := s.run(args); err != nil {
			return err
		}
	}
	return s.err
}

func TestTranscodeWritesThroughPartFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "file-1", "transcoded.mp4")
	exec := &stubExecutor{run: func(args []string) error {
		target := args[len(args)-1]
		if !strings.HasSuffix(target, fileutil.PartSuffix) {
			t.Fatalf("expected ffmpeg to write a part file, got %s", target)
		}
		return os.WriteFile(target, []byte("mp4"), 0o644)
	}}
	client := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec), ffmpeg.WithPreset("ultrafast"))

	if err := client.Transcode(context.Background(), "in.ts", out); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if _, ok := fileutil.NonEmpty(out); !ok {
		t.Fatal("expected transcoded output")
	}
	args := exec.calls[0]
	if !slices.Contains(args, "-y") || !slices.Contains(args, "ultrafast") {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestTranscodeFailureLeavesNoOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "transcoded.mp4")
	exec := &stubExecutor{run: func(args []string) error {
		_ = os.WriteFile(args[len(args)-1], []byte("half"), 0o644)
		return errors.New("exit status 1")
	}}
	client := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))

	err := client.Transcode(context.Background(), "in.ts", out)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	for _, path := range []string{out, fileutil.PartPath(out)} {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			t.Fatalf("expected %s absent", path)
		}
	}
}

func TestSegmentAudioReplacesChunkDirectory(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "segments")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dest, "chunk-00009.wav")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := &stubExecutor{run: func(args []string) error {
		pattern := args[len(args)-1]
		dir := filepath.Dir(pattern)
		for _, name := range []string{"chunk-00001.wav", "chunk-00000.wav", "chunk-00002.wav"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("pcm"), 0o644); err != nil {
				return err
			}
		}
		return nil
	}}
	client := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))

	chunks, err := client.SegmentAudio(context.Background(), "in.mp4", dest, 300)
	if err != nil {
		t.Fatalf("SegmentAudio: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i || filepath.Dir(chunk.Path) != dest {
			t.Fatalf("unexpected chunk %d: %+v", i, chunk)
		}
	}
	if filepath.Base(chunks[0].Path) != "chunk-00000.wav" {
		t.Fatalf("chunks not ordered: %+v", chunks)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale chunk removed")
	}
	args := exec.calls[0]
	if !slices.Contains(args, "16000") || !slices.Contains(args, "segment") {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestSegmentAudioRejectsNonPositiveLength(t *testing.T) {
	client := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(&stubExecutor{}))
	_, err := client.SegmentAudio(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "s"), 0)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCaptureReportsProgress(t *testing.T) {
	exec := &stubExecutor{lines: []string{
		"total_size=1024",
		"out_time_us=1500000",
		"speed=1.0x",
		"progress=continue",
		"total_size=4096",
		"out_time_us=3000000",
		"progress=end",
	}}
	client := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))

	var updates []ffmpeg.Progress
	err := client.Capture(context.Background(), "rtmp://example/live", filepath.Join(t.TempDir(), "capture.ts"), 60, func(p ffmpeg.Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].OutTime != 1500*time.Millisecond || updates[0].TotalSize != 1024 || updates[0].Done {
		t.Fatalf("unexpected first update %+v", updates[0])
	}
	if updates[1].OutTime != 3*time.Second || !updates[1].Done {
		t.Fatalf("unexpected final update %+v", updates[1])
	}
	if !slices.Contains(exec.calls[0], "pipe:1") {
		t.Fatalf("expected -progress pipe:1, got %v", exec.calls[0])
	}
}

func TestCaptureCancelledIsMarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(&stubExecutor{err: errors.New("signal: interrupt")}))
	err := client.Capture(ctx, "rtmp://example/live", filepath.Join(t.TempDir(), "capture.ts"), 0, nil)
	if services.Classify(err) != services.OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %v", err)
	}
}

func TestCommandExecutorRunsRealProcess(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")
	body := "#!/bin/sh\necho progress=end\necho 'bad input' >&2\nexit 3\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	client := ffmpeg.New(script)
	var saw bool
	err := client.Capture(context.Background(), "src", filepath.Join(dir, "out.ts"), 0, func(p ffmpeg.Progress) {
		saw = p.Done
	})
	if !saw {
		t.Fatal("expected progress line forwarded")
	}
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("expected external tool error with stderr, got %v", err)
	}
}
