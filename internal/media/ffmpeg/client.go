package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"rivalcast/internal/fileutil"
	"rivalcast/internal/services"
)

const (
	defaultPreset = "veryfast"
	stderrTail    = 2048
	chunkPattern  = "chunk-%05d.wav"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithPreset sets the x264 preset used for transcoding.
func WithPreset(preset string) Option {
	return func(c *Client) {
		if p := strings.TrimSpace(preset); p != "" {
			c.preset = p
		}
	}
}

// Client runs ffmpeg.
type Client struct {
	binary string
	preset string
	exec   Executor
}

// Chunk is one audio file produced by SegmentAudio.
type Chunk struct {
	Index int
	Path  string
}

// New constructs an ffmpeg client.
func New(binary string, opts ...Option) *Client {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	client := &Client{binary: binary, preset: defaultPreset, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Binary returns the configured ffmpeg executable.
func (c *Client) Binary() string {
	return c.binary
}

// Transcode normalizes input into an H.264/AAC mp4 at output, overwriting
// any previous result.
func (c *Client) Transcode(ctx context.Context, input, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "ffmpeg", "transcode", "create output directory", err)
	}
	part := fileutil.PartPath(output)
	args := []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", input,
		"-map", "0:v:0?", "-map", "0:a:0",
		"-c:v", "libx264", "-preset", c.preset, "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		"-f", "mp4", part,
	}
	if err := c.exec.Run(ctx, c.binary, args, nil); err != nil {
		_ = os.Remove(part)
		return classify(ctx, "transcode", err)
	}
	if _, ok := fileutil.NonEmpty(part); !ok {
		_ = os.Remove(part)
		return services.Wrap(services.ErrExternalTool, "ffmpeg", "transcode", "no output produced", nil)
	}
	if err := fileutil.Commit(part, output); err != nil {
		_ = os.Remove(part)
		return services.Wrap(services.ErrTransient, "ffmpeg", "transcode", "commit output", err)
	}
	return nil
}

// SegmentAudio splits input into mono 16 kHz WAV chunks of seconds length and
// places them in destDir, replacing whatever was there. Chunks are returned
// in playback order.
func (c *Client) SegmentAudio(ctx context.Context, input, destDir string, seconds int) ([]Chunk, error) {
	if seconds <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "ffmpeg", "segment", "segment length must be positive", nil)
	}
	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ffmpeg", "segment", "create output directory", err)
	}
	tmpDir, err := os.MkdirTemp(parent, filepath.Base(destDir)+".tmp-")
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ffmpeg", "segment", "create temp directory", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	args := []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", input,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		"-f", "segment", "-segment_time", strconv.Itoa(seconds), "-reset_timestamps", "1",
		filepath.Join(tmpDir, chunkPattern),
	}
	if err := c.exec.Run(ctx, c.binary, args, nil); err != nil {
		return nil, classify(ctx, "segment", err)
	}

	names, err := chunkNames(tmpDir)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ffmpeg", "segment", "list chunks", err)
	}
	if err := fileutil.RemoveIfExists(destDir); err != nil {
		return nil, services.Wrap(services.ErrTransient, "ffmpeg", "segment", "clear previous chunks", err)
	}
	if err := os.Rename(tmpDir, destDir); err != nil {
		return nil, services.Wrap(services.ErrTransient, "ffmpeg", "segment", "commit chunks", err)
	}
	committed = true

	chunks := make([]Chunk, 0, len(names))
	for i, name := range names {
		chunks = append(chunks, Chunk{Index: i, Path: filepath.Join(destDir, name)})
	}
	return chunks, nil
}

// Capture records source into output until the stream ends, maxSeconds
// elapse or ctx is cancelled. Progress is reported as ffmpeg emits it.
// Cancellation returns an error marked services.ErrCancelled; the partial
// capture is left in place.
func (c *Client) Capture(ctx context.Context, source, output string, maxSeconds int, progress func(Progress)) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "ffmpeg", "capture", "create output directory", err)
	}
	args := []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-progress", "pipe:1", "-nostats",
		"-i", source,
	}
	if maxSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(maxSeconds))
	}
	args = append(args, "-c", "copy", "-f", "mpegts", output)

	var parser ProgressParser
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		if update, ok := parser.Feed(line); ok && progress != nil {
			progress(update)
		}
	})
	if err != nil {
		return classify(ctx, "capture", err)
	}
	return nil
}

func chunkNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasPrefix(entry.Name(), "chunk-") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, "ffmpeg", op, "", ctx.Err())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrConfiguration, "ffmpeg", op, "binary not runnable", err)
	}
	return services.Wrap(services.ErrExternalTool, "ffmpeg", op, "", err)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	var stderr tailBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onStdout != nil {
			onStdout(scanner.Text())
		}
	}
	// drain after an oversized line so ffmpeg never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if extra := t.buf.Len() - stderrTail; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
