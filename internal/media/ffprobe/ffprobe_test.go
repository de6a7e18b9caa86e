package ffprobe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"rivalcast/internal/services"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRequireAudio(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		ok     bool
	}{
		{"audio with duration", Result{Streams: []Stream{{CodecType: "video"}, {CodecType: "AUDIO"}}, Format: Format{Duration: "123.45"}}, true},
		{"silent video", Result{Streams: []Stream{{CodecType: "video"}}, Format: Format{Duration: "10"}}, false},
		{"missing duration", Result{Streams: []Stream{{CodecType: "audio"}}}, false},
		{"unparsable duration", Result{Streams: []Stream{{CodecType: "audio"}}, Format: Format{Duration: "bad"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.RequireAudio()
			if tt.ok && err != nil {
				t.Fatalf("RequireAudio: %v", err)
			}
			if !tt.ok && !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDurationSeconds(t *testing.T) {
	if d := (Result{Format: Format{Duration: " 42.5 "}}).DurationSeconds(); d != 42.5 {
		t.Fatalf("duration = %v", d)
	}
	if d := (Result{}).DurationSeconds(); d != 0 {
		t.Fatalf("empty duration = %v", d)
	}
	if d := (Result{Format: Format{Duration: "n/a"}}).DurationSeconds(); !math.IsNaN(d) {
		t.Fatalf("expected NaN, got %v", d)
	}
}

func TestInspectParsesStubOutput(t *testing.T) {
	stub := writeStub(t, "cat <<'JSON'\n"+
		`{"streams":[{"index":0,"codec_type":"audio","codec_name":"aac","channels":2}],"format":{"duration":"42.0","size":"2048"}}`+
		"\nJSON\n")
	result, err := Inspect(context.Background(), stub, "in.mp4")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if result.DurationSeconds() != 42 || result.AudioStreams() != 1 || result.Streams[0].Channels != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestInspectClassifiesFailures(t *testing.T) {
	failing := writeStub(t, "echo 'Invalid data found' >&2\nexit 1\n")
	garbage := writeStub(t, "echo 'not json'\n")

	tests := []struct {
		name   string
		binary string
		path   string
		want   error
	}{
		{"rejected input", failing, "broken.mp4", services.ErrValidation},
		{"empty path", failing, " ", services.ErrValidation},
		{"missing binary", filepath.Join(t.TempDir(), "missing"), "x.mp4", services.ErrConfiguration},
		{"unparsable output", garbage, "x.mp4", services.ErrExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Inspect(context.Background(), tt.binary, tt.path); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
