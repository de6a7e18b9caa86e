package asr_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"rivalcast/internal/services"
	"rivalcast/internal/services/asr"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment-000.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestTranscribeUploadsMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected authorization %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		if r.FormValue("language") != "zh" {
			t.Errorf("unexpected language %q", r.FormValue("language"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "segment-000.wav" || string(data) != "RIFF....WAVE" {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		_, _ = w.Write([]byte(`{"text":"  welcome to the stream  ","language":"zh"}`))
	}))
	defer server.Close()

	client := asr.NewClient(asr.Config{BaseURL: server.URL, APIKey: "key", Model: "whisper-1", Language: "zh"}, nil)
	transcript, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if transcript.Text != "welcome to the stream" {
		t.Fatalf("unexpected transcript %q", transcript.Text)
	}
}

func TestTranscribeClassifiesStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusTooManyRequests:      services.ErrTransient,
		http.StatusServiceUnavailable:   services.ErrTransient,
		http.StatusUnsupportedMediaType: services.ErrValidation,
	}
	for status, marker := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := asr.NewClient(asr.Config{BaseURL: server.URL, APIKey: "key"}, server.Client())
		_, err := client.Transcribe(context.Background(), writeAudio(t))
		server.Close()
		if !errors.Is(err, marker) {
			t.Fatalf("status %d: expected %v, got %v", status, marker, err)
		}
	}
}

func TestTranscribeMissingFileIsFatal(t *testing.T) {
	client := asr.NewClient(asr.Config{BaseURL: "http://127.0.0.1:1", APIKey: "key"}, nil)
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	if services.Classify(err) != services.OutcomeFatal {
		t.Fatalf("expected fatal outcome, got %v", err)
	}
}

func TestTranscribeRequiresKey(t *testing.T) {
	client := asr.NewClient(asr.Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := client.Transcribe(context.Background(), writeAudio(t))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
