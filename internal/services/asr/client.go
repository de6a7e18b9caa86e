package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rivalcast/internal/services"
)

const defaultHTTPTimeout = 120 * time.Second

// Config captures the speech-to-text endpoint settings.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Language          string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// Transcript is the recognized text for one audio file.
type Transcript struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Client uploads audio files for transcription.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a Client. A nil httpClient uses a client with the configured timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := defaultHTTPTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{cfg: cfg, httpClient: httpClient}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return c
}

// Transcribe uploads the audio file at path and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, path string) (Transcript, error) {
	var empty Transcript
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return empty, services.Wrap(services.ErrConfiguration, "asr", "transcribe", "base url required", nil)
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return empty, services.Wrap(services.ErrConfiguration, "asr", "transcribe", "api key required", nil)
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty, services.Wrap(services.ErrNotFound, "asr", "open audio", path, err)
		}
		return empty, services.Wrap(services.ErrTransient, "asr", "open audio", path, err)
	}
	defer file.Close()

	body, contentType, err := c.buildForm(file, filepath.Base(path))
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, "asr", "build request", "", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return empty, services.Wrap(services.ErrCancelled, "asr", "rate limiter wait", "", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, body)
	if err != nil {
		return empty, services.Wrap(services.ErrConfiguration, "asr", "new request", "", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, services.TransportError("asr", "transcribe", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, "asr", "read response", "", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		return empty, services.Wrap(services.MarkerForStatus(resp.StatusCode), "asr", "transcribe", detail, nil)
	}

	var transcript Transcript
	if err := json.Unmarshal(payload, &transcript); err != nil {
		return empty, services.Wrap(services.ErrTransient, "asr", "decode response", "", err)
	}
	transcript.Text = strings.TrimSpace(transcript.Text)
	return transcript, nil
}

func (c *Client) buildForm(audio io.Reader, filename string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"model":           c.cfg.Model,
		"language":        c.cfg.Language,
		"response_format": "json",
	}
	for key, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
