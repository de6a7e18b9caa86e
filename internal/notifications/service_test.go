package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/notifications"
	"rivalcast/internal/services"
)

type ntfyRequest struct {
	Title, Tags, Priority, Body string
}

// ntfyRecorder is a fake ntfy topic that keeps every POST it receives.
type ntfyRecorder struct {
	mu       sync.Mutex
	requests []ntfyRequest
}

func (r *ntfyRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, ntfyRequest{
		Title:    req.Header.Get("Title"),
		Tags:     req.Header.Get("Tags"),
		Priority: req.Header.Get("Priority"),
		Body:     string(body),
	})
	r.mu.Unlock()
}

func (r *ntfyRecorder) all() []ntfyRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ntfyRequest(nil), r.requests...)
}

func newService(t *testing.T, handler http.Handler, enabled bool) notifications.Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.OrderCompleted = enabled
	cfg.Notifications.OrderFailed = enabled
	cfg.Notifications.RecordingStalled = enabled
	return notifications.NewService(&cfg)
}

func TestNoTopicDropsEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "  "
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventOrderFailed, notifications.Payload{"orderID": 1}); err != nil {
		t.Fatalf("Publish without topic: %v", err)
	}
}

func TestPublishRendersEvents(t *testing.T) {
	cases := map[notifications.Event]struct {
		payload notifications.Payload
		want    ntfyRequest
	}{
		notifications.EventOrderCompleted: {
			payload: notifications.Payload{"orderID": int64(7), "reportURI": "s3://reports/order-7/report.json"},
			want: ntfyRequest{
				Title: "rivalcast - Report Ready",
				Tags:  "rivalcast,order,completed",
				Body:  "✅ Comparison report ready for order #7\ns3://reports/order-7/report.json",
			},
		},
		notifications.EventOrderFailed: {
			payload: notifications.Payload{"orderID": 3, "error": errors.New("report: llm unavailable")},
			want: ntfyRequest{
				Title:    "rivalcast - Order Failed",
				Tags:     "rivalcast,order,failed",
				Priority: "high",
				Body:     "❌ Order #3 failed: report: llm unavailable",
			},
		},
		notifications.EventRecordingStalled: {
			payload: notifications.Payload{
				"orderID":     int64(2),
				"videoFileID": int64(5),
				"role":        "competitor#1",
				"since":       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			},
			want: ntfyRequest{
				Title:    "rivalcast - Recording Stalled",
				Tags:     "rivalcast,recording,stalled",
				Priority: "high",
				Body:     "⚠️ No capture progress for competitor#1 (order #2, file #5) since 2026-01-02T03:04:05Z",
			},
		},
		notifications.EventTest: {
			want: ntfyRequest{
				Title:    "rivalcast - Test",
				Tags:     "rivalcast,test",
				Priority: "low",
				Body:     "🧪 Notification system test",
			},
		},
	}
	for event, tc := range cases {
		t.Run(string(event), func(t *testing.T) {
			recorder := &ntfyRecorder{}
			svc := newService(t, recorder, true)
			if err := svc.Publish(context.Background(), event, tc.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			got := recorder.all()
			if len(got) != 1 || got[0] != tc.want {
				t.Fatalf("requests = %+v, want [%+v]", got, tc.want)
			}
		})
	}
}

func TestPublishSkipsDisabledAndUnknownEvents(t *testing.T) {
	recorder := &ntfyRecorder{}
	svc := newService(t, recorder, false)
	for _, event := range []notifications.Event{
		notifications.EventOrderCompleted,
		notifications.EventOrderFailed,
		notifications.EventRecordingStalled,
		"unknown",
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"orderID": int64(1)}); err != nil {
			t.Fatalf("Publish(%s): %v", event, err)
		}
	}
	if got := recorder.all(); len(got) != 0 {
		t.Fatalf("expected no requests, got %+v", got)
	}
}

func TestPublishClassifiesServerErrors(t *testing.T) {
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}), true)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for 403, got %v", err)
	}
}
