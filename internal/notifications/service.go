package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rivalcast/internal/config"
	"rivalcast/internal/services"
)

const userAgent = "rivalcast/0.1.0"

// Event names a notification type.
type Event string

const (
	EventOrderCompleted   Event = "order_completed"
	EventOrderFailed      Event = "order_failed"
	EventRecordingStalled Event = "recording_stalled"
	EventTest             Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// message is what ntfy receives: the body plus Title, Tags and Priority headers.
type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

var renderers = map[Event]func(Payload) message{
	EventOrderCompleted: func(p Payload) message {
		body := fmt.Sprintf("✅ Comparison report ready for order #%d", p.id("orderID"))
		if uri := p.text("reportURI"); uri != "" {
			body += "\n" + uri
		}
		return message{title: "Report Ready", body: body, tags: []string{"order", "completed"}}
	},
	EventOrderFailed: func(p Payload) message {
		reason := p.text("error")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "Order Failed",
			body:     fmt.Sprintf("❌ Order #%d failed: %s", p.id("orderID"), reason),
			tags:     []string{"order", "failed"},
			priority: "high",
		}
	},
	EventRecordingStalled: func(p Payload) message {
		return message{
			title: "Recording Stalled",
			body: fmt.Sprintf("⚠️ No capture progress for %s (order #%d, file #%d) since %s",
				p.text("role"), p.id("orderID"), p.id("videoFileID"), p.text("since")),
			tags:     []string{"recording", "stalled"},
			priority: "high",
		}
	},
	EventTest: func(Payload) message {
		return message{title: "Test", body: "🧪 Notification system test", tags: []string{"test"}, priority: "low"}
	},
}

// NewService returns an ntfy publisher for the configured topic URL, or a
// service that drops everything when no topic is set.
func NewService(cfg *config.Config) Service {
	n := cfg.Notifications
	topic := strings.TrimSpace(n.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := 10 * time.Second
	if n.RequestTimeout > 0 {
		timeout = time.Duration(n.RequestTimeout) * time.Second
	}
	return &ntfyService{
		topic:  topic,
		client: &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventOrderCompleted:   n.OrderCompleted,
			EventOrderFailed:      n.OrderFailed,
			EventRecordingStalled: n.RecordingStalled,
			EventTest:             true,
		},
	}
}

type ntfyService struct {
	topic   string
	client  *http.Client
	enabled map[Event]bool
}

// Publish posts the rendered event. Disabled and unknown events are dropped.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	render, known := renderers[event]
	if !known || !n.enabled[event] {
		return nil
	}
	msg := render(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topic, strings.NewReader(msg.body))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "ntfy", "build request", n.topic, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "rivalcast - "+msg.title)
	req.Header.Set("Tags", strings.Join(append([]string{"rivalcast"}, msg.tags...), ","))
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.TransportError("ntfy", "publish", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.MarkerForStatus(resp.StatusCode), "ntfy", "publish",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case error:
		return strings.TrimSpace(v.Error())
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) id(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
