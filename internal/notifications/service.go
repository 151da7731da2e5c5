package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"camwatch/internal/config"
)

const userAgent = "camwatch/0.1.0"

// Event names a notification type.
type Event string

const (
	EventSlotUnavailable Event = "slot_unavailable"
	EventSlotRecovered   Event = "slot_recovered"
	EventDeviceLost      Event = "device_lost"
	EventTest            Event = "test"
)

// Payload carries event fields. Unknown keys are ignored.
type Payload map[string]string

// Service publishes slot events to the operator.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc delivers anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	slot := p["slot"]
	switch event {
	case EventSlotUnavailable:
		body := fmt.Sprintf("Slot %s stopped retrying %s", slot, deviceOr(p["device"], "its camera"))
		if reason := p["reason"]; reason != "" {
			body += " (" + strings.ReplaceAll(reason, "_", " ") + ")"
		}
		if errText := p["error"]; errText != "" {
			body += "\n" + errText
		}
		body += "\nRun `camwatch reset " + slot + "` after fixing the camera."
		return message{
			title:    "camwatch - Camera Unavailable",
			body:     body,
			tags:     []string{"camwatch", "camera", "warning"},
			priority: "high",
		}, true
	case EventSlotRecovered:
		return message{
			title: "camwatch - Camera Recovered",
			body:  fmt.Sprintf("Slot %s is capturing from %s again", slot, deviceOr(p["device"], "its camera")),
			tags:  []string{"camwatch", "camera", "recovered"},
		}, true
	case EventDeviceLost:
		return message{
			title: "camwatch - Camera Disconnected",
			body:  fmt.Sprintf("%s left slot %s", deviceOr(p["device"], "A camera"), slot),
			tags:  []string{"camwatch", "camera", "unplugged"},
		}, true
	case EventTest:
		return message{
			title:    "camwatch - Test",
			body:     "Notification system test",
			tags:     []string{"camwatch", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func deviceOr(device, fallback string) string {
	if device == "" {
		return fallback
	}
	return device
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
