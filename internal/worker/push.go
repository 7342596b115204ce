package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const notificationIcon = "/images/logo.webp"

// PushPayload is the JSON body of a push message
type PushPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Notification is what the pages render for a push
type Notification struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Icon    string         `json:"icon"`
	Badge   string         `json:"badge"`
	Vibrate []int          `json:"vibrate"`
	Data    map[string]any `json:"data"`
}

// URL is the page opened when the notification is clicked
func (n Notification) URL() string {
	if u, ok := n.Data["url"].(string); ok && u != "" {
		return u
	}
	return "/"
}

func (w *Worker) push(ctx context.Context, ev Event) (Result, error) {
	if len(ev.Data) == 0 {
		return Result{}, nil
	}

	var payload PushPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		logrus.Warnf("Skipping malformed push payload: %v", err)
		return Result{}, nil
	}

	n := Notification{
		ID:      uuid.NewString(),
		Title:   payload.Title,
		Body:    payload.Body,
		Icon:    notificationIcon,
		Badge:   notificationIcon,
		Vibrate: []int{100, 50, 100},
		Data:    payload.Data,
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}

	w.mu.Lock()
	w.notifications[n.ID] = n
	w.mu.Unlock()

	if err := w.clients.ShowNotification(ctx, n); err != nil {
		return Result{}, fmt.Errorf("failed to show notification: %w", err)
	}
	return Result{Reply: n}, nil
}

func (w *Worker) notificationClick(ctx context.Context, ev Event) (Result, error) {
	w.mu.Lock()
	n, ok := w.notifications[ev.NotificationID]
	delete(w.notifications, ev.NotificationID)
	w.mu.Unlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotificationNotFound, ev.NotificationID)
	}

	if err := w.clients.OpenWindow(ctx, n.URL()); err != nil {
		return Result{}, fmt.Errorf("failed to open window: %w", err)
	}
	return Result{}, nil
}

// Notifications lists the notifications still open
func (w *Worker) Notifications() []Notification {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Notification, 0, len(w.notifications))
	for _, n := range w.notifications {
		out = append(out, n)
	}
	return out
}
