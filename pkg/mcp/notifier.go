package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

// notificationSender is the part of *server.MCPServer the notifier uses.
type notificationSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// ShareNotifier pushes share view events to the session that created the
// share.
type ShareNotifier struct {
	sender   notificationSender
	sessions *SessionRegistry
	logger   *slog.Logger
}

// NewShareNotifier creates a notifier that pushes through sender.
func NewShareNotifier(sender notificationSender, sessions *SessionRegistry, logger *slog.Logger) *ShareNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShareNotifier{sender: sender, sessions: sessions, logger: logger}
}

// Notify sends payload to the session owning shareID.
// Best-effort: returns nil if the owner is not connected.
func (n *ShareNotifier) Notify(_ context.Context, shareID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(shareID)
	if !ok {
		return nil
	}
	err := n.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Watch subscribes to share view events on hub and forwards them until ctx
// is done. It returns once the subscription is in place.
func (n *ShareNotifier) Watch(ctx context.Context, hub streaming.EventHub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		Topic:      streaming.TopicShares,
		EventTypes: []string{schema.EventShareViewed},
	})
	if err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				n.forward(ctx, evt)
			}
		}
	}()
	return nil
}

func (n *ShareNotifier) forward(ctx context.Context, evt streaming.StreamEvent) {
	payload, ok := evt.Payload.(map[string]any)
	if !ok {
		return
	}
	id, _ := payload["id"].(string)
	if id == "" {
		return
	}
	err := n.Notify(ctx, id, map[string]any{
		"level":  "info",
		"logger": "flowsketch",
		"data": map[string]any{
			"event":    evt.EventType,
			"share_id": id,
			"views":    payload["views"],
		},
	})
	if err != nil {
		n.logger.WarnContext(ctx, "share notification failed", "share_id", id, "error", err)
	}
}
