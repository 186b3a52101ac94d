package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/facilitator/internal/indexing/emitter"
)

// Notifier publishes committed batch notifications as JSON.
type Notifier struct {
	client  *Client
	channel string
}

var _ emitter.Emitter = (*Notifier)(nil)

// NewNotifier publishes on channel, or on facilitator:changes:<side> when
// channel is empty.
func NewNotifier(client *Client, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

func (n *Notifier) channelFor(note emitter.Notification) string {
	if n.channel != "" {
		return n.channel
	}
	return changesChannel(note.Side)
}

// Emit publishes one notification.
func (n *Notifier) Emit(ctx context.Context, note emitter.Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.client.rdb.Publish(ctx, n.channelFor(note), payload).Err(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (n *Notifier) Close() error { return nil }
