package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChannelDecisions is the Postgres LISTEN/NOTIFY channel carrying
// decision-updated events. The payload is {"id": "<decision uuid>"}.
const ChannelDecisions = "kiroku_decisions"

// Listen starts listening on the specified channel using the dedicated
// notify connection. Returns an error if no notify connection is configured.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notifyConn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	_, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened
// channel. Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	notification, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// NotifyDecisionUpdated publishes a decision-updated event. The payload is
// content-free from the subscriber's point of view: clients re-fetch full
// state on receipt rather than trusting event contents.
func (db *DB) NotifyDecisionUpdated(ctx context.Context, decisionID uuid.UUID) error {
	payload, err := json.Marshal(map[string]string{"id": decisionID.String()})
	if err != nil {
		return fmt.Errorf("storage: marshal notify payload: %w", err)
	}
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelDecisions, string(payload)); err != nil {
		return fmt.Errorf("storage: notify %s: %w", ChannelDecisions, err)
	}
	return nil
}

// DecodeDecisionEvent parses a ChannelDecisions payload back into a decision id.
func DecodeDecisionEvent(payload string) (uuid.UUID, error) {
	var msg struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return uuid.Nil, fmt.Errorf("storage: decode decision event: %w", err)
	}
	if msg.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("storage: decision event missing id")
	}
	return msg.ID, nil
}
