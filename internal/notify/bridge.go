package notify

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/kiroku/internal/storage"
)

// Bridge forwards Postgres LISTEN/NOTIFY decision events into a Registry.
// It runs a loop over the storage layer's dedicated notify connection, so a
// publish issued by any process (worker or API) reaches every subscriber of
// this process's registry.
type Bridge struct {
	db       *storage.DB
	registry *Registry
	logger   *slog.Logger
}

// NewBridge creates a Bridge. Call Start in a goroutine.
func NewBridge(db *storage.DB, registry *Registry, logger *slog.Logger) *Bridge {
	return &Bridge{db: db, registry: registry, logger: logger}
}

// Start listens on the decisions channel and fans each event out. It blocks
// until ctx is cancelled; transient notification errors are logged and
// retried, never fatal.
func (b *Bridge) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelDecisions); err != nil {
		b.logger.Error("notify: listen decisions", "error", err)
		return
	}
	b.logger.Info("notify: listening for decision updates", "channel", storage.ChannelDecisions)

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("notify: notification error, retrying", "error", err)
			continue
		}
		if channel != storage.ChannelDecisions {
			continue
		}

		id, err := storage.DecodeDecisionEvent(payload)
		if err != nil {
			b.logger.Warn("notify: bad notification payload", "payload", payload, "error", err)
			continue
		}
		b.registry.Publish(id)
	}
}
