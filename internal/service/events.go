// Package service wraps the exchange engine with the concerns the engine
// leaves to its callers: structured logging, audit entries, cache
// maintenance, event publication and operator alerts.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// Durable streams kept alongside the pub/sub channels.
const (
	StreamSettlements = "stream:settlements"
)

// publish marshals evt onto channel. Failures are logged, never returned:
// the state change the event describes has already committed.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel string, evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		logger.WarnContext(ctx, "marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channel, data); err != nil {
		logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func invalidate(ctx context.Context, cache domain.MarketCache, logger *slog.Logger, marketID string) {
	if err := cache.Invalidate(ctx, marketID); err != nil {
		// the snapshot expires on its own
		logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
