package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/monitor"
)

// Fanout delivers every event to each sink in order.
type Fanout []monitor.EventSink

// NewFanout drops nil sinks.
func NewFanout(sinks ...monitor.EventSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Emit implements monitor.EventSink.
func (f Fanout) Emit(ctx context.Context, ev domain.MonitorEvent) {
	for _, s := range f {
		s.Emit(ctx, ev)
	}
}

// BusSink publishes monitor events on the event bus. Liquidation outcomes are
// also published on their own channel and appended to the durable stream.
type BusSink struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.EventBus, logger *slog.Logger) *BusSink {
	return &BusSink{bus: bus, logger: logger.With(slog.String("component", "event_bus"))}
}

// Emit implements monitor.EventSink. Bus failures are logged and dropped.
func (b *BusSink) Emit(ctx context.Context, ev domain.MonitorEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := b.bus.Publish(ctx, domain.ChannelMonitorEvents, payload); err != nil {
		b.logger.WarnContext(ctx, "publish monitor event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if ev.Type != domain.EventLiquidation {
		return
	}
	if err := b.bus.Publish(ctx, domain.ChannelLiquidations, payload); err != nil {
		b.logger.WarnContext(ctx, "publish liquidation failed",
			slog.String("position_id", ev.PositionID),
			slog.String("error", err.Error()),
		)
	}
	if err := b.bus.StreamAppend(ctx, domain.StreamLiquidations, payload); err != nil {
		b.logger.WarnContext(ctx, "append liquidation stream failed",
			slog.String("position_id", ev.PositionID),
			slog.String("error", err.Error()),
		)
	}
}
