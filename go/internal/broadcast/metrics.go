package broadcast

import (
	"context"
	"time"

	"github.com/mcdev12/watchsync/go/internal/metrics"
	"github.com/mcdev12/watchsync/go/internal/playback"
)

// MetricBus wraps a Bus with publish metrics.
type MetricBus struct {
	Bus
	metrics metrics.MetricsCollector
}

func NewMetricBus(bus Bus, m metrics.MetricsCollector) *MetricBus {
	return &MetricBus{
		Bus:     bus,
		metrics: m,
	}
}

func (b *MetricBus) Publish(ctx context.Context, sessionID string, op playback.Op) error {
	start := time.Now()

	err := b.Bus.Publish(ctx, sessionID, op)

	b.metrics.RecordOpPublished(string(op.Kind), err == nil, time.Since(start))
	return err
}
