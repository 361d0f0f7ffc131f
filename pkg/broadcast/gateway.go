package broadcast

import (
	"context"

	"github.com/octerm/octerm-hub/internal"
	"github.com/octerm/octerm-hub/pkg/connection"
	"github.com/octerm/octerm-hub/pkg/metrics"
	"go.uber.org/zap"
)

type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Gateway fans text messages out to every registered connection. It never
// evicts; dead connections are left for the heartbeat supervisor.
type Gateway struct {
	store   *internal.ClientStore
	metrics *metrics.HubMetrics
	log     *zap.Logger
}

func CreateGateway(store *internal.ClientStore, m *metrics.HubMetrics, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		store:   store,
		metrics: m,
		log:     logger.With(zap.String("component", "broadcast")),
	}
}

func (g *Gateway) Broadcast(ctx context.Context, message string) Result {
	result := Result{}

	g.store.ForEach(func(h *connection.Handle) {
		if err := h.Send(ctx, message); err != nil {
			g.log.Warn("Failed to deliver broadcast", zap.Int64("clientId", h.ClientId), zap.Error(err))
			result.Failed++
			return
		}
		result.Sent++
	})

	g.metrics.ObserveBroadcast(result.Sent, result.Failed)
	g.log.Debug("Broadcast complete", zap.Int("sent", result.Sent), zap.Int("failed", result.Failed))
	return result
}
