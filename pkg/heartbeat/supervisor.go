package heartbeat

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/octerm/octerm-hub/internal"
	"github.com/octerm/octerm-hub/pkg/connection"
	"github.com/octerm/octerm-hub/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultGrace    = 3 * time.Second
)

type SupervisorParams struct {
	Store    *internal.ClientStore
	Interval time.Duration
	Grace    time.Duration

	Clock   clockwork.Clock
	Metrics *metrics.HubMetrics
	Logger  *zap.Logger
}

// CycleReport summarizes one probe/collect/evict pass.
type CycleReport struct {
	Probed        int
	Replied       int
	ProbeFailures int
	Evicted       int
}

// Supervisor periodically pings every registered connection and evicts the ones
// that fail to answer with a pong within the grace window. Cycles never overlap.
type Supervisor struct {
	store    *internal.ClientStore
	interval time.Duration
	grace    time.Duration
	clock    clockwork.Clock
	metrics  *metrics.HubMetrics
	log      *zap.Logger
}

func CreateSupervisor(params SupervisorParams) *Supervisor {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := params.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	grace := params.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	return &Supervisor{
		store:    params.Store,
		interval: interval,
		grace:    grace,
		clock:    clock,
		metrics:  params.Metrics,
		log:      logger.With(zap.String("component", "heartbeat")),
	}
}

// Start runs cycles until ctx is cancelled. Cancellation is only observed while
// waiting for the next cycle; a cycle in progress always finishes its evictions.
func (s *Supervisor) Start(ctx context.Context) {
	s.log.Info("Starting heartbeat supervisor", zap.Duration("interval", s.interval), zap.Duration("grace", s.grace))

	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Heartbeat supervisor stopped")
			return
		case <-s.clock.After(s.interval):
		}

		report := s.RunCycle(cycleCtx)
		if report.Evicted > 0 || report.ProbeFailures > 0 {
			s.log.Info("Heartbeat cycle found unresponsive clients",
				zap.Int("probed", report.Probed),
				zap.Int("replied", report.Replied),
				zap.Int("probeFailures", report.ProbeFailures),
				zap.Int("evicted", report.Evicted))
		} else {
			s.log.Debug("Heartbeat cycle complete", zap.Int("probed", report.Probed))
		}
	}
}

// RunCycle performs one probe, grace, collect and evict pass over a snapshot of
// the store.
func (s *Supervisor) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{}
	marked := []*connection.Handle{}
	probed := []*connection.Handle{}

	for _, h := range s.store.Snapshot() {
		// a pong left over from an earlier cycle does not answer this probe
		h.Inbox().TakePong()

		if err := h.Probe(ctx); err != nil {
			s.log.Debug("Failed to send liveness probe", zap.Int64("clientId", h.ClientId), zap.Error(err))
			s.metrics.ObserveProbeFailure()
			report.ProbeFailures++
			marked = append(marked, h)
			continue
		}
		probed = append(probed, h)
	}
	report.Probed = len(probed)

	if len(probed) > 0 {
		<-s.clock.After(s.grace)
	}

	for _, h := range probed {
		if h.Inbox().TakePong() {
			report.Replied++
			continue
		}
		marked = append(marked, h)
	}

	for _, h := range marked {
		if s.evict(h) {
			report.Evicted++
		}
	}

	return report
}

func (s *Supervisor) evict(h *connection.Handle) bool {
	removed := s.store.RemoveHandle(h)
	h.Release()

	if removed {
		s.log.Info("Evicted unresponsive client", zap.Int64("clientId", h.ClientId))
		s.metrics.ObserveEviction()
	}
	return removed
}
