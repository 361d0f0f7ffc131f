package logsink

import (
	"context"
	"time"

	"github.com/octerm/octerm-hub/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize = 1024
	persistTimeout   = 5 * time.Second
)

type Persister interface {
	PersistLog(ctx context.Context, clientId int64, message string) error
}

type entry struct {
	clientId int64
	message  string
}

type QueueParams struct {
	Persister Persister
	Size      int
	Metrics   *metrics.HubMetrics
	Logger    *zap.Logger
}

// Queue decouples connection readers from log persistence. SubmitLog never blocks;
// when the buffer is full the entry is dropped.
type Queue struct {
	persister Persister
	entries   chan entry
	metrics   *metrics.HubMetrics
	log       *zap.Logger
}

func CreateQueue(params QueueParams) *Queue {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := params.Size
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Queue{
		persister: params.Persister,
		entries:   make(chan entry, size),
		metrics:   params.Metrics,
		log:       logger.With(zap.String("component", "logsink")),
	}
}

func (q *Queue) SubmitLog(clientId int64, message string) {
	select {
	case q.entries <- entry{clientId: clientId, message: message}:
	default:
		q.log.Warn("Log queue full, dropping client log", zap.Int64("clientId", clientId))
		q.metrics.ObserveLogDropped()
	}
}

// Start persists queued entries until ctx is cancelled, then flushes whatever
// is still buffered.
func (q *Queue) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.flush()
			return
		case e := <-q.entries:
			q.persist(context.WithoutCancel(ctx), e)
		}
	}
}

func (q *Queue) flush() {
	for {
		select {
		case e := <-q.entries:
			q.persist(context.Background(), e)
		default:
			return
		}
	}
}

func (q *Queue) persist(ctx context.Context, e entry) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if err := q.persister.PersistLog(ctx, e.clientId, e.message); err != nil {
		q.log.Error("Failed to persist client log", zap.Int64("clientId", e.clientId), zap.Error(err))
	}
}
