package middleware

import (
	"context"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/logging"
	"github.com/aman-churiwal/tier-gate/internal/metrics"
	"github.com/aman-churiwal/tier-gate/internal/models"
	"go.uber.org/zap"
)

const (
	decisionLogBatchSize     = 100
	decisionLogFlushInterval = 5 * time.Second
)

type BatchInserter interface {
	CreateBatch(ctx context.Context, logs []*models.DecisionLog) error
}

// DecisionLogWriter queues audit entries on a buffered channel and inserts
// them in batches. Record never blocks; entries are dropped when the buffer
// is full.
type DecisionLogWriter struct {
	entries       chan models.DecisionLog
	repo          BatchInserter
	flushInterval time.Duration
	logger        *zap.Logger
}

func NewDecisionLogWriter(repo BatchInserter, bufferSize int, logger *zap.Logger) *DecisionLogWriter {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &DecisionLogWriter{
		entries:       make(chan models.DecisionLog, bufferSize),
		repo:          repo,
		flushInterval: decisionLogFlushInterval,
		logger:        logging.OrNop(logger).Named("decision_log"),
	}
}

func (w *DecisionLogWriter) Record(entry models.DecisionLog) {
	select {
	case w.entries <- entry:
	default:
		metrics.DecisionLogDropped.Inc()
	}
}

// Run inserts queued entries until ctx is done, then flushes what is left
func (w *DecisionLogWriter) Run(ctx context.Context) error {
	batch := make([]*models.DecisionLog, 0, decisionLogBatchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.insertBatch(batch)
		batch = make([]*models.DecisionLog, 0, decisionLogBatchSize)
	}

	for {
		select {
		case entry := <-w.entries:
			batch = append(batch, &entry)
			if len(batch) >= decisionLogBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry := <-w.entries:
					batch = append(batch, &entry)
					if len(batch) >= decisionLogBatchSize {
						flush()
					}
				default:
					flush()
					return nil
				}
			}
		}
	}
}

func (w *DecisionLogWriter) insertBatch(batch []*models.DecisionLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.repo.CreateBatch(ctx, batch); err != nil {
		w.logger.Error("failed to insert decision logs", zap.Int("count", len(batch)), zap.Error(err))
	}
}
