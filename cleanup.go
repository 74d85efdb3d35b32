package webhooks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/evahq/webhooks/storage"
)

// CleanupService prunes aged bookkeeping: delivery log entries past their
// retention window and dead letters an operator has already marked
// processed. Typically driven by a BaseWorker from the composition root.
type CleanupService struct {
	store               storage.Store
	logger              *zap.Logger
	metrics             MetricsCollector
	logRetention        time.Duration
	deadLetterRetention time.Duration
}

// NewCleanupService creates a cleanup service. Zero retention values fall
// back to the package defaults (30 days for logs, 7 days for processed dead
// letters).
func NewCleanupService(store storage.Store, logger *zap.Logger, metrics MetricsCollector, logRetention, deadLetterRetention time.Duration) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	if logRetention <= 0 {
		logRetention = defaultLogRetention
	}
	if deadLetterRetention <= 0 {
		deadLetterRetention = defaultDeadLetterRetention
	}
	return &CleanupService{
		store:               store,
		logger:              logger,
		metrics:             metrics,
		logRetention:        logRetention,
		deadLetterRetention: deadLetterRetention,
	}
}

// Cleanup runs one pruning pass. Individual deletion failures are logged
// and do not abort the pass; the worker keeps running regardless.
func (s *CleanupService) Cleanup(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("webhooks.cleanup.duration", time.Since(start), nil)
	}()

	logsDeleted, err := s.store.DeleteDeliveryLogs(ctx, s.logRetention)
	if err != nil {
		s.logger.Error("Failed to prune delivery logs", zap.Error(err))
		s.metrics.IncrementCounter("webhooks.cleanup.logs.failed", nil)
	} else if logsDeleted > 0 {
		s.logger.Info("Pruned delivery logs", zap.Int64("count", logsDeleted))
		s.metrics.RecordGauge("webhooks.cleanup.logs.deleted", float64(logsDeleted), nil)
	}

	dlDeleted, err := s.store.DeleteProcessedDeadLetters(ctx, s.deadLetterRetention)
	if err != nil {
		s.logger.Error("Failed to prune processed dead letters", zap.Error(err))
		s.metrics.IncrementCounter("webhooks.cleanup.deadletter.failed", nil)
	} else if dlDeleted > 0 {
		s.logger.Info("Pruned processed dead letters", zap.Int64("count", dlDeleted))
		s.metrics.RecordGauge("webhooks.cleanup.deadletter.deleted", float64(dlDeleted), nil)
	}

	return nil
}
