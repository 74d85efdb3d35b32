package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evahq/webhooks/storage"
)

// Service delivers domain events to tenant-registered webhook endpoints.
//
// Deliveries are asynchronous: Broadcast and Deliver enqueue tasks and
// return immediately, a fixed pool of workers drains the queue, and each
// task runs its own retry loop. The queue is in-memory only; tasks queued
// or in flight when the process exits are lost.
type Service struct {
	store      storage.Store
	logger     *zap.Logger
	metrics    MetricsCollector
	httpClient *http.Client

	workerCount    int
	retryDelays    []time.Duration
	requestTimeout time.Duration
	userAgent      string

	mu      sync.Mutex
	queue   *taskQueue
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a delivery service around the given store. The service is
// inert until Start is called (or the first enqueue auto-starts it).
func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		logger:         zap.NewNop(),
		metrics:        NewNopMetricsCollector(),
		workerCount:    defaultWorkerCount,
		retryDelays:    defaultRetryDelays,
		requestTimeout: defaultRequestTimeout,
		userAgent:      defaultUserAgent,
		queue:          newTaskQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewNopMetricsCollector()
	}
	if s.httpClient == nil {
		s.httpClient = newHTTPClient()
	}
	return s
}

// Start spins up the delivery workers. It is idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Service) startLocked() {
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	queue := s.queue
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWorker(ctx, queue)
		}()
	}

	s.logger.Info("Webhook delivery service started",
		zap.Int("worker_count", s.workerCount))
}

// Stop cancels in-flight deliveries, discards queued tasks and waits for
// the workers to exit. Safe to call multiple times; the service can be
// started again afterwards. An enqueue racing Stop blocks until shutdown
// completes and then restarts the service on a fresh worker pool.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.queue.Close()
	s.queue = newTaskQueue()
	// Wait while still holding the lock: a concurrent Deliver must not
	// auto-start a new worker generation into the WaitGroup being drained.
	// Workers never take s.mu, so they are free to exit.
	s.wg.Wait()
	s.mu.Unlock()

	s.httpClient.CloseIdleConnections()
	s.logger.Info("Webhook delivery service stopped")
}

// IsStarted reports whether the worker pool is running.
func (s *Service) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Broadcast matches an event against the tenant's active subscriptions and
// enqueues one delivery per match. Matching issues two store queries: the
// exact event type and the single-level wildcard of its namespace; a
// subscription present in both result sets is notified once. Returns the
// number of deliveries queued; store failures are logged and yield 0.
func (s *Service) Broadcast(ctx context.Context, eventType string, event Event, tenantID string) int {
	exact, err := s.store.ListActiveByEventPattern(ctx, tenantID, eventType)
	if err != nil {
		s.logger.Error("Failed to query subscriptions for broadcast",
			zap.String("event_type", eventType),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return 0
	}
	wildcard, err := s.store.ListActiveByEventPattern(ctx, tenantID, wildcardPattern(eventType))
	if err != nil {
		s.logger.Error("Failed to query wildcard subscriptions for broadcast",
			zap.String("event_type", eventType),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return 0
	}

	seen := make(map[string]struct{}, len(exact)+len(wildcard))
	count := 0
	for _, sub := range append(exact, wildcard...) {
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		seen[sub.ID] = struct{}{}
		s.Deliver(sub.ID, event, tenantID)
		count++
	}

	if count == 0 {
		s.logger.Debug("No active subscriptions for event",
			zap.String("event_type", eventType),
			zap.String("tenant_id", tenantID))
		return 0
	}

	s.metrics.RecordGauge("webhooks.broadcast.matched", float64(count),
		map[string]string{"event_type": eventType})
	s.logger.Info("Queued webhook deliveries",
		zap.Int("count", count),
		zap.String("event_type", eventType),
		zap.String("event_id", event.EventID))
	return count
}

// Deliver enqueues one delivery of the event to a single named
// subscription, bypassing the matcher. It never blocks; the service is
// auto-started on first use.
func (s *Service) Deliver(subscriptionID string, event Event, tenantID string) {
	s.mu.Lock()
	if !s.started {
		s.logger.Warn("Webhook service not running, starting now")
		s.startLocked()
	}
	queue := s.queue
	s.mu.Unlock()

	queue.Push(DeliveryTask{
		SubscriptionID: subscriptionID,
		TenantID:       tenantID,
		Event:          event,
		EnqueuedAt:     time.Now().UTC(),
	})
	s.metrics.IncrementCounter("webhooks.delivery.enqueued",
		map[string]string{"event_type": event.EventType})
	s.logger.Debug("Event queued for delivery",
		zap.String("subscription_id", subscriptionID),
		zap.String("event_type", event.EventType))
}

// DeliverTest builds a synthetic verification event and routes it through
// the normal delivery path to one subscription. Returns the event so the
// caller can surface its id.
func (s *Service) DeliverTest(subscriptionID, eventType, tenantID string) Event {
	event := NewTestEvent(eventType, tenantID)
	s.Deliver(subscriptionID, event, tenantID)
	return event
}

func (s *Service) runWorker(ctx context.Context, queue *taskQueue) {
	for {
		task, ok := queue.Pop()
		if !ok {
			return
		}
		s.metrics.RecordGauge("webhooks.queue.depth", float64(queue.Len()), nil)
		s.processDelivery(ctx, task)
	}
}

// processDelivery runs the full retry loop for one task: up to
// len(retryDelays)+1 attempts, one ledger entry per attempt, stats update
// on the terminal outcome, dead-letter capture on exhaustion.
func (s *Service) processDelivery(ctx context.Context, task DeliveryTask) {
	sub, err := s.store.GetWebhook(ctx, task.SubscriptionID, task.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted between enqueue and dispatch: an expected race, not a failure.
		s.logger.Warn("Subscription not found, skipping delivery",
			zap.String("subscription_id", task.SubscriptionID))
		return
	}
	if err != nil {
		s.logger.Error("Failed to resolve subscription",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Error(err))
		return
	}
	if !sub.Active {
		s.logger.Debug("Subscription inactive, skipping delivery",
			zap.String("subscription_id", task.SubscriptionID))
		return
	}

	maxAttempts := len(s.retryDelays) + 1
	var lastError string
	var lastLatencyMs float64

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result := s.attemptDelivery(ctx, sub, task.Event, attempt)
		s.recordAttempt(ctx, task, result, attempt)
		lastLatencyMs = result.ResponseTimeMs

		if result.Success {
			s.updateStats(ctx, task, true, result.ResponseTimeMs)
			s.logger.Info("Webhook delivered",
				zap.String("subscription_id", task.SubscriptionID),
				zap.String("event_id", task.Event.EventID),
				zap.Int("attempt", attempt))
			return
		}
		lastError = result.ErrorMessage
		s.logger.Warn("Webhook delivery attempt failed",
			zap.String("subscription_id", task.SubscriptionID),
			zap.String("event_id", task.Event.EventID),
			zap.Int("attempt", attempt),
			zap.String("error", result.ErrorMessage))

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				s.logger.Warn("Shutdown during retry backoff, abandoning delivery",
					zap.String("subscription_id", task.SubscriptionID),
					zap.String("event_id", task.Event.EventID))
				return
			case <-time.After(s.retryDelays[attempt-1]):
			}
		}
	}

	s.updateStats(ctx, task, false, lastLatencyMs)
	s.captureDeadLetter(ctx, task, lastError)
}

// recordAttempt appends one ledger entry. Best effort: a failed write is
// logged and swallowed, never failing the delivery itself.
func (s *Service) recordAttempt(ctx context.Context, task DeliveryTask, result AttemptResult, attempt int) {
	entry := &storage.DeliveryLogRecord{
		ID:             uuid.NewString(),
		SubscriptionID: task.SubscriptionID,
		TenantID:       task.TenantID,
		EventType:      task.Event.EventType,
		EventID:        task.Event.EventID,
		Attempt:        attempt,
		Timestamp:      time.Now().UTC(),
		StatusCode:     result.StatusCode,
		Success:        result.Success,
		ResponseTimeMs: result.ResponseTimeMs,
		ResponseBody:   result.ResponseBody,
		ErrorMessage:   result.ErrorMessage,
	}
	if err := s.store.AppendDeliveryLog(ctx, entry); err != nil {
		s.logger.Error("Failed to log webhook delivery",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Error(err))
	}

	tags := map[string]string{"event_type": task.Event.EventType}
	if result.Success {
		s.metrics.IncrementCounter("webhooks.delivery.success", tags)
	} else {
		s.metrics.IncrementCounter("webhooks.delivery.failed", tags)
	}
	s.metrics.RecordDuration("webhooks.delivery.duration",
		time.Duration(result.ResponseTimeMs*float64(time.Millisecond)), tags)
}

// updateStats folds the terminal outcome into the subscription's rolling
// counters. Best effort, same as recordAttempt.
func (s *Service) updateStats(ctx context.Context, task DeliveryTask, success bool, latencyMs float64) {
	if err := s.store.UpdateStats(ctx, task.SubscriptionID, task.TenantID, success, latencyMs); err != nil {
		s.logger.Error("Failed to update subscription stats",
			zap.String("subscription_id", task.SubscriptionID),
			zap.Error(err))
	}
}

func (s *Service) captureDeadLetter(ctx context.Context, task DeliveryTask, lastError string) {
	if lastError == "" {
		lastError = "All delivery attempts failed"
	}
	payload, err := json.Marshal(task.Event)
	if err != nil {
		payload = nil
	}
	entry := &storage.DeadLetterRecord{
		ID:             uuid.NewString(),
		SubscriptionID: task.SubscriptionID,
		TenantID:       task.TenantID,
		EventType:      task.Event.EventType,
		EventID:        task.Event.EventID,
		Payload:        payload,
		ErrorMessage:   lastError,
		Timestamp:      time.Now().UTC(),
		Processed:      false,
	}
	if err := s.store.AppendDeadLetter(ctx, entry); err != nil {
		s.logger.Error("Failed to write dead letter",
			zap.String("subscription_id", task.SubscriptionID),
			zap.String("event_id", task.Event.EventID),
			zap.Error(err))
		return
	}
	s.metrics.IncrementCounter("webhooks.deadletter.captured",
		map[string]string{"event_type": task.Event.EventType})
	s.logger.Warn("Event sent to dead letter queue",
		zap.String("subscription_id", task.SubscriptionID),
		zap.String("event_type", task.Event.EventType),
		zap.String("error", lastError))
}
