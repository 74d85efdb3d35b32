package webhooks

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWorkerCount    = 8
	defaultRequestTimeout = 10 * time.Second
	defaultUserAgent      = "eva-webhooks/1.0"

	maxResponseBodyBytes = 1024
	maxHTTPConnections   = 100
	maxHTTPKeepAlive     = 20

	defaultLogRetention        = 30 * 24 * time.Hour
	defaultDeadLetterRetention = 7 * 24 * time.Hour
)

// defaultRetryDelays is the fixed backoff schedule between attempts. The
// total attempt budget is len(defaultRetryDelays)+1.
var defaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector. Defaults to a no-op collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithHTTPClient replaces the shared outbound HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithWorkerCount sets the number of concurrent delivery workers.
func WithWorkerCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithRetryDelays overrides the backoff schedule. The slice length
// determines the retry budget: len(delays) retries after the first attempt.
func WithRetryDelays(delays []time.Duration) Option {
	return func(s *Service) {
		if len(delays) > 0 {
			s.retryDelays = append([]time.Duration(nil), delays...)
		}
	}
}

// WithRequestTimeout sets the per-attempt HTTP timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header on outbound deliveries.
func WithUserAgent(ua string) Option {
	return func(s *Service) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}
