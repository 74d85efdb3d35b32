package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/evahq/webhooks/storage"
)

// attemptDelivery performs a single HTTP POST to the subscriber endpoint and
// classifies the outcome. It never returns an error: every failure mode is
// folded into the AttemptResult so the retry loop can treat attempts
// uniformly.
func (s *Service) attemptDelivery(ctx context.Context, sub *storage.Subscription, event Event, attempt int) AttemptResult {
	body, err := canonicalJSON(event)
	if err != nil {
		// An event that cannot be serialized will never deliver; report it
		// as a request error so it runs out the retry budget and dead-letters.
		return AttemptResult{ErrorMessage: fmt.Sprintf("Request error: %v", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return AttemptResult{ErrorMessage: fmt.Sprintf("Request error: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Event-ID", event.EventID)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(attempt))

	if sub.Secret != "" {
		signature, err := Sign(event, sub.Secret)
		if err != nil {
			return AttemptResult{ErrorMessage: fmt.Sprintf("Request error: %v", err)}
		}
		req.Header.Set("X-Webhook-Signature", signaturePrefix+signature)
	}

	otel.GetTextMapPropagator().Inject(reqCtx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		result := AttemptResult{ResponseTimeMs: elapsedMs}
		if isTimeout(err) {
			result.ErrorMessage = fmt.Sprintf("Timeout after %gs", s.requestTimeout.Seconds())
		} else {
			result.ErrorMessage = fmt.Sprintf("Request error: %v", err)
		}
		return result
	}
	defer resp.Body.Close()

	preview, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		s.logger.Debug("Failed to read response body",
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
	}

	result := AttemptResult{
		StatusCode:     resp.StatusCode,
		ResponseTimeMs: elapsedMs,
		ResponseBody:   string(preview),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
	} else {
		result.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
}

// isTimeout distinguishes deadline expiry from other transport failures.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// newHTTPClient builds the shared outbound client: redirects are followed
// (the default policy) and the connection pool is capped so a burst of
// deliveries cannot grow sockets without bound.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     maxHTTPConnections,
		MaxIdleConns:        maxHTTPKeepAlive,
		MaxIdleConnsPerHost: maxHTTPKeepAlive,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport}
}
