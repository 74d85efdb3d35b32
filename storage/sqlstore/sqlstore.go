package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/go-sql-driver/mysql"

	"github.com/evahq/webhooks/storage"
)

// mysqlDuplicateEntry is the server error code for a unique key violation.
const mysqlDuplicateEntry = 1062

const (
	tableSubscriptions = "webhook_subscriptions"
	tableDeliveryLogs  = "webhook_delivery_logs"
	tableDeadletters   = "webhook_deadletters"
)

// SQL queries
const (
	createSubscriptionQuery = `
		INSERT INTO %s (id, tenant_id, url, event_types, description, secret, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getSubscriptionQuery = `
		SELECT id, tenant_id, url, event_types, description, secret, active,
		       created_at, updated_at, last_delivery_at,
		       total_deliveries, successful_deliveries, failed_deliveries, avg_response_time_ms
		FROM %s
		WHERE id = ? AND tenant_id = ?`

	updateSubscriptionQuery = `
		UPDATE %s
		SET url = ?, event_types = ?, description = ?, secret = ?, active = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`

	deleteSubscriptionQuery = `DELETE FROM %s WHERE id = ? AND tenant_id = ?`

	listSubscriptionsQuery = `
		SELECT id, tenant_id, url, event_types, description, secret, active,
		       created_at, updated_at, last_delivery_at,
		       total_deliveries, successful_deliveries, failed_deliveries, avg_response_time_ms
		FROM %s
		WHERE tenant_id = ?
		ORDER BY created_at`

	listByPatternQuery = `
		SELECT id, tenant_id, url, event_types, description, secret, active,
		       created_at, updated_at, last_delivery_at,
		       total_deliveries, successful_deliveries, failed_deliveries, avg_response_time_ms
		FROM %s
		WHERE tenant_id = ? AND active = TRUE AND JSON_CONTAINS(event_types, JSON_QUOTE(?))`

	// The running average is assigned before the counter increments: MySQL
	// applies SET clauses left to right using already-updated values, and the
	// single statement keeps concurrent completions from losing updates.
	updateStatsQuery = `
		UPDATE %s
		SET avg_response_time_ms = (avg_response_time_ms * total_deliveries + ?) / (total_deliveries + 1),
		    total_deliveries = total_deliveries + 1,
		    successful_deliveries = successful_deliveries + ?,
		    failed_deliveries = failed_deliveries + ?,
		    last_delivery_at = ?
		WHERE id = ? AND tenant_id = ?`

	appendLogQuery = `
		INSERT INTO %s (id, subscription_id, tenant_id, event_type, event_id, attempt,
		                timestamp, status_code, success, response_time_ms, response_body, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	listLogsQuery = `
		SELECT id, subscription_id, tenant_id, event_type, event_id, attempt,
		       timestamp, status_code, success, response_time_ms, response_body, error_message
		FROM %s
		WHERE subscription_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`

	appendDeadLetterQuery = `
		INSERT INTO %s (id, subscription_id, tenant_id, event_type, event_id, payload, error_message, timestamp, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	deleteLogsQuery = `DELETE FROM %s WHERE timestamp < ?`

	deleteDeadLettersQuery = `DELETE FROM %s WHERE processed = TRUE AND timestamp < ?`
)

// SQLStore is the MySQL-backed implementation of storage.Store.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLStore wraps an open database handle. The DSN must set
// parseTime=true so TIMESTAMP columns scan into time.Time.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger}
}

func (s *SQLStore) CreateWebhook(ctx context.Context, sub *storage.Subscription) error {
	eventTypes, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal event types: %w", err)
	}
	query := fmt.Sprintf(createSubscriptionQuery, tableSubscriptions)
	_, err = s.db.ExecContext(ctx, query,
		sub.ID,
		sub.TenantID,
		sub.URL,
		eventTypes,
		sub.Description,
		sub.Secret,
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *SQLStore) GetWebhook(ctx context.Context, id, tenantID string) (*storage.Subscription, error) {
	query := fmt.Sprintf(getSubscriptionQuery, tableSubscriptions)
	row := s.db.QueryRowContext(ctx, query, id, tenantID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *SQLStore) UpdateWebhook(ctx context.Context, sub *storage.Subscription) error {
	eventTypes, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal event types: %w", err)
	}
	query := fmt.Sprintf(updateSubscriptionQuery, tableSubscriptions)
	res, err := s.db.ExecContext(ctx, query,
		sub.URL,
		eventTypes,
		sub.Description,
		sub.Secret,
		sub.Active,
		sub.UpdatedAt,
		sub.ID,
		sub.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteWebhook(ctx context.Context, id, tenantID string) error {
	query := fmt.Sprintf(deleteSubscriptionQuery, tableSubscriptions)
	res, err := s.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListWebhooks(ctx context.Context, tenantID string) ([]storage.Subscription, error) {
	query := fmt.Sprintf(listSubscriptionsQuery, tableSubscriptions)
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *SQLStore) ListActiveByEventPattern(ctx context.Context, tenantID, pattern string) ([]storage.Subscription, error) {
	query := fmt.Sprintf(listByPatternQuery, tableSubscriptions)
	rows, err := s.db.QueryContext(ctx, query, tenantID, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions by pattern: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *SQLStore) UpdateStats(ctx context.Context, id, tenantID string, success bool, responseTimeMs float64) error {
	successInc, failInc := 0, 1
	if success {
		successInc, failInc = 1, 0
	}
	query := fmt.Sprintf(updateStatsQuery, tableSubscriptions)
	_, err := s.db.ExecContext(ctx, query,
		responseTimeMs,
		successInc,
		failInc,
		time.Now().UTC(),
		id,
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription stats: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendDeliveryLog(ctx context.Context, entry *storage.DeliveryLogRecord) error {
	var statusCode any
	if entry.StatusCode != 0 {
		statusCode = entry.StatusCode
	}
	query := fmt.Sprintf(appendLogQuery, tableDeliveryLogs)
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.SubscriptionID,
		entry.TenantID,
		entry.EventType,
		entry.EventID,
		entry.Attempt,
		entry.Timestamp,
		statusCode,
		entry.Success,
		entry.ResponseTimeMs,
		entry.ResponseBody,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}

func (s *SQLStore) ListDeliveryLogs(ctx context.Context, subscriptionID string, limit int) ([]storage.DeliveryLogRecord, error) {
	query := fmt.Sprintf(listLogsQuery, tableDeliveryLogs)
	rows, err := s.db.QueryContext(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []storage.DeliveryLogRecord
	for rows.Next() {
		var entry storage.DeliveryLogRecord
		var statusCode sql.NullInt64
		if err := rows.Scan(
			&entry.ID,
			&entry.SubscriptionID,
			&entry.TenantID,
			&entry.EventType,
			&entry.EventID,
			&entry.Attempt,
			&entry.Timestamp,
			&statusCode,
			&entry.Success,
			&entry.ResponseTimeMs,
			&entry.ResponseBody,
			&entry.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery log row: %w", err)
		}
		entry.StatusCode = int(statusCode.Int64)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading delivery log rows: %w", err)
	}
	return logs, nil
}

func (s *SQLStore) AppendDeadLetter(ctx context.Context, entry *storage.DeadLetterRecord) error {
	query := fmt.Sprintf(appendDeadLetterQuery, tableDeadletters)
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.SubscriptionID,
		entry.TenantID,
		entry.EventType,
		entry.EventID,
		entry.Payload,
		entry.ErrorMessage,
		entry.Timestamp,
		entry.Processed,
	)
	if err != nil {
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteDeliveryLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := fmt.Sprintf(deleteLogsQuery, tableDeliveryLogs)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) DeleteProcessedDeadLetters(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := fmt.Sprintf(deleteDeadLettersQuery, tableDeadletters)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*storage.Subscription, error) {
	var sub storage.Subscription
	var eventTypes []byte
	var lastDelivery sql.NullTime
	if err := row.Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.URL,
		&eventTypes,
		&sub.Description,
		&sub.Secret,
		&sub.Active,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&lastDelivery,
		&sub.Stats.TotalDeliveries,
		&sub.Stats.SuccessfulDeliveries,
		&sub.Stats.FailedDeliveries,
		&sub.Stats.AvgResponseTimeMs,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eventTypes, &sub.EventTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event types: %w", err)
	}
	if lastDelivery.Valid {
		t := lastDelivery.Time
		sub.LastDeliveryAt = &t
	}
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]storage.Subscription, error) {
	var subs []storage.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading subscription rows: %w", err)
	}
	return subs, nil
}

// EnsureTables creates the schema if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	for _, query := range []string{createSubscriptionsTable, createDeliveryLogsTable, createDeadlettersTable} {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

const createSubscriptionsTable = `
	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id                    VARCHAR(64)  NOT NULL PRIMARY KEY,
		tenant_id             VARCHAR(64)  NOT NULL,
		url                   VARCHAR(2048) NOT NULL,
		event_types           JSON         NOT NULL,
		description           VARCHAR(512) NOT NULL DEFAULT '',
		secret                VARCHAR(255) NOT NULL DEFAULT '',
		active                BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at            TIMESTAMP(6) NOT NULL,
		updated_at            TIMESTAMP(6) NOT NULL,
		last_delivery_at      TIMESTAMP(6) NULL,
		total_deliveries      BIGINT       NOT NULL DEFAULT 0,
		successful_deliveries BIGINT       NOT NULL DEFAULT 0,
		failed_deliveries     BIGINT       NOT NULL DEFAULT 0,
		avg_response_time_ms  DOUBLE       NOT NULL DEFAULT 0,
		INDEX idx_tenant (tenant_id),
		INDEX idx_tenant_active (tenant_id, active)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`

const createDeliveryLogsTable = `
	CREATE TABLE IF NOT EXISTS webhook_delivery_logs (
		id               CHAR(36)     NOT NULL PRIMARY KEY,
		subscription_id  VARCHAR(64)  NOT NULL,
		tenant_id        VARCHAR(64)  NOT NULL,
		event_type       VARCHAR(255) NOT NULL,
		event_id         VARCHAR(64)  NOT NULL,
		attempt          INT          NOT NULL,
		timestamp        TIMESTAMP(6) NOT NULL,
		status_code      INT          NULL,
		success          BOOLEAN      NOT NULL,
		response_time_ms DOUBLE       NOT NULL DEFAULT 0,
		response_body    TEXT         NULL,
		error_message    TEXT         NULL,
		INDEX idx_subscription_time (subscription_id, timestamp),
		INDEX idx_timestamp (timestamp)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`

const createDeadlettersTable = `
	CREATE TABLE IF NOT EXISTS webhook_deadletters (
		id              CHAR(36)      NOT NULL PRIMARY KEY,
		subscription_id VARCHAR(64)   NOT NULL,
		tenant_id       VARCHAR(64)   NOT NULL,
		event_type      VARCHAR(255)  NOT NULL,
		event_id        VARCHAR(64)   NOT NULL,
		payload         JSON          NULL,
		error_message   VARCHAR(2000) NULL,
		timestamp       TIMESTAMP(6)  NOT NULL,
		processed       BOOLEAN       NOT NULL DEFAULT FALSE,
		INDEX idx_tenant (tenant_id),
		INDEX idx_processed_time (processed, timestamp)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`
