package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evahq/webhooks/storage"
)

var subscriptionColumns = []string{
	"id", "tenant_id", "url", "event_types", "description", "secret", "active",
	"created_at", "updated_at", "last_delivery_at",
	"total_deliveries", "successful_deliveries", "failed_deliveries", "avg_response_time_ms",
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, nil), mock
}

func subscriptionRow(mock sqlmock.Sqlmock, id string) *sqlmock.Rows {
	now := time.Now().UTC()
	return mock.NewRows(subscriptionColumns).
		AddRow(id, "tenant1", "https://example.com/hook", []byte(`["document.*"]`),
			"desc", "whsec_1", true, now, now, nil, int64(10), int64(8), int64(2), 42.5)
}

func TestSQLStore_CreateWebhook(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(createSubscriptionQuery, tableSubscriptions))).
		WithArgs("webhook_1", "tenant1", "https://example.com/hook", []byte(`["space.created"]`),
			"desc", "secret", true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateWebhook(context.Background(), &storage.Subscription{
		ID:          "webhook_1",
		TenantID:    "tenant1",
		URL:         "https://example.com/hook",
		EventTypes:  []string{"space.created"},
		Description: "desc",
		Secret:      "secret",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateWebhook_Duplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(createSubscriptionQuery, tableSubscriptions))).
		WillReturnError(&mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"})

	err := store.CreateWebhook(context.Background(), &storage.Subscription{
		ID:         "webhook_1",
		TenantID:   "tenant1",
		URL:        "https://example.com/hook",
		EventTypes: []string{"space.created"},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetWebhook(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(fmt.Sprintf(getSubscriptionQuery, tableSubscriptions))).
		WithArgs("webhook_1", "tenant1").
		WillReturnRows(subscriptionRow(mock, "webhook_1"))

	sub, err := store.GetWebhook(context.Background(), "webhook_1", "tenant1")
	require.NoError(t, err)
	assert.Equal(t, "webhook_1", sub.ID)
	assert.Equal(t, []string{"document.*"}, sub.EventTypes)
	assert.Equal(t, "whsec_1", sub.Secret)
	assert.Nil(t, sub.LastDeliveryAt)
	assert.Equal(t, int64(10), sub.Stats.TotalDeliveries)
	assert.Equal(t, int64(8), sub.Stats.SuccessfulDeliveries)
	assert.InDelta(t, 42.5, sub.Stats.AvgResponseTimeMs, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetWebhook_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(fmt.Sprintf(getSubscriptionQuery, tableSubscriptions))).
		WithArgs("missing", "tenant1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetWebhook(context.Background(), "missing", "tenant1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateWebhook_PersistsCallerTimestamp(t *testing.T) {
	store, mock := newMockStore(t)
	updatedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(updateSubscriptionQuery, tableSubscriptions))).
		WithArgs("https://example.com/hook", []byte(`["space.*"]`), "", "", true,
			updatedAt, "webhook_1", "tenant1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateWebhook(context.Background(), &storage.Subscription{
		ID:         "webhook_1",
		TenantID:   "tenant1",
		URL:        "https://example.com/hook",
		EventTypes: []string{"space.*"},
		Active:     true,
		UpdatedAt:  updatedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateWebhook_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(updateSubscriptionQuery, tableSubscriptions))).
		WithArgs("https://example.com/hook", []byte(`["space.*"]`), "", "", true,
			sqlmock.AnyArg(), "missing", "tenant1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateWebhook(context.Background(), &storage.Subscription{
		ID:         "missing",
		TenantID:   "tenant1",
		URL:        "https://example.com/hook",
		EventTypes: []string{"space.*"},
		Active:     true,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteWebhook(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(deleteSubscriptionQuery, tableSubscriptions))).
		WithArgs("webhook_1", "tenant1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteWebhook(context.Background(), "webhook_1", "tenant1"))

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(deleteSubscriptionQuery, tableSubscriptions))).
		WithArgs("missing", "tenant1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeleteWebhook(context.Background(), "missing", "tenant1"), storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListActiveByEventPattern(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(fmt.Sprintf(listByPatternQuery, tableSubscriptions))).
		WithArgs("tenant1", "document.*").
		WillReturnRows(subscriptionRow(mock, "webhook_1"))

	subs, err := store.ListActiveByEventPattern(context.Background(), "tenant1", "document.*")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "webhook_1", subs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateStats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(updateStatsQuery, tableSubscriptions))).
		WithArgs(123.4, 1, 0, sqlmock.AnyArg(), "webhook_1", "tenant1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateStats(context.Background(), "webhook_1", "tenant1", true, 123.4))

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(updateStatsQuery, tableSubscriptions))).
		WithArgs(200.0, 0, 1, sqlmock.AnyArg(), "webhook_1", "tenant1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateStats(context.Background(), "webhook_1", "tenant1", false, 200.0))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendDeliveryLog(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// StatusCode 0 means no HTTP response; it is stored as NULL.
	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(appendLogQuery, tableDeliveryLogs))).
		WithArgs("log_1", "webhook_1", "tenant1", "space.created", "evt_1", 2,
			now, nil, false, 10.5, "", "Timeout after 10s").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendDeliveryLog(context.Background(), &storage.DeliveryLogRecord{
		ID:             "log_1",
		SubscriptionID: "webhook_1",
		TenantID:       "tenant1",
		EventType:      "space.created",
		EventID:        "evt_1",
		Attempt:        2,
		Timestamp:      now,
		Success:        false,
		ResponseTimeMs: 10.5,
		ErrorMessage:   "Timeout after 10s",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListDeliveryLogs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := mock.NewRows([]string{
		"id", "subscription_id", "tenant_id", "event_type", "event_id", "attempt",
		"timestamp", "status_code", "success", "response_time_ms", "response_body", "error_message",
	}).
		AddRow("log_2", "webhook_1", "tenant1", "space.created", "evt_1", 2, now, 200, true, 12.5, "ok", "").
		AddRow("log_1", "webhook_1", "tenant1", "space.created", "evt_1", 1, now.Add(-time.Second), nil, false, 9.5, "", "Request error: connection refused")

	mock.ExpectQuery(regexp.QuoteMeta(fmt.Sprintf(listLogsQuery, tableDeliveryLogs))).
		WithArgs("webhook_1", 50).
		WillReturnRows(rows)

	logs, err := store.ListDeliveryLogs(context.Background(), "webhook_1", 50)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 200, logs[0].StatusCode)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 0, logs[1].StatusCode)
	assert.Equal(t, "Request error: connection refused", logs[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendDeadLetter(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(appendDeadLetterQuery, tableDeadletters))).
		WithArgs("dl_1", "webhook_1", "tenant1", "space.created", "evt_1",
			[]byte(`{"event_type":"space.created"}`), "HTTP 500", now, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendDeadLetter(context.Background(), &storage.DeadLetterRecord{
		ID:             "dl_1",
		SubscriptionID: "webhook_1",
		TenantID:       "tenant1",
		EventType:      "space.created",
		EventID:        "evt_1",
		Payload:        []byte(`{"event_type":"space.created"}`),
		ErrorMessage:   "HTTP 500",
		Timestamp:      now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RetentionDeletes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(deleteLogsQuery, tableDeliveryLogs))).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))
	deleted, err := store.DeleteDeliveryLogs(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	mock.ExpectExec(regexp.QuoteMeta(fmt.Sprintf(deleteDeadLettersQuery, tableDeadletters))).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	deleted, err = store.DeleteProcessedDeadLetters(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_EnsureTables(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_delivery_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_deadletters").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
