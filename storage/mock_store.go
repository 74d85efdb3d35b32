package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateWebhook(ctx context.Context, sub *Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockStore) GetWebhook(ctx context.Context, id, tenantID string) (*Subscription, error) {
	args := m.Called(ctx, id, tenantID)
	sub, _ := args.Get(0).(*Subscription)
	return sub, args.Error(1)
}

func (m *MockStore) UpdateWebhook(ctx context.Context, sub *Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockStore) DeleteWebhook(ctx context.Context, id, tenantID string) error {
	args := m.Called(ctx, id, tenantID)
	return args.Error(0)
}

func (m *MockStore) ListWebhooks(ctx context.Context, tenantID string) ([]Subscription, error) {
	args := m.Called(ctx, tenantID)
	subs, _ := args.Get(0).([]Subscription)
	return subs, args.Error(1)
}

func (m *MockStore) ListActiveByEventPattern(ctx context.Context, tenantID, pattern string) ([]Subscription, error) {
	args := m.Called(ctx, tenantID, pattern)
	subs, _ := args.Get(0).([]Subscription)
	return subs, args.Error(1)
}

func (m *MockStore) UpdateStats(ctx context.Context, id, tenantID string, success bool, responseTimeMs float64) error {
	args := m.Called(ctx, id, tenantID, success, responseTimeMs)
	return args.Error(0)
}

func (m *MockStore) AppendDeliveryLog(ctx context.Context, entry *DeliveryLogRecord) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStore) ListDeliveryLogs(ctx context.Context, subscriptionID string, limit int) ([]DeliveryLogRecord, error) {
	args := m.Called(ctx, subscriptionID, limit)
	logs, _ := args.Get(0).([]DeliveryLogRecord)
	return logs, args.Error(1)
}

func (m *MockStore) AppendDeadLetter(ctx context.Context, entry *DeadLetterRecord) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStore) DeleteDeliveryLogs(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeleteProcessedDeadLetters(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}
