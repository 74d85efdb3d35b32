package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and the runnable example.
// It mirrors the containment semantics of the SQL store: a pattern query
// matches subscriptions whose EventTypes set contains the pattern string
// verbatim.
type MemStore struct {
	mu          sync.RWMutex
	subs        map[string]*Subscription // keyed by id
	logs        []DeliveryLogRecord
	deadLetters []DeadLetterRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{subs: make(map[string]*Subscription)}
}

func (m *MemStore) CreateWebhook(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subs[sub.ID]; exists {
		return ErrDuplicate
	}
	cp := cloneSubscription(sub)
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemStore) GetWebhook(_ context.Context, id, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok || sub.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := cloneSubscription(sub)
	return &cp, nil
}

func (m *MemStore) UpdateWebhook(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.subs[sub.ID]
	if !ok || existing.TenantID != sub.TenantID {
		return ErrNotFound
	}
	existing.URL = sub.URL
	existing.EventTypes = append([]string(nil), sub.EventTypes...)
	existing.Description = sub.Description
	existing.Secret = sub.Secret
	existing.Active = sub.Active
	existing.UpdatedAt = sub.UpdatedAt
	return nil
}

func (m *MemStore) DeleteWebhook(_ context.Context, id, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *MemStore) ListWebhooks(_ context.Context, tenantID string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) ListActiveByEventPattern(_ context.Context, tenantID, pattern string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, sub := range m.subs {
		if sub.TenantID != tenantID || !sub.Active {
			continue
		}
		for _, et := range sub.EventTypes {
			if et == pattern {
				out = append(out, cloneSubscription(sub))
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) UpdateStats(_ context.Context, id, tenantID string, success bool, responseTimeMs float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.TenantID != tenantID {
		return ErrNotFound
	}
	stats := &sub.Stats
	stats.TotalDeliveries++
	if success {
		stats.SuccessfulDeliveries++
	} else {
		stats.FailedDeliveries++
	}
	n := float64(stats.TotalDeliveries)
	stats.AvgResponseTimeMs = (stats.AvgResponseTimeMs*(n-1) + responseTimeMs) / n
	now := time.Now().UTC()
	sub.LastDeliveryAt = &now
	return nil
}

func (m *MemStore) AppendDeliveryLog(_ context.Context, entry *DeliveryLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *MemStore) ListDeliveryLogs(_ context.Context, subscriptionID string, limit int) ([]DeliveryLogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeliveryLogRecord
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].SubscriptionID == subscriptionID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *MemStore) AppendDeadLetter(_ context.Context, entry *DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, *entry)
	return nil
}

func (m *MemStore) DeleteDeliveryLogs(_ context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-retention)
	kept := m.logs[:0]
	var deleted int64
	for _, entry := range m.logs {
		if entry.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	m.logs = kept
	return deleted, nil
}

func (m *MemStore) DeleteProcessedDeadLetters(_ context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-retention)
	kept := m.deadLetters[:0]
	var deleted int64
	for _, entry := range m.deadLetters {
		if entry.Processed && entry.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	m.deadLetters = kept
	return deleted, nil
}

// DeadLetters returns a snapshot of the captured dead letters.
func (m *MemStore) DeadLetters() []DeadLetterRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DeadLetterRecord(nil), m.deadLetters...)
}

func cloneSubscription(sub *Subscription) Subscription {
	cp := *sub
	cp.EventTypes = append([]string(nil), sub.EventTypes...)
	if sub.LastDeliveryAt != nil {
		t := *sub.LastDeliveryAt
		cp.LastDeliveryAt = &t
	}
	return cp
}
