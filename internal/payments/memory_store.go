package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory store for demo/development mode.
type MemoryStore struct {
	attempts  map[string]*Attempt
	callbacks map[string][]*CallbackRecord
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:  make(map[string]*Attempt),
		callbacks: make(map[string][]*CallbackRecord),
	}
}

func (m *MemoryStore) Create(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[a.OrderReference]; ok {
		return ErrDuplicateReference
	}
	cp := *a
	m.attempts[a.OrderReference] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, ref string) (*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[ref]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

// Transition checks and changes state under one write lock.
func (m *MemoryStore) Transition(_ context.Context, ref string, to State, res Resolution, at time.Time) (*Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[ref]
	if !ok {
		return nil, false, ErrAttemptNotFound
	}
	if a.State != StatePending {
		return copyAttempt(a), false, nil
	}

	a.State = to
	a.ResponseCode = res.ResponseCode
	a.TransactionStatus = res.TransactionStatus
	a.TransactionNo = res.TransactionNo
	a.BankCode = res.BankCode
	resolved := at
	a.ResolvedAt = &resolved
	a.UpdatedAt = at
	return copyAttempt(a), true, nil
}

func (m *MemoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Attempt
	for _, a := range m.attempts {
		if a.State == StatePending && a.ExpiresAt.Before(before) {
			result = append(result, copyAttempt(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) RecordCallback(_ context.Context, rec *CallbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.callbacks[rec.OrderReference] = append(m.callbacks[rec.OrderReference], &cp)
	return nil
}

func (m *MemoryStore) ListCallbacks(_ context.Context, ref string, limit int) ([]*CallbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.callbacks[ref]
	result := make([]*CallbackRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *recs[i]
		result = append(result, &cp)
	}
	return result, nil
}

func copyAttempt(a *Attempt) *Attempt {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
