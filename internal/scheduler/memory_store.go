package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. Everything is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[JobKey]JobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[JobKey]JobRecord)}
}

func (m *MemoryStore) Put(ctx context.Context, rec JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[rec.Key] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key JobKey) (JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[key]
	if !ok {
		return JobRecord{}, ErrJobNotFound
	}
	return rec, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key JobKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[key]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

func (m *MemoryStore) SetState(ctx context.Context, key JobKey, state State, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	rec.State = state
	rec.NextFire = next
	m.jobs[key] = rec
	return nil
}

func (m *MemoryStore) SetStateAll(ctx context.Context, state State, next NextFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.jobs {
		rec.State = state
		rec.NextFire = nil
		if next != nil {
			rec.NextFire = next(rec)
		}
		m.jobs[key] = rec
	}
	return nil
}

func (m *MemoryStore) RecordFire(ctx context.Context, key JobKey, fired time.Time, next *time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	rec.PrevFire = &fired
	rec.NextFire = next
	rec.LastError = lastErr
	m.jobs[key] = rec
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortRecords(recs []JobRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Key.Group != recs[j].Key.Group {
			return recs[i].Key.Group < recs[j].Key.Group
		}
		return recs[i].Key.Name < recs[j].Key.Name
	})
}
