package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"calarchive/internal/models"
)

// Memory is an in-process Store, used for dry runs and tests.
type Memory struct {
	mu     sync.RWMutex
	byKey  map[string]models.Appointment
	unique map[string]string // UniqueKey -> InstanceKey
}

func NewMemory() *Memory {
	return &Memory{
		byKey:  make(map[string]models.Appointment),
		unique: make(map[string]string),
	}
}

func (m *Memory) Add(_ context.Context, a models.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.InstanceKey()
	if _, ok := m.byKey[key]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.unique[UniqueKey(a)]; ok {
		return ErrAlreadyExists
	}
	m.byKey[key] = a.Clone()
	m.unique[UniqueKey(a)] = key
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byKey[key]
	if !ok {
		return models.Appointment{}, ErrNotFound
	}
	return a.Clone(), nil
}

// List returns appointments starting in [from, to), ordered by start.
func (m *Memory) List(_ context.Context, from, to time.Time) ([]models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Appointment
	for _, a := range m.byKey {
		if !a.Start.Before(from) && a.Start.Before(to) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].InstanceKey() < out[j].InstanceKey()
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (m *Memory) Update(_ context.Context, a models.Appointment, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.InstanceKey()
	stored, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	if !CanModify(stored, actor) {
		return ErrForbidden
	}
	if other, ok := m.unique[UniqueKey(a)]; ok && other != key {
		return ErrAlreadyExists
	}
	delete(m.unique, UniqueKey(stored))
	m.byKey[key] = a.Clone()
	m.unique[UniqueKey(a)] = key
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.byKey, key)
	delete(m.unique, UniqueKey(stored))
	return nil
}
