package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry), now: time.Now}
}

func (m *Memory) Ensure(_ context.Context, d Definition) error {
	if err := validDefinition(d); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[d.ID]; !ok {
		m.entries[d.ID] = &Entry{Definition: d, Value: zero(d.Type)}
	}
	return nil
}

func (m *Memory) Set(_ context.Context, id string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, id)
	}
	v, err := coerce(e.Type, value)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	e.Value = v
	e.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownState, id)
	}
	return *e, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for id, e := range m.entries {
		if strings.HasPrefix(id, prefix) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error { return nil }
