package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mem is an in-memory Store for tests and throwaway deployments.
type Mem struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Store = (*Mem)(nil)

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{objects: make(map[string][]byte)}
}

// Upload implements Store.
func (m *Mem) Upload(_ context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

// Download implements Store.
func (m *Mem) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// SignedURL implements Store.
func (m *Mem) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return fmt.Sprintf("mem://%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

// Delete implements Store.
func (m *Mem) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

// Stats implements Store.
func (m *Mem) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Objects: len(m.objects)}
	for _, data := range m.objects {
		st.Bytes += int64(len(data))
	}
	return st, nil
}
