package backend

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memObject struct {
	payload []byte
	meta    map[string]string
}

// Memory implements Backend in process memory. It is intended for tests
// and ephemeral caches.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(ctx context.Context, path string, payload []byte, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	obj := memObject{payload: append([]byte{}, payload...), meta: copyMeta(meta)}
	m.mu.Lock()
	m.objects[path] = obj
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, path string) ([]byte, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	return append([]byte{}, obj.payload...), copyMeta(obj.meta), nil
}

func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[path]; ok {
		return true, nil
	}
	dir := dirPrefix(path)
	for k := range m.objects {
		if strings.HasPrefix(k, dir) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) DeleteRecursive(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := dirPrefix(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	for k := range m.objects {
		if strings.HasPrefix(k, dir) {
			delete(m.objects, k)
		}
	}
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Backend = (*Memory)(nil)
