package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory implements Cache in-process for single-instance deployments.
type Memory struct {
	items *gocache.Cache
}

func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{items: gocache.New(defaultTTL, defaultTTL*2)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := value.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("cache get %s: unexpected value type %T", key, value)
	}
	return append([]byte(nil), raw...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.items.Delete(key)
	}
	return nil
}

// DeletePattern matches keys with path.Match, which shares Redis glob syntax
// for the '*', '?' and '[...]' forms used by cache keys.
func (m *Memory) DeletePattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("cache pattern %s: %w", pattern, err)
	}
	for key := range m.items.Items() {
		if matched, _ := path.Match(pattern, key); matched {
			m.items.Delete(key)
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Len() int {
	return m.items.ItemCount()
}
