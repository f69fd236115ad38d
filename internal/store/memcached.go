package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/zzkt/aqi/internal/models"
)

const memcachedKeyPrefix = "aqi:"

// MemcachedStore implements Store against memcached. Entries are stored
// as JSON with no expiration, so memcached keeps the same
// replace-on-write semantics as the in-memory map (modulo eviction
// under memory pressure, which callers tolerate as a plain miss).
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore connects to the comma-separated addrs and verifies
// reachability before returning.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := splitAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no servers configured")
	}

	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("memcached: ping failed: %w", err)
	}

	return &MemcachedStore{client: client}, nil
}

func splitAddrs(addrs string) []string {
	var servers []string
	for _, addr := range strings.Split(addrs, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			servers = append(servers, addr)
		}
	}
	return servers
}

func (s *MemcachedStore) key(key string) string {
	return memcachedKeyPrefix + key
}

func (s *MemcachedStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Get(s.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memcached: get %q: %w", key, err)
	}
	return true, nil
}

func (s *MemcachedStore) Get(ctx context.Context, key string) (models.Entry, bool, error) {
	item, err := s.client.Get(s.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("memcached: get %q: %w", key, err)
	}

	var entry models.Entry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return models.Entry{}, false, fmt.Errorf("memcached: decode %q: %w", key, err)
	}
	return entry, true, nil
}

func (s *MemcachedStore) Put(ctx context.Context, key string, entry models.Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memcached: encode %q: %w", key, err)
	}

	item := &memcache.Item{
		Key:        s.key(key),
		Value:      value,
		Expiration: 0,
	}
	if err := s.client.Set(item); err != nil {
		return fmt.Errorf("memcached: set %q: %w", key, err)
	}
	return nil
}

func (s *MemcachedStore) Clear(ctx context.Context, key string) error {
	err := s.client.Delete(s.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memcached: delete %q: %w", key, err)
	}
	return nil
}

// ClearAll flushes the whole memcached instance, not just prefixed keys;
// memcached has no keyspace scan. Acceptable because the instance is
// dedicated to this service.
func (s *MemcachedStore) ClearAll(ctx context.Context) error {
	if err := s.client.FlushAll(); err != nil {
		return fmt.Errorf("memcached: flush: %w", err)
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
