package cron

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *memoryLockStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memoryLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.data[key]; !ok || current != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := &memoryLockStore{data: map[string]string{}}
	first, err := NewRedisLock(store, LockKey, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, LockKey, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-owner release must not free the lock.
	require.NoError(t, second.Release(ctx))
	_, err = store.Get(ctx, LockKey)
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	store := &memoryLockStore{data: map[string]string{}}
	lock, err := NewRedisLock(store, LockKey, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate the TTL lapsing and another worker taking over.
	require.NoError(t, store.Del(ctx, LockKey))
	_, err = store.SetNX(ctx, LockKey, "other", time.Minute)
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	owner, err := store.Get(ctx, LockKey)
	require.NoError(t, err)
	assert.Equal(t, "other", owner)
}
