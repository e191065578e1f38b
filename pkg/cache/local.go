package cache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
)

// MinLocalSize is the smallest segment size freecache accepts.
const MinLocalSize = 512 * 1024

// Clock is the second-resolution time source of the local store.
type Clock interface {
	Now() uint32
}

// LocalStore is a process-private freecache.
type LocalStore struct {
	inMemCache *freecache.Cache
}

var _ Store = &LocalStore{}

func NewLocalStore(sizeInBytes int) *LocalStore {
	if sizeInBytes < MinLocalSize {
		sizeInBytes = MinLocalSize
	}
	return &LocalStore{
		inMemCache: freecache.NewCache(sizeInBytes),
	}
}

func NewLocalStoreWithClock(sizeInBytes int, clock Clock) *LocalStore {
	if sizeInBytes < MinLocalSize {
		sizeInBytes = MinLocalSize
	}
	return &LocalStore{
		inMemCache: freecache.NewCacheCustomTimer(sizeInBytes, clock),
	}
}

func (l *LocalStore) Get(_ context.Context, key string) (string, bool, error) {
	v, err := l.inMemCache.Get([]byte(key))
	if err == freecache.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (l *LocalStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	return l.inMemCache.Set([]byte(key), []byte(value), expireSeconds(ttl))
}

func (l *LocalStore) Delete(_ context.Context, key string) error {
	l.inMemCache.Del([]byte(key))
	return nil
}

func (l *LocalStore) Persistent() bool {
	return false
}

// expireSeconds rounds ttl up; freecache treats 0 as "never expires".
func expireSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s := int((ttl + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
