// Package kmutex provides a mutex keyed by string. The signing path uses it
// to serialize nonce-sensitive operations per account, and the coordinator
// uses it to reject concurrent advances of the same saga instance.
package kmutex

import "sync"

// KeyedMutex hands out one lock per key. Locks are created on demand and
// kept for the lifetime of the KeyedMutex; the key space here (signing
// accounts, active ramps) is small and bounded.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the lock for key is held.
func (k *KeyedMutex) Lock(key string) {
	k.get(key).Lock()
}

// TryLock acquires the lock for key without blocking. It reports whether
// the lock was acquired.
func (k *KeyedMutex) TryLock(key string) bool {
	return k.get(key).TryLock()
}

// Unlock releases the lock for key.
func (k *KeyedMutex) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
