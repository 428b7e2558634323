package keylock

import "sync"

// KeyLock hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type KeyLock struct {
	lock  sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyLock {
	return &KeyLock{
		locks: make(map[string]*entry),
	}
}

// Lock blocks until key is free and returns the function that releases it.
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.lock.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.lock.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.lock.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}

// Size returns the number of keys currently held or waited on.
func (k *KeyLock) Size() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return len(k.locks)
}
