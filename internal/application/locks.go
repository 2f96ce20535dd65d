package application

import "sync"

// keyedMutex serializes scheduling operations per vehicle. The resolver
// reads and then mutates the same run rows; interleaved resolutions for one
// vehicle could both create overlapping runs or merge the same pair.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*vehicleLock
}

type vehicleLock struct {
	mu      sync.Mutex
	holders int
}

// lock acquires the mutex for key and returns the release function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*vehicleLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &vehicleLock{}
		k.locks[key] = entry
	}
	entry.holders++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.holders--
		if entry.holders == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
