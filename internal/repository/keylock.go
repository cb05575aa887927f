package repository

import (
	"hash/fnv"
	"sync"
)

// stripedLock serializes operations on a single memory id using a fixed
// array of mutexes hashed by id, rather than a map-per-id that would
// otherwise grow without bound.
type stripedLock struct {
	stripes [256]sync.Mutex
}

func newStripedLock() *stripedLock {
	return &stripedLock{}
}

func (s *stripedLock) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	m.Lock()
	return m.Unlock
}
