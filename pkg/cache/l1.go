// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"sync"
	"time"
)

// ringEntry is one slot in an L1 ring.
type ringEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// ring is a fixed-capacity in-process buffer for one cache type. New writes
// overwrite the oldest slot once full. Reads skip entries past their TTL.
// Each ring has its own lock so cache types do not contend with each other.
type ring struct {
	mu       sync.Mutex
	slots    []ringEntry
	index    map[string]int
	next     int
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{
		slots:    make([]ringEntry, capacity),
		index:    make(map[string]int, capacity),
		capacity: capacity,
	}
}

func (r *ring) get(key string, now time.Time) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.index[key]
	if !ok {
		return nil, false
	}
	e := r.slots[slot]
	if e.key != key || now.After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (r *ring) set(key string, value []byte, ttl time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Overwrite in place when the key is already resident.
	if slot, ok := r.index[key]; ok && r.slots[slot].key == key {
		r.slots[slot].value = value
		r.slots[slot].expiresAt = now.Add(ttl)
		return
	}

	evicted := r.slots[r.next]
	if evicted.key != "" {
		delete(r.index, evicted.key)
	}
	r.slots[r.next] = ringEntry{key: key, value: value, expiresAt: now.Add(ttl)}
	r.index[key] = r.next
	r.next = (r.next + 1) % r.capacity
}

func (r *ring) delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.index[key]; ok && r.slots[slot].key == key {
		r.slots[slot] = ringEntry{}
		delete(r.index, key)
	}
}

func (r *ring) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		r.slots[i] = ringEntry{}
	}
	r.index = make(map[string]int, r.capacity)
	r.next = 0
}
