package topic

import (
	"sync"
	"time"

	"github.com/opd-ai/dhtpubsub/address"
)

// Record is the metadata a node holds for a topic it is responsible for
// or participating in: the set of subscriber addresses and the last
// time each was refreshed (spec.md §3 "Record").
type Record struct {
	mu          sync.Mutex
	address     address.Address
	subscribers map[address.Address]time.Time
	createdAt   time.Time
}

func newRecord(topicAddr address.Address, now time.Time) *Record {
	return &Record{
		address:     topicAddr,
		subscribers: make(map[address.Address]time.Time),
		createdAt:   now,
	}
}

// Address returns the topic address this record describes.
func (r *Record) Address() address.Address {
	return r.address
}

// touch inserts or refreshes a subscriber's last-seen time.
func (r *Record) touch(subscriber address.Address, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[subscriber] = now
}

// remove drops a subscriber. Returns true if the record is now empty.
func (r *Record) remove(subscriber address.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, subscriber)
	return len(r.subscribers) == 0
}

// Subscribers returns a stable snapshot of currently known subscribers.
func (r *Record) Subscribers() []address.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]address.Address, 0, len(r.subscribers))
	for addr := range r.subscribers {
		out = append(out, addr)
	}
	return out
}

// expireStale removes subscribers not refreshed within maxAge of now.
// Returns true if the record is now empty.
func (r *Record) expireStale(maxAge time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, last := range r.subscribers {
		if now.Sub(last) > maxAge {
			delete(r.subscribers, addr)
		}
	}
	return len(r.subscribers) == 0
}

// empty reports whether the record currently has no subscribers.
func (r *Record) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers) == 0
}
