// Package topic implements the per-node mapping from topic addresses to
// subscriber lists, the republish/refresh discipline that keeps records
// alive on the owning node, and the user-facing Topic handle (spec.md
// §3 "Record", "Topic (local handle)", §4.4).
package topic

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/address"
)

// Default republish/expiry windows (spec.md §4.4, SPEC_FULL.md AMBIENT
// STACK defaults).
const (
	DefaultRepublishInterval = 15 * time.Minute
	DefaultExpireAfter       = 2 * DefaultRepublishInterval
)

// Registry is the thread-safe map from topic address to Record, guarded
// by its own mutex. It is owned by the dispatcher and mutated both from
// the dispatcher's event loop and from Dispatcher.Subscribe and
// Dispatcher.Unsubscribe on the caller's goroutine (spec.md §5).
type Registry struct {
	mu      sync.Mutex
	records map[address.Address]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[address.Address]*Record)}
}

// CreateOrTouch inserts subscriber into topic's record, creating the
// record if this is the first subscriber seen for that topic, and
// returns the record.
func (reg *Registry) CreateOrTouch(topicAddr, subscriber address.Address) *Record {
	now := time.Now()

	reg.mu.Lock()
	rec, ok := reg.records[topicAddr]
	if !ok {
		rec = newRecord(topicAddr, now)
		reg.records[topicAddr] = rec
	}
	reg.mu.Unlock()

	rec.touch(subscriber, now)
	return rec
}

// Remove drops subscriber from topic's record. If the record becomes
// empty it is dropped from the registry entirely.
func (reg *Registry) Remove(topicAddr, subscriber address.Address) {
	reg.mu.Lock()
	rec, ok := reg.records[topicAddr]
	reg.mu.Unlock()
	if !ok {
		return
	}
	if rec.remove(subscriber) {
		reg.Drop(topicAddr)
	}
}

// Drop removes a topic's record unconditionally.
func (reg *Registry) Drop(topicAddr address.Address) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.records, topicAddr)
}

// Subscribers returns a stable snapshot of a topic's current
// subscribers, or nil if the topic has no record.
func (reg *Registry) Subscribers(topicAddr address.Address) []address.Address {
	reg.mu.Lock()
	rec, ok := reg.records[topicAddr]
	reg.mu.Unlock()
	if !ok {
		return nil
	}
	return rec.Subscribers()
}

// Record returns the record for a topic, or nil if none exists.
func (reg *Registry) Record(topicAddr address.Address) *Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.records[topicAddr]
}

// Owned returns every record for which isLocal reports the topic
// address belongs to this node (spec.md §4.1 "should_be_local" is the
// usual predicate passed here by the dispatcher).
func (reg *Registry) Owned(isLocal func(address.Address) bool) []*Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var owned []*Record
	for topicAddr, rec := range reg.records {
		if isLocal(topicAddr) {
			owned = append(owned, rec)
		}
	}
	return owned
}

// ExpireStale sweeps every record, removing subscribers not refreshed
// within maxAge, and drops records left with no subscribers. Returns
// the number of records dropped.
func (reg *Registry) ExpireStale(maxAge time.Duration) int {
	now := time.Now()
	logger := logrus.WithFields(logrus.Fields{"function": "ExpireStale", "package": "topic"})

	reg.mu.Lock()
	defer reg.mu.Unlock()

	dropped := 0
	for topicAddr, rec := range reg.records {
		if rec.expireStale(maxAge, now) {
			delete(reg.records, topicAddr)
			dropped++
		}
	}
	if dropped > 0 {
		logger.WithFields(logrus.Fields{"dropped": dropped}).Debug("dropped topic records with no remaining subscribers")
	}
	return dropped
}

// Len reports how many topics currently have a record.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.records)
}
