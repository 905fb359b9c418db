// Package routing implements the Kademlia-style routing table: a binary
// trie of k-buckets partitioning XOR distance space from the local
// identity, with bucket-splitting rules biased toward resolution near the
// local node (spec.md §4.1).
package routing

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/node"
)

// ErrFull is returned by TryAdd when the target bucket is at capacity and
// its oldest occupant is reachable (spec.md §4.1, §7).
var ErrFull = errors.New("routing: bucket full")

// DefaultBucketSize is the default k-bucket capacity (spec.md §6).
const DefaultBucketSize = 20

// Bucket is a fixed-capacity ordered list of Nodes: a Kademlia k-bucket.
// Nodes are kept oldest-first; insertion and refresh rules implement the
// Kademlia replacement strategy (spec.md §3, §4.1).
type Bucket struct {
	mu      sync.Mutex
	nodes   []*node.Node
	maxSize int
}

// NewBucket creates an empty bucket with the given capacity.
func NewBucket(maxSize int) *Bucket {
	return &Bucket{nodes: make([]*node.Node, 0, maxSize), maxSize: maxSize}
}

// TryAdd implements the bucket insertion rules of spec.md §4.1:
//  1. If the node is already present, refresh and move it to the tail.
//  2. Else if there is room, append.
//  3. Else if the oldest occupant is unreachable, replace it.
//  4. Else fail with ErrFull.
func (b *Bucket) TryAdd(n *node.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.nodes {
		if existing.Equal(n) {
			existing.Touch()
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append(b.nodes, existing)
			return nil
		}
	}

	if len(b.nodes) < b.maxSize {
		b.nodes = append(b.nodes, n)
		return nil
	}

	if !b.nodes[0].Reachable() {
		b.nodes = b.nodes[1:]
		b.nodes = append(b.nodes, n)
		return nil
	}

	return ErrFull
}

// Remove deletes the node with the given address, if present.
func (b *Bucket) Remove(addr address.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range b.nodes {
		if n.Address == addr {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// MarkUnreachable flags the node with the given address as unreachable,
// making it eligible for replacement on the next overflowing TryAdd.
func (b *Bucket) MarkUnreachable(addr address.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range b.nodes {
		if n.Address == addr {
			n.MarkUnreachable()
			return
		}
	}
}

// Refresh touches the node with the given address and moves it to the
// tail (most-recently-seen position), if present.
func (b *Bucket) Refresh(addr address.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range b.nodes {
		if n.Address == addr {
			n.Touch()
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.nodes = append(b.nodes, n)
			return true
		}
	}
	return false
}

// Nodes returns a stable, oldest-first snapshot of the bucket's contents.
func (b *Bucket) Nodes() []*node.Node {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*node.Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// Len returns the number of nodes currently stored.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

// Full reports whether the bucket is at capacity.
func (b *Bucket) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes) >= b.maxSize
}

// Oldest returns the least-recently-seen node, or nil if the bucket is
// empty. Used by maintenance ticks to decide which heads to ping
// (spec.md §4.3).
func (b *Bucket) Oldest() *node.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.nodes) == 0 {
		return nil
	}
	return b.nodes[0]
}

// sweepStale removes nodes whose LastSeen exceeds maxAge and returns how
// many were removed, adapted from the teacher's
// RoutingTable.RemoveStaleNodes (dht/routing.go).
func (b *Bucket) sweepStale(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	kept := b.nodes[:0:0]
	removed := 0
	for _, n := range b.nodes {
		if now.Sub(n.LastSeen) > maxAge {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	b.nodes = kept
	return removed
}

// sortByDistance returns the bucket's nodes sorted ascending by XOR
// distance to target, ties broken by more recent LastSeen.
func sortByDistance(nodes []*node.Node, target address.Address) []*node.Node {
	sort.SliceStable(nodes, func(i, j int) bool {
		di := address.Distance(nodes[i].Address, target)
		dj := address.Distance(nodes[j].Address, target)
		if di == dj {
			return nodes[i].LastSeen.After(nodes[j].LastSeen)
		}
		return address.Less(di, dj)
	})

	return nodes
}
