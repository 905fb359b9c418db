package routing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/node"
)

// leaf is one element of the binary routing trie: a contiguous byte range
// over the first byte of XOR distance from the local identity, and either
// a bucket (if this is a leaf) or two children (if it has been split).
//
// Only the leaf whose range starts at 0 (the near leaf, closest to the
// local identity) may ever be split; far leaves are permanently capped.
// A split replaces the parent with an internal node whose near child is
// [lower, mid] and far child is [mid+1, upper] (spec.md §3, resolving the
// ambiguity noted in spec.md §9).
type leaf struct {
	lower, upper byte
	bucket       *Bucket
	near, far    *leaf
}

func newLeaf(lower, upper byte, bucketSize int) *leaf {
	return &leaf{lower: lower, upper: upper, bucket: NewBucket(bucketSize)}
}

func (l *leaf) isLeaf() bool { return l.bucket != nil }

func (l *leaf) isNear() bool { return l.lower == 0 }

func (l *leaf) covers(b byte) bool { return b >= l.lower && b <= l.upper }

// splittable reports whether this leaf may be split: it must be a leaf,
// it must be the near leaf, and its range must still contain more than
// one byte value.
func (l *leaf) splittable() bool {
	return l.isLeaf() && l.isNear() && l.upper > l.lower
}

// split replaces this leaf's bucket with two children and redistributes
// its nodes by recomputing their bucket byte against the local identity.
func (l *leaf) split(bucketSize int, local address.Address) {
	mid := l.lower + (l.upper-l.lower)/2
	near := newLeaf(l.lower, mid, bucketSize)
	far := newLeaf(mid+1, l.upper, bucketSize)

	for _, n := range l.bucket.Nodes() {
		b := address.BucketByte(local, n.Address)
		if near.covers(b) {
			_ = near.bucket.TryAdd(n)
		} else {
			_ = far.bucket.TryAdd(n)
		}
	}

	l.bucket = nil
	l.near = near
	l.far = far
}

// child returns the child leaf covering the given bucket byte, descending
// recursively through splits.
func (l *leaf) child(b byte) *leaf {
	if l.isLeaf() {
		return l
	}
	if l.near.covers(b) {
		return l.near.child(b)
	}
	return l.far.child(b)
}

// collectLeaves appends every leaf under l, in tree order, to out.
func (l *leaf) collectLeaves(out *[]*leaf) {
	if l.isLeaf() {
		*out = append(*out, l)
		return
	}
	l.near.collectLeaves(out)
	l.far.collectLeaves(out)
}

// Table is the routing table rooted at the local identity: a binary trie
// of k-buckets partitioning [0, 256) over the first byte of XOR distance
// (spec.md §3, §4.1).
type Table struct {
	mu         sync.RWMutex
	root       *leaf
	local      address.Address
	bucketSize int
}

// NewTable creates a routing table for the given local identity with the
// given per-bucket capacity.
func NewTable(local address.Address, bucketSize int) *Table {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	return &Table{
		root:       newLeaf(0, 255, bucketSize),
		local:      local,
		bucketSize: bucketSize,
	}
}

// Add places the node in the appropriate bucket, splitting the near leaf
// as needed. It silently discards the local identity and nodes that
// cannot be placed (spec.md §4.1: "the only error surfaced... is Full
// from try_add"; Add never fails).
func (t *Table) Add(n *node.Node) {
	if n.Address == t.local {
		return
	}
	_ = t.TryAdd(n)
}

// TryAdd attempts to place the node, returning ErrFull if the target
// bucket is at capacity with a reachable head and no split is possible.
func (t *Table) TryAdd(n *node.Node) error {
	if n.Address == t.local {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := address.BucketByte(t.local, n.Address)
	target := t.root.child(b)

	err := target.bucket.TryAdd(n)
	for err != nil && target.splittable() {
		logrus.WithFields(logrus.Fields{
			"function": "TryAdd",
			"package":  "routing",
			"range_lo": target.lower,
			"range_hi": target.upper,
		}).Info("near leaf overflowed, splitting bucket")

		target.split(t.bucketSize, t.local)
		target = t.root.child(b)
		err = target.bucket.TryAdd(n)
	}
	return err
}

// GetClosest returns up to count known nodes sorted ascending by XOR
// distance to target, ties broken by more recent LastSeen. The walk
// prefers the leaf whose range covers the target's bucket byte, then
// backfills from the remaining leaves until count nodes are collected or
// the tree is exhausted (spec.md §4.1).
func (t *Table) GetClosest(target address.Address, count int) []*node.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b := address.BucketByte(t.local, target)

	var leaves []*leaf
	t.root.collectLeaves(&leaves)

	home := t.root.child(b)
	ordered := make([]*leaf, 0, len(leaves))
	ordered = append(ordered, home)
	for _, l := range leaves {
		if l != home {
			ordered = append(ordered, l)
		}
	}

	var collected []*node.Node
	for _, l := range ordered {
		collected = append(collected, l.bucket.Nodes()...)
		if len(collected) >= count {
			break
		}
	}

	collected = sortByDistance(collected, target)
	if len(collected) > count {
		collected = collected[:count]
	}
	return collected
}

// ShouldBeLocal reports whether no known node is closer to addr than the
// local Center, meaning this node is responsible for it (spec.md §4.1).
func (t *Table) ShouldBeLocal(addr address.Address) bool {
	closest := t.GetClosest(addr, 1)
	if len(closest) == 0 {
		return true
	}
	localDist := address.Distance(t.local, addr)
	peerDist := address.Distance(closest[0].Address, addr)
	return !address.Less(peerDist, localDist)
}

// Remove deletes the node with the given address from its bucket.
func (t *Table) Remove(addr address.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := address.BucketByte(t.local, addr)
	return t.root.child(b).bucket.Remove(addr)
}

// MarkUnreachable flags the node as unreachable, making it eligible for
// eviction on the next bucket overflow.
func (t *Table) MarkUnreachable(addr address.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := address.BucketByte(t.local, addr)
	t.root.child(b).bucket.MarkUnreachable(addr)
}

// Refresh touches the node with the given address, if known.
func (t *Table) Refresh(addr address.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := address.BucketByte(t.local, addr)
	return t.root.child(b).bucket.Refresh(addr)
}

// AllNodes returns every node currently known across all buckets.
func (t *Table) AllNodes() []*node.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var leaves []*leaf
	t.root.collectLeaves(&leaves)

	var all []*node.Node
	for _, l := range leaves {
		all = append(all, l.bucket.Nodes()...)
	}
	return all
}

// BucketHeads returns the oldest node of every non-empty bucket, used by
// the dispatcher's periodic maintenance tick to decide who to ping
// (spec.md §4.3).
func (t *Table) BucketHeads() []*node.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var leaves []*leaf
	t.root.collectLeaves(&leaves)

	var heads []*node.Node
	for _, l := range leaves {
		if h := l.bucket.Oldest(); h != nil {
			heads = append(heads, h)
		}
	}
	return heads
}

// Sweep removes nodes that have not been seen within maxAge across every
// bucket, returning the number removed (adapted from the teacher's
// RoutingTable.RemoveStaleNodes, dht/routing.go).
func (t *Table) Sweep(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var leaves []*leaf
	t.root.collectLeaves(&leaves)

	removed := 0
	for _, l := range leaves {
		removed += l.bucket.sweepStale(maxAge)
	}
	return removed
}
