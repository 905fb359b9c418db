package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/node"
)

func addrWithFirstByte(b byte) address.Address {
	var a address.Address
	a[0] = b
	return a
}

// TestTrieSplit implements spec.md §8 scenario 1: bucket size 2, local
// identity all zeros, nodes at first-byte XOR distances {1, 2, 200, 201}.
func TestTrieSplit(t *testing.T) {
	var local address.Address
	table := NewTable(local, 2)

	distances := []byte{1, 2, 200, 201}
	for _, d := range distances {
		table.Add(node.New(addrWithFirstByte(d), node.Link{}))
	}

	near := table.root.child(1)
	far := table.root.child(200)

	require.True(t, near.isLeaf())
	require.True(t, far.isLeaf())
	assert.NotEqual(t, near, far, "near and far leaves must have split apart")

	nearBytes := map[byte]bool{}
	for _, n := range near.bucket.Nodes() {
		nearBytes[n.Address[0]] = true
	}
	assert.Equal(t, map[byte]bool{1: true, 2: true}, nearBytes)

	farBytes := map[byte]bool{}
	for _, n := range far.bucket.Nodes() {
		farBytes[n.Address[0]] = true
	}
	assert.Equal(t, map[byte]bool{200: true, 201: true}, farBytes)

	closest := table.GetClosest(local, 4)
	require.Len(t, closest, 4)
	got := make([]byte, 4)
	for i, n := range closest {
		got[i] = n.Address[0]
	}
	assert.Equal(t, []byte{1, 2, 200, 201}, got)
}

func TestOnlyNearLeafSplits(t *testing.T) {
	var local address.Address
	table := NewTable(local, 1)

	// First overflow splits the root (always "near"): byte 1 stays, byte
	// 200 forces the split and lands in the resulting far leaf.
	table.Add(node.New(addrWithFirstByte(1), node.Link{}))
	table.Add(node.New(addrWithFirstByte(200), node.Link{}))

	far := table.root.child(200)
	require.True(t, far.isLeaf())
	require.False(t, far.isNear())

	// A second far-side overflow must be rejected, never split.
	err := table.TryAdd(node.New(addrWithFirstByte(201), node.Link{}))
	assert.ErrorIs(t, err, ErrFull)
	assert.True(t, far.isLeaf())
	assert.False(t, far.splittable())
}

// TestBucketEviction implements spec.md §8 scenario 2.
func TestBucketEviction(t *testing.T) {
	b := NewBucket(1)
	head := node.New(address.Address{1}, node.Link{})
	require.NoError(t, b.TryAdd(head))

	other := node.New(address.Address{2}, node.Link{})
	err := b.TryAdd(other)
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, head, b.Nodes()[0])

	head.MarkUnreachable()
	require.NoError(t, b.TryAdd(other))
	assert.Equal(t, other, b.Nodes()[0])
}

func TestShouldBeLocal(t *testing.T) {
	var local address.Address
	table := NewTable(local, 20)

	target := addrWithFirstByte(10) // 00001010
	assert.True(t, table.ShouldBeLocal(target), "no known peers: local is responsible")

	closer := addrWithFirstByte(8) // 00001000; XOR(8,10)=2 < XOR(0,10)=10
	table.Add(node.New(closer, node.Link{}))
	assert.False(t, table.ShouldBeLocal(target))
}

func TestRemoveRefreshMarkUnreachable(t *testing.T) {
	var local address.Address
	table := NewTable(local, 20)
	addr := addrWithFirstByte(9)
	table.Add(node.New(addr, node.Link{}))

	assert.True(t, table.Refresh(addr))
	table.MarkUnreachable(addr)
	assert.True(t, table.Remove(addr))
	assert.False(t, table.Remove(addr))
}

func TestSweepRemovesStaleNodes(t *testing.T) {
	var local address.Address
	table := NewTable(local, 20)
	n := node.New(addrWithFirstByte(9), node.Link{})
	n.LastSeen = time.Now().Add(-time.Hour)
	table.root.child(9).bucket.TryAdd(n)

	removed := table.Sweep(time.Minute)
	assert.Equal(t, 1, removed)
	assert.Empty(t, table.AllNodes())
}

func TestBucketHeadsReturnsOldestPerBucket(t *testing.T) {
	var local address.Address
	table := NewTable(local, 20)
	table.Add(node.New(addrWithFirstByte(9), node.Link{}))

	heads := table.BucketHeads()
	require.Len(t, heads, 1)
	assert.Equal(t, byte(9), heads[0].Address[0])
}
