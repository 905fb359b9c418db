package topic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
)

func addr(b byte) address.Address {
	var a address.Address
	a[0] = b
	return a
}

func TestCreateOrTouchAddsSubscriber(t *testing.T) {
	reg := NewRegistry()
	topicAddr := addr(1)
	sub := addr(2)

	reg.CreateOrTouch(topicAddr, sub)

	subs := reg.Subscribers(topicAddr)
	require.Len(t, subs, 1)
	assert.Equal(t, sub, subs[0])
}

func TestRemoveDropsEmptyRecord(t *testing.T) {
	reg := NewRegistry()
	topicAddr := addr(1)
	sub := addr(2)

	reg.CreateOrTouch(topicAddr, sub)
	reg.Remove(topicAddr, sub)

	assert.Nil(t, reg.Subscribers(topicAddr))
	assert.Equal(t, 0, reg.Len())
}

func TestDropRemovesRegardlessOfSubscribers(t *testing.T) {
	reg := NewRegistry()
	topicAddr := addr(1)
	reg.CreateOrTouch(topicAddr, addr(2))
	reg.CreateOrTouch(topicAddr, addr(3))

	reg.Drop(topicAddr)

	assert.Equal(t, 0, reg.Len())
}

func TestOwnedFiltersByPredicate(t *testing.T) {
	reg := NewRegistry()
	local := addr(1)
	remote := addr(2)
	reg.CreateOrTouch(local, addr(9))
	reg.CreateOrTouch(remote, addr(9))

	owned := reg.Owned(func(a address.Address) bool { return a == local })

	require.Len(t, owned, 1)
	assert.Equal(t, local, owned[0].Address())
}

func TestExpireStaleDropsOldSubscribers(t *testing.T) {
	reg := NewRegistry()
	topicAddr := addr(1)
	sub := addr(2)
	rec := reg.CreateOrTouch(topicAddr, sub)

	// Backdate the subscriber's last-seen time directly on the record.
	rec.mu.Lock()
	rec.subscribers[sub] = time.Now().Add(-time.Hour)
	rec.mu.Unlock()

	dropped := reg.ExpireStale(time.Minute)

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, reg.Len())
}

func TestSubscribersSnapshotIsStable(t *testing.T) {
	reg := NewRegistry()
	topicAddr := addr(1)
	reg.CreateOrTouch(topicAddr, addr(2))

	snapshot := reg.Subscribers(topicAddr)
	reg.CreateOrTouch(topicAddr, addr(3))

	assert.Len(t, snapshot, 1, "snapshot must not observe later mutations")
}
