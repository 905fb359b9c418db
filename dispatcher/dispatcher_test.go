package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/crypto"
	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/routing"
	"github.com/opd-ai/dhtpubsub/topic"
	"github.com/opd-ai/dhtpubsub/transport"
	"github.com/opd-ai/dhtpubsub/txcache"
)

// testNode bundles everything one participant needs to run a Dispatcher
// over a real loopback UDP transport.
type testNode struct {
	center *node.Center
	table  *routing.Table
	tr     *transport.UDPTransport
	disp   *Dispatcher
	cancel context.CancelFunc
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tr := transport.NewUDPTransport()
	require.NoError(t, tr.Start("127.0.0.1", 0))

	link := node.Link{Host: "127.0.0.1", Port: tr.LocalPort()}
	center, err := node.NewCenter(kp.Private, link)
	require.NoError(t, err)

	table := routing.NewTable(center.Address(), routing.DefaultBucketSize)
	cache := txcache.New(txcache.DefaultLimit)
	registry := topic.NewRegistry()

	disp := New(center, table, cache, registry, tr, 3)

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	tn := &testNode{center: center, table: table, tr: tr, disp: disp, cancel: cancel}
	t.Cleanup(func() {
		disp.Shutdown()
		cancel()
		tr.Terminate()
	})
	return tn
}

func (tn *testNode) link() node.Link {
	return node.Link{Host: "127.0.0.1", Port: tn.tr.LocalPort()}
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBootstrapSeedsRoutingTable(t *testing.T) {
	seed := newTestNode(t)
	joiner := newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	joiner.disp.Bootstrap(ctx, seed.link())

	waitFor(t, time.Second, func() bool {
		return joiner.table.ShouldBeLocal(seed.center.Address()) ||
			len(joiner.table.GetClosest(seed.center.Address(), 1)) == 1
	})

	closest := joiner.table.GetClosest(seed.center.Address(), 1)
	require.Len(t, closest, 1)
	assert.Equal(t, seed.center.Address(), closest[0].Address)
}

func TestBootstrapTimesOutAgainstUnreachablePeer(t *testing.T) {
	joiner := newTestNode(t)

	unreachable := node.Link{Host: "127.0.0.1", Port: 1}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	joiner.disp.Bootstrap(ctx, unreachable)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Empty(t, joiner.table.AllNodes())
}

func TestSubscribeBroadcastDeliversAcrossNodes(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	// Seed each side's table with the other directly; avoids depending
	// on bootstrap/lookup propagation for this delivery-path test.
	a.table.Add(node.New(b.center.Address(), b.link()))
	b.table.Add(node.New(a.center.Address(), a.link()))

	topicAddr, err := address.FromBytes([]byte("weather-updates"))
	require.NoError(t, err)

	handleA, err := a.disp.Subscribe(topicAddr)
	require.NoError(t, err)
	defer a.disp.Unsubscribe(handleA)

	handleB, err := b.disp.Subscribe(topicAddr)
	require.NoError(t, err)
	defer b.disp.Unsubscribe(handleB)

	// Let both subscribe announcements land before broadcasting.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, handleA.Broadcast(ctx, []byte("storm warning")))

	delivery, err := handleB.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("storm warning"), delivery.Body)
	assert.Equal(t, a.center.Address(), delivery.Source)

	require.NoError(t, handleB.Broadcast(ctx, []byte("all clear")))

	delivery, err = handleA.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("all clear"), delivery.Body)
	assert.Equal(t, b.center.Address(), delivery.Source)
}

func TestSendActionDeliversToTarget(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.table.Add(node.New(b.center.Address(), b.link()))
	b.table.Add(node.New(a.center.Address(), a.link()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.disp.SendAction(ctx, b.center.Address(), []byte("ping the operator")))

	select {
	case delivery := <-b.disp.Actions():
		assert.Equal(t, []byte("ping the operator"), delivery.Body)
		assert.Equal(t, a.center.Address(), delivery.Source)
	case <-ctx.Done():
		t.Fatal("action never arrived")
	}
}

func TestUnsubscribeStopsLocalDelivery(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.table.Add(node.New(b.center.Address(), b.link()))
	b.table.Add(node.New(a.center.Address(), a.link()))

	topicAddr, err := address.FromBytes([]byte("ephemeral-topic"))
	require.NoError(t, err)

	handleA, err := a.disp.Subscribe(topicAddr)
	require.NoError(t, err)

	handleB, err := b.disp.Subscribe(topicAddr)
	require.NoError(t, err)
	defer b.disp.Unsubscribe(handleB)

	time.Sleep(100 * time.Millisecond)
	a.disp.Unsubscribe(handleA)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, handleB.Broadcast(ctx, []byte("still listening?")))

	_, err = handleA.Recv(ctx)
	assert.Error(t, err, "closed handle must not receive further deliveries")
}
