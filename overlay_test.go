package dhtpubsub

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/config"
	"github.com/opd-ai/dhtpubsub/crypto"
	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/transport"
)

func newOverlay(t *testing.T) *Overlay {
	t.Helper()

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tr := transport.NewUDPTransport()
	require.NoError(t, tr.Start("127.0.0.1", 0))
	t.Cleanup(func() { tr.Terminate() })

	cfg := config.Default()
	cfg.CenterHost = "127.0.0.1"
	cfg.CenterPort = tr.LocalPort()
	cfg.SecretKeyHex = hex.EncodeToString(kp.Private[:])

	o, err := New(cfg, tr)
	require.NoError(t, err)
	return o
}

func (o *Overlay) link() node.Link {
	return o.center.Link()
}

func TestOverlaySubscribeAndBroadcast(t *testing.T) {
	a := newOverlay(t)
	b := newOverlay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)
	defer a.Shutdown()
	defer b.Shutdown()

	a.table.Add(node.New(b.Address(), b.link()))
	b.table.Add(node.New(a.Address(), a.link()))

	topicAddr, err := address.FromBytes([]byte("facade-topic"))
	require.NoError(t, err)

	handleA, err := a.Subscribe(topicAddr)
	require.NoError(t, err)
	defer a.Unsubscribe(handleA)

	handleB, err := b.Subscribe(topicAddr)
	require.NoError(t, err)
	defer b.Unsubscribe(handleB)

	time.Sleep(100 * time.Millisecond)

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	require.NoError(t, handleA.Broadcast(recvCtx, []byte("hello overlay")))

	delivery, err := handleB.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello overlay"), delivery.Body)
}

func TestOverlayBootstrapUnreachableLeavesEmptyTable(t *testing.T) {
	a := newOverlay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	defer a.Shutdown()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Second)
	defer bootCancel()
	a.Bootstrap(bootCtx, node.Link{Host: "127.0.0.1", Port: 1})

	assert.Empty(t, a.table.AllNodes())
}

func TestOverlaySendAction(t *testing.T) {
	a := newOverlay(t)
	b := newOverlay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)
	defer a.Shutdown()
	defer b.Shutdown()

	a.table.Add(node.New(b.Address(), b.link()))
	b.table.Add(node.New(a.Address(), a.link()))

	actionCtx, actionCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer actionCancel()
	require.NoError(t, a.SendAction(actionCtx, b.Address(), []byte("direct message")))

	select {
	case delivery := <-b.Actions():
		assert.Equal(t, []byte("direct message"), delivery.Body)
		assert.Equal(t, a.Address(), delivery.Source)
	case <-actionCtx.Done():
		t.Fatal("action never arrived")
	}
}
