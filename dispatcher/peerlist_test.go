package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/node"
)

func peerAddr(b byte) address.Address {
	var a address.Address
	a[0] = b
	return a
}

func TestEncodeDecodePeerListRoundTrip(t *testing.T) {
	nodes := []*node.Node{
		node.New(peerAddr(1), node.Link{Host: "127.0.0.1", Port: 4000}),
		node.New(peerAddr(2), node.Link{Host: "peer.example.com", Port: 4242}),
	}

	encoded := encodePeerList(nodes)
	decoded, err := decodePeerList(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, nodes[0].Address, decoded[0].Address)
	assert.Equal(t, nodes[0].Link, decoded[0].Link)
	assert.Equal(t, nodes[1].Address, decoded[1].Address)
	assert.Equal(t, nodes[1].Link, decoded[1].Link)
}

func TestEncodePeerListEmpty(t *testing.T) {
	encoded := encodePeerList(nil)
	decoded, err := decodePeerList(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodePeerListRejectsTruncatedEntry(t *testing.T) {
	nodes := []*node.Node{node.New(peerAddr(1), node.Link{Host: "127.0.0.1", Port: 4000})}
	encoded := encodePeerList(nodes)

	_, err := decodePeerList(encoded[:len(encoded)-1])
	assert.ErrorIs(t, err, errPeerListCorrupt)
}

func TestDecodePeerListRejectsShortHeader(t *testing.T) {
	_, err := decodePeerList(make([]byte, address.Size))
	assert.ErrorIs(t, err, errPeerListCorrupt)
}

func TestEncodePeerListTruncatesOverlongHost(t *testing.T) {
	longHost := make([]byte, 300)
	for i := range longHost {
		longHost[i] = 'a'
	}
	nodes := []*node.Node{node.New(peerAddr(3), node.Link{Host: string(longHost), Port: 1})}

	encoded := encodePeerList(nodes)
	decoded, err := decodePeerList(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Len(t, decoded[0].Link.Host, 255)
}
