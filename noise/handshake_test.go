package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/crypto"
)

func randomKeyPair(t *testing.T, seed byte) ([32]byte, [32]byte) {
	t.Helper()
	var private [32]byte
	for i := range private {
		private[i] = seed + byte(i)
	}
	kp, err := crypto.FromSecretKey(private)
	require.NoError(t, err)
	return kp.Private, kp.Public
}

// TestIKHandshakeEstablishesSharedCipherStates exercises the two-message
// flow transport.SecureDialer.DialKnown drives against a routing-table
// peer whose public key is already known.
func TestIKHandshakeEstablishesSharedCipherStates(t *testing.T) {
	initiatorPrivate, _ := randomKeyPair(t, 1)
	responderPrivate, responderPublic := randomKeyPair(t, 100)

	initiator, err := NewIKHandshake(initiatorPrivate[:], responderPublic[:], Initiator)
	require.NoError(t, err)
	responder, err := NewIKHandshake(responderPrivate[:], nil, Responder)
	require.NoError(t, err)

	msg1, _, err := initiator.WriteMessage(nil, nil)
	require.NoError(t, err)

	msg2, respComplete, err := responder.WriteMessage(nil, msg1)
	require.NoError(t, err)
	require.True(t, respComplete, "IK responder completes after its single reply")

	_, initComplete, err := initiator.ReadMessage(msg2)
	require.NoError(t, err)
	assert.True(t, initComplete)

	initSend, initRecv, err := initiator.GetCipherStates()
	require.NoError(t, err)
	respSend, respRecv, err := responder.GetCipherStates()
	require.NoError(t, err)

	plaintext := []byte("direct message to a known routing-table peer")
	sealed := initSend.Encrypt(nil, nil, plaintext)
	opened, err := respRecv.Decrypt(nil, nil, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	reply := []byte("acknowledged")
	sealedReply := respSend.Encrypt(nil, nil, reply)
	openedReply, err := initRecv.Decrypt(nil, nil, sealedReply)
	require.NoError(t, err)
	assert.Equal(t, reply, openedReply)
}

// TestXXHandshakeRoundTrip exercises the three-message flow
// transport.SecureTCPTransport drives between a dialing initiator and an
// accepting responder that does not yet know the initiator's key.
func TestXXHandshakeRoundTrip(t *testing.T) {
	initiatorPrivate, _ := randomKeyPair(t, 1)
	responderPrivate, _ := randomKeyPair(t, 100)

	initiator, err := NewXXHandshake(initiatorPrivate[:], Initiator)
	require.NoError(t, err)
	responder, err := NewXXHandshake(responderPrivate[:], Responder)
	require.NoError(t, err)

	msg1, complete, err := initiator.WriteMessage(nil, nil)
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = responder.ReadMessage(msg1)
	require.NoError(t, err)
	require.False(t, complete)

	msg2, complete, err := responder.WriteMessage(nil, nil)
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = initiator.ReadMessage(msg2)
	require.NoError(t, err)
	require.False(t, complete)

	msg3, complete, err := initiator.WriteMessage(nil, nil)
	require.NoError(t, err)
	require.True(t, complete)

	_, complete, err = responder.ReadMessage(msg3)
	require.NoError(t, err)
	require.True(t, complete)

	initSend, initRecv, err := initiator.GetCipherStates()
	require.NoError(t, err)
	respSend, respRecv, err := responder.GetCipherStates()
	require.NoError(t, err)

	plaintext := []byte("first frame over the new secured connection")
	sealed := initSend.Encrypt(nil, nil, plaintext)
	opened, err := respRecv.Decrypt(nil, nil, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestXXHandshakeRevealsPeerStaticKeys(t *testing.T) {
	initiatorPrivate, initiatorPublic := randomKeyPair(t, 1)
	responderPrivate, responderPublic := randomKeyPair(t, 100)

	initiator, err := NewXXHandshake(initiatorPrivate[:], Initiator)
	require.NoError(t, err)
	responder, err := NewXXHandshake(responderPrivate[:], Responder)
	require.NoError(t, err)

	msg1, _, err := initiator.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, _, err = responder.ReadMessage(msg1)
	require.NoError(t, err)
	msg2, _, err := responder.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, _, err = initiator.ReadMessage(msg2)
	require.NoError(t, err)
	msg3, _, err := initiator.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, _, err = responder.ReadMessage(msg3)
	require.NoError(t, err)

	gotResponderKey, err := initiator.GetRemoteStaticKey()
	require.NoError(t, err)
	assert.Equal(t, responderPublic[:], gotResponderKey)

	gotInitiatorKey, err := responder.GetRemoteStaticKey()
	require.NoError(t, err)
	assert.Equal(t, initiatorPublic[:], gotInitiatorKey)
}

func TestNewIKHandshakeRejectsMissingPeerKeyForInitiator(t *testing.T) {
	key, _ := randomKeyPair(t, 1)
	_, err := NewIKHandshake(key[:], nil, Initiator)
	assert.Error(t, err)
}

func TestNewHandshakeRejectsShortKey(t *testing.T) {
	_, err := NewXXHandshake([]byte{1, 2, 3}, Initiator)
	assert.Error(t, err)

	_, err = NewIKHandshake([]byte{1, 2, 3}, nil, Responder)
	assert.Error(t, err)
}
