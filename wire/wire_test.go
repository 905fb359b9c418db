package wire

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/crypto"
)

func randomAddress(t *testing.T) address.Address {
	t.Helper()
	var a address.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

// TestWireRoundTrip implements spec.md §8 scenario 6: Serialize then
// Parse is the identity, and the decrypted body matches the original.
func TestWireRoundTrip(t *testing.T) {
	senderKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	recipientKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	source := address.FromPublicKey(senderKP.Public)
	target := address.FromPublicKey(recipientKP.Public)

	body := make([]byte, 255)
	for i := range body {
		body[i] = byte(i)
	}

	tx, err := SealDirect(ClassAction, source, senderKP.Private, target, recipientKP.Public, body)
	require.NoError(t, err)

	wireBytes, err := tx.Envelope.Serialize()
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+len(body), len(wireBytes))

	parsed, err := Parse(wireBytes)
	require.NoError(t, err)
	assert.Equal(t, tx.Envelope.Class, parsed.Class)
	assert.Equal(t, tx.Envelope.Source, parsed.Source)
	assert.Equal(t, tx.Envelope.Target, parsed.Target)

	recovered, err := OpenDirect(parsed, recipientKP.Private, senderKP.Public)
	require.NoError(t, err)
	assert.Equal(t, body, recovered)
}

func TestParseRejectsShortMessages(t *testing.T) {
	_, err := Parse(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsUnknownClass(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[offsetClass] = 200
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	buf := make([]byte, HeaderSize+5)
	buf[offsetLen] = 0
	buf[offsetLen+1] = 10 // declares 10 bytes, only 5 present
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEmptyBodyEncodesZeroLength(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx, err := SealDirect(ClassPing, address.Address{1}, kp.Private, address.Address{2}, kp.Public, nil)
	require.NoError(t, err)

	buf, err := tx.Envelope.Serialize()
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[offsetLen])
	assert.Equal(t, byte(0), buf[offsetLen+1])
	assert.Equal(t, HeaderSize, len(buf))
}

func TestTopicSealOpenRoundTrip(t *testing.T) {
	var topicKey [32]byte
	_, err := rand.Read(topicKey[:])
	require.NoError(t, err)

	topic := randomAddress(t)
	source := randomAddress(t)

	tx, err := SealTopic(ClassBroadcast, source, topic, topicKey, []byte("hello subscribers"))
	require.NoError(t, err)

	recovered, err := OpenTopic(tx.Envelope, topicKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello subscribers"), recovered)

	var wrongKey [32]byte
	_, err = OpenTopic(tx.Envelope, wrongKey)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestTransactionUUIDsAreUnique(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tx1, err := SealDirect(ClassPing, address.Address{1}, kp.Private, address.Address{2}, kp.Public, nil)
	require.NoError(t, err)
	tx2, err := SealDirect(ClassPing, address.Address{1}, kp.Private, address.Address{2}, kp.Public, nil)
	require.NoError(t, err)

	assert.False(t, tx1.Equal(tx2))
}

func TestClassValidAndString(t *testing.T) {
	assert.True(t, ClassBootstrap.Valid())
	assert.False(t, Class(9).Valid())
	assert.Equal(t, "Broadcast", ClassBroadcast.String())
	assert.Equal(t, "Unknown", Class(9).String())
}
