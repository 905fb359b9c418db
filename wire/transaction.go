package wire

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/crypto"
)

// ErrDecryptFailed indicates the envelope's body could not be opened with
// the supplied key material.
var ErrDecryptFailed = errors.New("wire: decryption failed")

// Transaction pairs a wire envelope with its unique identifier and the
// time it was processed locally (spec.md §3). Equality is by UUID.
type Transaction struct {
	ID          uuid.UUID
	ProcessedAt time.Time
	Envelope    *Envelope
}

// Equal reports whether two transactions share the same UUID.
func (t *Transaction) Equal(other *Transaction) bool {
	if other == nil {
		return false
	}
	return t.ID == other.ID
}

// sealedEnvelope builds the common envelope fields shared by every
// sealing path below.
func sealedEnvelope(class Class, source, target, topic address.Address, nonce [24]byte, body []byte) *Envelope {
	return &Envelope{
		Class:  class,
		Source: source,
		Target: target,
		Topic:  topic,
		Nonce:  nonce,
		Body:   body,
	}
}

// newTxID draws a fresh v4 transaction identifier (spec.md §3: "UUIDs are
// v4").
func newTxID() [16]byte {
	id := uuid.New()
	var out [16]byte
	copy(out[:], id[:])
	return out
}

// SealDirect builds a transaction whose body is sealed with an
// authenticated asymmetric box: the sender's secret key and the
// recipient's public key. This is used for true point-to-point classes
// (Ping, Pong, Lookup, Details, Bootstrap, Action) where Target names the
// actual final recipient (spec.md §4.2).
func SealDirect(class Class, source address.Address, sourceSecret [32]byte, target address.Address, targetPublic [32]byte, plaintext []byte) (*Transaction, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "SealDirect", "package": "wire", "class": class.String()})

	nonce, body, err := sealBody(plaintext, func(n crypto.Nonce) ([]byte, error) {
		return crypto.Encrypt(plaintext, n, targetPublic, sourceSecret)
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("failed to seal direct envelope")
		return nil, err
	}

	env := sealedEnvelope(class, source, target, address.Address{}, nonce, body)
	env.TxID = newTxID()

	return &Transaction{ID: uuid.Must(uuid.FromBytes(env.TxID[:])), ProcessedAt: time.Now(), Envelope: env}, nil
}

// OpenDirect opens a transaction sealed with SealDirect: the recipient's
// secret key and the sender's public key (the reciprocal of the box used
// to seal it).
func OpenDirect(env *Envelope, recipientSecret [32]byte, senderPublic [32]byte) ([]byte, error) {
	if len(env.Body) == 0 {
		return nil, nil
	}
	plaintext, err := crypto.Decrypt(env.Body, crypto.Nonce(env.Nonce), senderPublic, recipientSecret)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// SealTopic builds a transaction whose body is sealed with a symmetric
// box keyed on a topic-derived secret. This is used for classes that are
// relayed unchanged across multiple hops toward a topic's owner, or
// fanned out to many subscribers at once (Subscribe, Unsubscribe,
// Broadcast): no single real recipient public key is known at seal time,
// but every legitimate participant can derive the same topic key
// (spec.md §4.2, resolved per DESIGN.md).
func SealTopic(class Class, source address.Address, topic address.Address, topicKey [32]byte, plaintext []byte) (*Transaction, error) {
	nonce, body, err := sealBody(plaintext, func(n crypto.Nonce) ([]byte, error) {
		return crypto.EncryptSymmetric(plaintext, n, topicKey)
	})
	if err != nil {
		return nil, err
	}

	env := sealedEnvelope(class, source, address.Address{}, topic, nonce, body)
	env.TxID = newTxID()

	return &Transaction{ID: uuid.Must(uuid.FromBytes(env.TxID[:])), ProcessedAt: time.Now(), Envelope: env}, nil
}

// OpenTopic opens a transaction sealed with SealTopic using the shared
// topic key.
func OpenTopic(env *Envelope, topicKey [32]byte) ([]byte, error) {
	if len(env.Body) == 0 {
		return nil, nil
	}
	plaintext, err := crypto.DecryptSymmetric(env.Body, crypto.Nonce(env.Nonce), topicKey)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// sealBody generates a fresh nonce and, for non-empty plaintext, invokes
// seal to produce ciphertext. Empty plaintext bypasses encryption
// entirely so the resulting envelope has a (0, 0) length field, matching
// spec.md §4.2's treatment of empty control-message bodies.
func sealBody(plaintext []byte, seal func(crypto.Nonce) ([]byte, error)) ([24]byte, []byte, error) {
	var nonceArr [24]byte
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nonceArr, nil, err
	}
	nonceArr = [24]byte(nonce)

	if len(plaintext) == 0 {
		return nonceArr, nil, nil
	}

	body, err := seal(nonce)
	if err != nil {
		return nonceArr, nil, err
	}
	return nonceArr, body, nil
}
