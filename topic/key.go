package topic

import (
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/dhtpubsub/address"
)

// domainTag separates topic-key derivation from other blake2b uses in the
// overlay (address hashing in package address) so the two purposes never
// collide on input bytes.
var domainTag = []byte("dhtpubsub/topic-key/v1")

// DeriveKey computes the symmetric key shared by every subscriber of a
// topic. Anyone who knows the topic address - which a subscriber must,
// to subscribe at all - can derive the same key; topic confidentiality
// is "whoever knows the topic" rather than per-pair secrecy. This lets a
// single wire copy of a Subscribe, Unsubscribe, or Broadcast message be
// relayed unmodified across hops and opened by every legitimate
// recipient (see wire.SealTopic).
func DeriveKey(topicAddr address.Address) [32]byte {
	input := make([]byte, 0, len(domainTag)+address.Size)
	input = append(input, domainTag...)
	input = append(input, topicAddr[:]...)
	return blake2b.Sum256(input)
}
