// Package address implements the 32-byte node and topic identifiers used
// throughout the overlay: Kademlia-style identities derived either from a
// public key or from a cryptographic hash of arbitrary content, together
// with the XOR distance metric used for routing and closeness queries.
package address

import (
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of an Address.
const Size = 32

// ErrInvalidLength indicates a byte slice of the wrong size was supplied.
var ErrInvalidLength = errors.New("address: invalid length")

// Address is a 32-byte identifier for a node or a topic.
//
// An Address is either the raw Ed25519/Curve25519 public key of a node, or
// the 256-bit cryptographic hash of arbitrary content (used for topics,
// which have no corresponding keypair). Equality is byte equality.
type Address [Size]byte

// FromPublicKey constructs an Address directly from a public key.
func FromPublicKey(pub [Size]byte) Address {
	return Address(pub)
}

// FromBytes derives an Address by hashing arbitrary input with BLAKE2b-256,
// the 256-bit cryptographic hash specified for content-addressed topics.
func FromBytes(input []byte) (Address, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "FromBytes", "package": "address"})

	sum := blake2b.Sum256(input)
	logger.WithFields(logrus.Fields{
		"input_len": len(input),
		"operation": "blake2b_sum256",
	}).Debug("derived address from content hash")

	return Address(sum), nil
}

// ParseHex parses the 64-character hex representation of an Address.
func ParseHex(s string) (Address, error) {
	var a Address
	data, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(data) != Size {
		return a, ErrInvalidLength
	}
	copy(a[:], data)
	return a, nil
}

// String returns the hex representation of the Address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the Address is the all-zero value, used by the
// wire codec to mark a topic field absent (spec.md §3, "32 bytes of zero
// when not topic-scoped").
func (a Address) IsZero() bool {
	return a == Address{}
}

// Distance computes the XOR metric between two addresses, interpreted as
// a 256-bit unsigned integer for comparison (spec.md §3).
func Distance(a, b Address) [Size]byte {
	var d [Size]byte
	for i := 0; i < Size; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether distance da is strictly closer than db, comparing
// lexicographically from the most significant byte (equivalent to
// big-endian unsigned integer comparison).
func Less(da, db [Size]byte) bool {
	for i := 0; i < Size; i++ {
		if da[i] != db[i] {
			return da[i] < db[i]
		}
	}
	return false
}

// BucketByte returns the first byte of the XOR distance between a and b,
// which is all that is needed for bucket routing (spec.md §3).
func BucketByte(a, b Address) byte {
	return a[0] ^ b[0]
}
