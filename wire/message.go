// Package wire implements the bit-exact binary message format, the
// encrypted message envelope, and the transaction engine of the overlay
// (spec.md §4.2): classification of traffic into DHT maintenance, lookup,
// subscribe/unsubscribe, ping, and user broadcast actions, and the
// duplicate-suppression-friendly transaction wrapper around each one.
package wire

import (
	"errors"

	"github.com/opd-ai/dhtpubsub/address"
)

// Class is the one-byte tag discriminating wire message kinds (spec.md
// §4.2). The set is closed; any other byte value is rejected as invalid.
type Class byte

const (
	ClassPing Class = iota
	ClassPong
	ClassLookup
	ClassDetails
	ClassSubscribe
	ClassUnsubscribe
	ClassBroadcast
	ClassAction
	ClassBootstrap
)

// Valid reports whether c is one of the closed set of known classes.
func (c Class) Valid() bool {
	return c <= ClassBootstrap
}

func (c Class) String() string {
	switch c {
	case ClassPing:
		return "Ping"
	case ClassPong:
		return "Pong"
	case ClassLookup:
		return "Lookup"
	case ClassDetails:
		return "Details"
	case ClassSubscribe:
		return "Subscribe"
	case ClassUnsubscribe:
		return "Unsubscribe"
	case ClassBroadcast:
		return "Broadcast"
	case ClassAction:
		return "Action"
	case ClassBootstrap:
		return "Bootstrap"
	default:
		return "Unknown"
	}
}

// Field widths and offsets for the fixed-layout wire format (spec.md
// §4.2). Offsets are expressed as running totals so the codec reads as a
// direct transcription of the spec's byte ranges.
const (
	offsetClass   = 0
	offsetSource  = offsetClass + 1
	offsetTarget  = offsetSource + address.Size
	offsetTopic   = offsetTarget + address.Size
	offsetTxID    = offsetTopic + address.Size
	sizeTxID      = 16
	offsetNonce   = offsetTxID + sizeTxID
	sizeNonce     = 24
	offsetLen     = offsetNonce + sizeNonce
	sizeLen       = 2
	offsetBody    = offsetLen + sizeLen
	HeaderSize    = offsetBody
	maxBodyLength = 255*255 + 254
)

// ErrInvalid indicates a malformed wire message: too short, a declared
// body length that does not match the trailing bytes, or an unknown
// class tag (spec.md §4.2, §7).
var ErrInvalid = errors.New("wire: invalid message")

// Envelope is the on-wire form of a message: an encrypted body plus the
// routing metadata needed to classify and forward it without decrypting
// it (spec.md §3).
type Envelope struct {
	Class  Class
	Source address.Address
	Target address.Address
	Topic  address.Address
	TxID   [16]byte
	Nonce  [24]byte
	Body   []byte // ciphertext; empty allowed for control messages
}

// Serialize emits the envelope using the fixed-offset layout of spec.md
// §4.2. Two-byte lengths use base-255 encoding (high*255 + low), not
// base-256, to mirror the protocol this format was distilled from
// (spec.md §9).
func (e *Envelope) Serialize() ([]byte, error) {
	if !e.Class.Valid() {
		return nil, ErrInvalid
	}
	if len(e.Body) > maxBodyLength {
		return nil, ErrInvalid
	}

	high, low := encodeLen(len(e.Body))

	buf := make([]byte, HeaderSize+len(e.Body))
	buf[offsetClass] = byte(e.Class)
	copy(buf[offsetSource:], e.Source[:])
	copy(buf[offsetTarget:], e.Target[:])
	copy(buf[offsetTopic:], e.Topic[:])
	copy(buf[offsetTxID:], e.TxID[:])
	copy(buf[offsetNonce:], e.Nonce[:])
	buf[offsetLen] = high
	buf[offsetLen+1] = low
	copy(buf[offsetBody:], e.Body)

	return buf, nil
}

// Parse decodes a wire message into an Envelope. Parsing fails with
// ErrInvalid if the buffer is shorter than HeaderSize, if the declared
// body length does not equal the number of trailing bytes, or if the
// class tag is unknown (spec.md §4.2).
func Parse(data []byte) (*Envelope, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalid
	}

	class := Class(data[offsetClass])
	if !class.Valid() {
		return nil, ErrInvalid
	}

	declared := decodeLen(data[offsetLen], data[offsetLen+1])
	if len(data)-HeaderSize != declared {
		return nil, ErrInvalid
	}

	e := &Envelope{Class: class}
	copy(e.Source[:], data[offsetSource:offsetTarget])
	copy(e.Target[:], data[offsetTarget:offsetTopic])
	copy(e.Topic[:], data[offsetTopic:offsetTxID])
	copy(e.TxID[:], data[offsetTxID:offsetNonce])
	copy(e.Nonce[:], data[offsetNonce:offsetLen])

	if declared > 0 {
		e.Body = make([]byte, declared)
		copy(e.Body, data[offsetBody:])
	}

	return e, nil
}

// encodeLen splits a body length into the (high, low) base-255 pair used
// on the wire. Callers must ensure n does not exceed maxBodyLength.
func encodeLen(n int) (byte, byte) {
	return EncodeLen(n)
}

// decodeLen reassembles a body length from its (high, low) base-255 pair.
func decodeLen(high, low byte) int {
	return DecodeLen(high, low)
}

// EncodeLen splits a non-negative length into the (high, low) base-255
// pair used throughout the overlay's on-wire and on-disk formats
// (spec.md §4.2, §9, §6 "Persisted state": every length-prefixed field
// shares this codec).
func EncodeLen(n int) (byte, byte) {
	return byte(n / 255), byte(n % 255)
}

// DecodeLen reassembles a length from its (high, low) base-255 pair.
func DecodeLen(high, low byte) int {
	return int(high)*255 + int(low)
}

// PeekBodyLength decodes the declared body length from a full
// HeaderSize-byte header. Streaming transports that cannot rely on a
// single read returning one whole message use this to know how many
// more bytes to read before the frame is complete (spec.md §6 "Wire
// framing").
func PeekBodyLength(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrInvalid
	}
	if !Class(header[offsetClass]).Valid() {
		return 0, ErrInvalid
	}
	return decodeLen(header[offsetLen], header[offsetLen+1]), nil
}
