// Package limits centralizes size limits for overlay wire bodies.
package limits

import "errors"

const (
	// EncryptionOverhead is the Poly1305 MAC size added by both NaCl box
	// and secretbox, the two sealing schemes the wire codec uses.
	EncryptionOverhead = 16

	// MaxSealedBody is the largest sealed body the wire format's two-byte
	// base-255 length field can express: 255*255 + 254 (spec.md §4.2, §9).
	MaxSealedBody = 255*255 + 254

	// MaxActionPlaintext is the largest plaintext a caller may submit to
	// Action or Broadcast, leaving room for EncryptionOverhead once sealed.
	MaxActionPlaintext = MaxSealedBody - EncryptionOverhead

	// MaxPersistedRecord bounds a single topic database frame read back
	// by the persistence layer, guarding against a truncated or corrupt
	// file being parsed as an implausibly large subscriber list.
	MaxPersistedRecord = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("limits: empty message")

	// ErrMessageTooLarge indicates a message exceeds its maximum size.
	ErrMessageTooLarge = errors.New("limits: message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return ErrMessageTooLarge
	}
	return nil
}

// ValidateActionBody validates a plaintext body submitted to Action or
// Broadcast before it is sealed into a transaction.
func ValidateActionBody(body []byte) error {
	return ValidateMessageSize(body, MaxActionPlaintext)
}

// ValidateSealedBody validates an already-sealed envelope body.
func ValidateSealedBody(body []byte) error {
	if len(body) > MaxSealedBody {
		return ErrMessageTooLarge
	}
	return nil
}

// ValidatePersistedRecord validates a topic database frame read from disk.
func ValidatePersistedRecord(frame []byte) error {
	return ValidateMessageSize(frame, MaxPersistedRecord)
}
