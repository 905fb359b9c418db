// Package limits centralizes size limits for overlay wire bodies, kept
// separate from the wire codec itself so callers can validate
// user-supplied payloads (Action and Broadcast bodies) before paying the
// cost of sealing an envelope the codec would reject anyway.
//
// # Size hierarchy
//
//   - MaxActionPlaintext: the largest plaintext body a caller may submit
//     to Action or Broadcast, leaving room for the NaCl overhead applied
//     when the transaction is sealed.
//   - MaxSealedBody: the largest sealed body the wire format's two-byte
//     base-255 length field can express (spec.md §4.2, §9).
//   - MaxPersistedRecord: the largest topic database frame the optional
//     persistence layer will read back (spec.md §6 "Persisted state"),
//     guarding against a truncated or corrupted file being read as if it
//     held an implausibly large subscriber list.
//
// EncryptionOverhead matches golang.org/x/crypto/nacl/box.Overhead and
// nacl/secretbox.Overhead, which are equal: both are the Poly1305 MAC
// size, since NaCl box folds its key agreement into the shared secret
// rather than the ciphertext.
package limits
