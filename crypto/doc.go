// Package crypto implements the cryptographic primitives the overlay
// relies on: NaCl-based authenticated encryption for message envelopes,
// Curve25519 key derivation for node identities, and memory-safe key
// handling.
//
// # Core Types
//
//   - [KeyPair]: NaCl crypto_box key pair (Curve25519)
//   - [Nonce]: 24-byte random nonce for encryption operations
//
// # Encryption and Decryption
//
// The package supports authenticated public-key encryption (NaCl box),
// used for point-to-point envelopes, and symmetric encryption (NaCl
// secretbox), used for topic-keyed broadcast envelopes:
//
//	nonce, _ := crypto.GenerateNonce()
//	ciphertext, _ := crypto.Encrypt(plaintext, nonce, peerPublicKey, myPrivateKey)
//	plaintext, _ := crypto.Decrypt(ciphertext, nonce, peerPublicKey, myPrivateKey)
//
//	sharedKey, _ := crypto.DeriveSharedSecret(peerPublicKey, myPrivateKey)
//	ciphertext, _ := crypto.EncryptSymmetric(plaintext, nonce, sharedKey)
//
// # Key Generation
//
//	keyPair, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer crypto.WipeKeyPair(keyPair)
//
//	keyPair, err = crypto.FromSecretKey(secretKeyBytes)
//
// # Secure Memory Handling
//
//	defer crypto.SecureWipe(sensitiveData)
//
// [SecureWipe] uses a constant-time XOR that the compiler cannot
// optimize away, ensuring the memory is actually zeroed.
//
// # Thread Safety
//
// The package keeps no shared mutable state. Exported functions touch only
// their arguments (SecureWipe and WipeKeyPair overwrite the memory they
// are given) and, for key and nonce generation, the system random source.
package crypto
