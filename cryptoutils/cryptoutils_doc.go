// Package cryptoutils provides the cryptographic primitives of the session
// broker.
//
// # Request Signing
//
// Signer signs a peer identifier with a secp256k1 key. Signatures use the
// Ethereum [R || S || V] format over keccak256 of the message, so the
// controller recovers the signer address with RecoverAddress and compares it
// against its peer registry with VerifySignature.
//
// # Cache Sealing
//
// Cached credentials can be sealed at rest. DeriveCacheKey stretches a
// configured passphrase with Argon2id, salted per cache location, and
// Seal/Open encrypt records with AES-GCM:
//
//	[nonce (12 bytes)][ciphertext with GCM tag]
package cryptoutils
