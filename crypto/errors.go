package crypto

import "errors"

var (
	// ErrMalformedKey indicates a public key or session key that does not
	// parse as a well-formed key of the expected width.
	ErrMalformedKey = errors.New("crypto: malformed key")

	// ErrUnknownPeer indicates an operation addressed to a peer whose
	// public key has not been registered.
	ErrUnknownPeer = errors.New("crypto: unknown peer")

	// ErrDecryptionFailed indicates a ciphertext that failed authentication
	// or was produced under a different key. Plaintext is never returned on
	// this path.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)
