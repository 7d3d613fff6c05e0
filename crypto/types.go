package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
)

const (
	// SessionKeySize is the width of a symmetric session key in bytes.
	SessionKeySize = 32

	// publicKeyLen is the length of an uncompressed P-256 point.
	publicKeyLen = 65
)

// PublicKey is an uncompressed P-256 public key. Construction validates the
// encoding, so a PublicKey in hand is always a point on the curve.
type PublicKey []byte

// NewPublicKeyFromBytes validates and copies an uncompressed P-256 point.
func NewPublicKeyFromBytes(data []byte) (PublicKey, error) {
	if _, err := ecdh.P256().NewPublicKey(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return PublicKey(slices.Clone(data)), nil
}

// NewPublicKeyFromString validates a hex-encoded public key.
func NewPublicKeyFromString(data string) (PublicKey, error) {
	rawBytes, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return NewPublicKeyFromBytes(rawBytes)
}

// Bytes returns the public key as a byte slice.
func (pk PublicKey) Bytes() []byte {
	return pk
}

// String returns the hex encoding, used on the wire and as a map key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// Equal compares two public keys for equality.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

func (pk PublicKey) ecdh() (*ecdh.PublicKey, error) {
	key, err := ecdh.P256().NewPublicKey(pk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return key, nil
}

// KeyPair is a process's long-lived P-256 identity keypair.
type KeyPair struct {
	priv *ecdh.PrivateKey
}

// GenerateKeyPair generates a fresh identity keypair. Failure here means the
// OS entropy source is broken and is fatal to the caller.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// Public returns the serializable public half, announced to peers on join.
func (kp *KeyPair) Public() PublicKey {
	return PublicKey(kp.priv.PublicKey().Bytes())
}

// SessionKey is a 256-bit symmetric key negotiated once per peer pair.
type SessionKey []byte

// NewSessionKey returns a fresh random session key.
func NewSessionKey() (SessionKey, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return SessionKey(key), nil
}

// SessionKeyFromBytes validates the width of unwrapped key material.
func SessionKeyFromBytes(data []byte) (SessionKey, error) {
	if len(data) != SessionKeySize {
		return nil, fmt.Errorf("%w: session key must be %d bytes, got %d",
			ErrMalformedKey, SessionKeySize, len(data))
	}
	return SessionKey(slices.Clone(data)), nil
}

// Bytes returns a copy of the key material.
func (k SessionKey) Bytes() []byte {
	return slices.Clone(k)
}
