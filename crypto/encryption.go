package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// Wrapped message format: ephemeral pubkey (65 bytes) || nonce (12 bytes) || ciphertext+tag.
const (
	gcmNonceLen = 12
	gcmTagLen   = 16

	kdfLabel = "pirates-ecies-v1"
)

// EncryptForPeer encrypts a short payload (a session key) to a recipient's
// public key using ECIES: ephemeral ECDH key agreement, HKDF-SHA3-256 key
// derivation, AES-256-GCM with the ephemeral public key as additional data.
func EncryptForPeer(recipient PublicKey, plaintext []byte) ([]byte, error) {
	recipientKey, err := recipient.ecdh()
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeral.ECDH(recipientKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := newGCM(deriveAESKey(sharedSecret))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()
	ciphertext := gcm.Seal(nil, nonce, plaintext, ephemeralPub)

	out := make([]byte, 0, len(ephemeralPub)+len(nonce)+len(ciphertext))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptFromPeer decrypts an ECIES message using this process's private key.
// Corrupt or foreign ciphertext yields ErrDecryptionFailed.
func (kp *KeyPair) DecryptFromPeer(data []byte) ([]byte, error) {
	if len(data) < publicKeyLen+gcmNonceLen+gcmTagLen {
		return nil, fmt.Errorf("%w: wrapped message too short", ErrDecryptionFailed)
	}
	ephemeralPubBytes := data[:publicKeyLen]
	nonce := data[publicKeyLen : publicKeyLen+gcmNonceLen]
	ciphertext := data[publicKeyLen+gcmNonceLen:]

	ephemeralPub, err := ecdh.P256().NewPublicKey(ephemeralPubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key", ErrDecryptionFailed)
	}

	sharedSecret, err := kp.priv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ECDH", ErrDecryptionFailed)
	}

	gcm, err := newGCM(deriveAESKey(sharedSecret))
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, ephemeralPubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// EncryptWithSessionKey encrypts a payload under a session key with
// AES-256-GCM. The additional data binds the ciphertext to its context
// (sender, recipient, round) so a relayed share cannot be replayed elsewhere.
func EncryptWithSessionKey(key SessionKey, plaintext, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, ciphertext...), nil
}

// DecryptWithSessionKey authenticates and decrypts a session-key ciphertext.
// Tampering or a wrong key yields ErrDecryptionFailed, never garbage.
func DecryptWithSessionKey(key SessionKey, data, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize()+gcmTagLen {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func deriveAESKey(sharedSecret []byte) []byte {
	key := make([]byte, SessionKeySize)
	kdf := hkdf.New(sha3.New256, sharedSecret, nil, []byte(kdfLabel))
	if _, err := io.ReadFull(kdf, key); err != nil {
		// HKDF over a fixed-size secret cannot fail to produce 32 bytes.
		panic(err)
	}
	return key
}
