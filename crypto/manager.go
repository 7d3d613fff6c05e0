package crypto

import (
	"fmt"
	"sync"
)

// Manager owns a process's identity keypair and the per-peer key tables:
// registered peer public keys and negotiated symmetric session keys.
//
// Session keys are directional. Each sender creates the key it encrypts with
// for a given recipient and ships it wrapped exactly once; the recipient
// stores the unwrapped copy for decrypting that sender's traffic. Keeping the
// two directions separate means both sides of a pair can create keys in the
// same round without clobbering each other. All keys exist only in memory.
type Manager struct {
	mu       sync.RWMutex
	keypair  *KeyPair
	peerKeys map[string]PublicKey
	sendKeys map[string]SessionKey // created here, for encrypting to the peer
	recvKeys map[string]SessionKey // unwrapped from the peer, for decrypting
}

// NewManager generates the identity keypair and an empty peer table.
func NewManager() (*Manager, error) {
	keypair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Manager{
		keypair:  keypair,
		peerKeys: make(map[string]PublicKey),
		sendKeys: make(map[string]SessionKey),
		recvKeys: make(map[string]SessionKey),
	}, nil
}

// PublicKey returns this process's public key for announcement on join.
func (m *Manager) PublicKey() PublicKey {
	return m.keypair.Public()
}

// RegisterPeerKey validates and records a peer's public key. Registering the
// same peer again is a no-op.
func (m *Manager) RegisterPeerKey(peerID string, keyBytes []byte) error {
	key, err := NewPublicKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("register peer %s: %w", peerID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peerKeys[peerID]; !ok {
		m.peerKeys[peerID] = key
	}
	return nil
}

// PeerKey returns a registered peer's public key.
func (m *Manager) PeerKey(peerID string) (PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.peerKeys[peerID]
	return key, ok
}

// KnownPeers returns the ids of all registered peers.
func (m *Manager) KnownPeers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]string, 0, len(m.peerKeys))
	for id := range m.peerKeys {
		peers = append(peers, id)
	}
	return peers
}

// ForgetPeer drops a peer's public key and any session keys negotiated with it.
func (m *Manager) ForgetPeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peerKeys, peerID)
	delete(m.sendKeys, peerID)
	delete(m.recvKeys, peerID)
}

// EnsureSessionKey returns the outbound session key for a peer, creating a
// fresh one on first use. The second return reports whether the key was just
// created and therefore still needs to be wrapped and shipped to the peer.
func (m *Manager) EnsureSessionKey(peerID string) (SessionKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.sendKeys[peerID]; ok {
		return key, false, nil
	}
	if _, ok := m.peerKeys[peerID]; !ok {
		return nil, false, fmt.Errorf("session key for %s: %w", peerID, ErrUnknownPeer)
	}

	key, err := NewSessionKey()
	if err != nil {
		return nil, false, err
	}
	m.sendKeys[peerID] = key
	return key, true, nil
}

// SessionKeyFor returns the inbound session key a peer shipped for its
// traffic, if any.
func (m *Manager) SessionKeyFor(peerID string) (SessionKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.recvKeys[peerID]
	return key, ok
}

// SetSessionKey records the inbound session key received from a peer. An
// existing key for the peer is kept; each sender wraps its key exactly once.
func (m *Manager) SetSessionKey(peerID string, key SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recvKeys[peerID]; !ok {
		m.recvKeys[peerID] = key
	}
}

// WrapSessionKeyFor asymmetrically encrypts a session key for a registered
// peer. Fails with ErrUnknownPeer if the peer's public key is missing.
func (m *Manager) WrapSessionKeyFor(peerID string, key SessionKey) ([]byte, error) {
	m.mu.RLock()
	peerKey, ok := m.peerKeys[peerID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wrap for %s: %w", peerID, ErrUnknownPeer)
	}
	return EncryptForPeer(peerKey, key)
}

// UnwrapSessionKey decrypts a wrapped session key with this process's
// private key and validates its width.
func (m *Manager) UnwrapSessionKey(wrapped []byte) (SessionKey, error) {
	plaintext, err := m.keypair.DecryptFromPeer(wrapped)
	if err != nil {
		return nil, err
	}
	return SessionKeyFromBytes(plaintext)
}
