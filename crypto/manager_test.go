package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RegisterPeerKey(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	peer, err := NewManager()
	require.NoError(t, err)

	require.NoError(t, m.RegisterPeerKey("p1", peer.PublicKey().Bytes()))

	got, ok := m.PeerKey("p1")
	require.True(t, ok)
	assert.True(t, got.Equal(peer.PublicKey()))

	// Idempotent per peer.
	require.NoError(t, m.RegisterPeerKey("p1", peer.PublicKey().Bytes()))
	assert.Len(t, m.KnownPeers(), 1)
}

func TestManager_RegisterPeerKey_Malformed(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	err = m.RegisterPeerKey("p1", []byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, ok := m.PeerKey("p1")
	assert.False(t, ok)
}

func TestManager_WrapSessionKey_UnknownPeer(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	key, err := NewSessionKey()
	require.NoError(t, err)

	_, err = m.WrapSessionKeyFor("ghost", key)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	_, _, err = m.EnsureSessionKey("ghost")
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestManager_SessionKeyHandshake(t *testing.T) {
	alice, err := NewManager()
	require.NoError(t, err)
	bob, err := NewManager()
	require.NoError(t, err)

	require.NoError(t, alice.RegisterPeerKey("bob", bob.PublicKey().Bytes()))
	require.NoError(t, bob.RegisterPeerKey("alice", alice.PublicKey().Bytes()))

	key, created, err := alice.EnsureSessionKey("bob")
	require.NoError(t, err)
	assert.True(t, created)

	// A second call reuses the key: one session key per peer pair per
	// process lifetime.
	again, created, err := alice.EnsureSessionKey("bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, key.Bytes(), again.Bytes())

	wrapped, err := alice.WrapSessionKeyFor("bob", key)
	require.NoError(t, err)

	unwrapped, err := bob.UnwrapSessionKey(wrapped)
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), unwrapped.Bytes())

	bob.SetSessionKey("alice", unwrapped)

	// Bulk traffic now flows under the negotiated key in both directions.
	ciphertext, err := EncryptWithSessionKey(key, []byte("round payload"), nil)
	require.NoError(t, err)

	bobKey, ok := bob.SessionKeyFor("alice")
	require.True(t, ok)
	plaintext, err := DecryptWithSessionKey(bobKey, ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("round payload"), plaintext)
}

func TestManager_UnwrapSessionKey_Foreign(t *testing.T) {
	alice, err := NewManager()
	require.NoError(t, err)
	bob, err := NewManager()
	require.NoError(t, err)
	eve, err := NewManager()
	require.NoError(t, err)

	require.NoError(t, alice.RegisterPeerKey("bob", bob.PublicKey().Bytes()))

	key, _, err := alice.EnsureSessionKey("bob")
	require.NoError(t, err)
	wrapped, err := alice.WrapSessionKeyFor("bob", key)
	require.NoError(t, err)

	_, err = eve.UnwrapSessionKey(wrapped)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestManager_ForgetPeer(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)
	peer, err := NewManager()
	require.NoError(t, err)

	require.NoError(t, m.RegisterPeerKey("p1", peer.PublicKey().Bytes()))
	_, _, err = m.EnsureSessionKey("p1")
	require.NoError(t, err)

	m.ForgetPeer("p1")

	_, ok := m.PeerKey("p1")
	assert.False(t, ok)
	_, ok = m.SessionKeyFor("p1")
	assert.False(t, ok)
}

func TestSessionKeyFromBytes_Width(t *testing.T) {
	_, err := SessionKeyFromBytes(make([]byte, 16))
	assert.ErrorIs(t, err, ErrMalformedKey)

	key, err := SessionKeyFromBytes(make([]byte, SessionKeySize))
	require.NoError(t, err)
	assert.Len(t, key.Bytes(), SessionKeySize)
}
