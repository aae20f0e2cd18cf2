package keywrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherglass/cipherglass/encryption"
)

func TestGenerateKeyPair(t *testing.T) {
	pub, sec, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, pub, 32)
	assert.Len(t, sec, 32)

	derived, err := PublicKeyFor(sec)
	require.NoError(t, err)
	assert.Equal(t, pub, derived, "the public half must be derivable from the secret")

	pub2, _, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, pub, pub2)
}

func TestPublicKeyFor_InvalidSecret(t *testing.T) {
	_, err := PublicKeyFor([]byte("too short"))
	assert.Error(t, err)
}

func TestWrapUnwrap(t *testing.T) {
	alicePub, aliceSec, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, bobSec, err := GenerateKeyPair()
	require.NoError(t, err)

	dataKey, err := encryption.GenerateKey()
	require.NoError(t, err)

	ctx := Context{EntityID: "room-1", SenderID: "alice", RecipientID: "bob"}

	env, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)

	assert.Equal(t, Alg, env.Alg)
	assert.Equal(t, "entity:room-1|from:alice|to:bob", env.AAD)
	assert.Empty(t, env.KdfSaltB64)
	assert.NotEmpty(t, env.NonceB64)
	assert.NotContains(t, env.CipherB64, string(dataKey))

	// ECDH is commutative: the recipient unwraps with their own secret and
	// the sender's public half under the identical context.
	unwrapped, err := Unwrap(env, bobSec, alicePub, ctx)
	require.NoError(t, err)
	assert.Equal(t, dataKey, unwrapped)
}

func TestWrap_FreshNoncePerWrap(t *testing.T) {
	_, aliceSec, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	dataKey, err := encryption.GenerateKey()
	require.NoError(t, err)
	ctx := Context{EntityID: "room-1", SenderID: "alice", RecipientID: "bob"}

	env1, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)
	env2, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)

	assert.NotEqual(t, env1.NonceB64, env2.NonceB64)
	assert.NotEqual(t, env1.CipherB64, env2.CipherB64)
}

func TestUnwrap_ContextMismatch(t *testing.T) {
	alicePub, aliceSec, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, bobSec, err := GenerateKeyPair()
	require.NoError(t, err)

	dataKey, err := encryption.GenerateKey()
	require.NoError(t, err)

	ctx := Context{EntityID: "room-1", SenderID: "alice", RecipientID: "bob"}
	env, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)

	for name, other := range map[string]Context{
		"different entity":    {EntityID: "room-2", SenderID: "alice", RecipientID: "bob"},
		"different sender":    {EntityID: "room-1", SenderID: "mallory", RecipientID: "bob"},
		"different recipient": {EntityID: "room-1", SenderID: "alice", RecipientID: "carol"},
	} {
		_, err := Unwrap(env, bobSec, alicePub, other)
		require.Error(t, err, name)
		assert.True(t, encryption.IsDecryptionError(err), name)
	}
}

func TestUnwrap_WrongRecipient(t *testing.T) {
	alicePub, aliceSec, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, carolSec, err := GenerateKeyPair()
	require.NoError(t, err)

	dataKey, err := encryption.GenerateKey()
	require.NoError(t, err)

	ctx := Context{EntityID: "room-1", SenderID: "alice", RecipientID: "bob"}
	env, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)

	// Carol holds the right context string but not Bob's secret.
	_, err = Unwrap(env, carolSec, alicePub, ctx)
	require.Error(t, err)
	assert.True(t, encryption.IsDecryptionError(err))
}

func TestUnwrap_UnsupportedAlgorithm(t *testing.T) {
	alicePub, aliceSec, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, bobSec, err := GenerateKeyPair()
	require.NoError(t, err)

	dataKey, err := encryption.GenerateKey()
	require.NoError(t, err)

	ctx := Context{EntityID: "room-1", SenderID: "alice", RecipientID: "bob"}
	env, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)

	env.Alg = "aes256gcm/v1"
	_, err = Unwrap(env, bobSec, alicePub, ctx)
	require.Error(t, err)
	assert.True(t, encryption.IsUnsupportedAlgorithmError(err))
}

func TestUnwrap_TamperedCiphertext(t *testing.T) {
	alicePub, aliceSec, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, bobSec, err := GenerateKeyPair()
	require.NoError(t, err)

	dataKey, err := encryption.GenerateKey()
	require.NoError(t, err)

	ctx := Context{EntityID: "room-1", SenderID: "alice", RecipientID: "bob"}
	env, err := Wrap(dataKey, aliceSec, bobPub, ctx)
	require.NoError(t, err)

	env.CipherB64 = "QUFBQQ==" + env.CipherB64[8:]
	_, err = Unwrap(env, bobSec, alicePub, ctx)
	require.Error(t, err)
	assert.True(t, encryption.IsDecryptionError(err))
}
