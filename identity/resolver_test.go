package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/pairs"
)

func bucketRow(bucket string) *pairs.EncryptedRow {
	row := &pairs.EncryptedRow{ID: "m1", UserID: "bob"}
	if bucket != "" {
		row.BucketID = &bucket
	}
	return row
}

func TestRoomKeyResolver(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	alice, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)
	bob, err := env.service.EnsureKeyPair(ctx, "bob", env.vault)
	require.NoError(t, err)

	dataKey, err := env.grants.CreateEntityKey(ctx, "room-1", alice)
	require.NoError(t, err)
	_, err = env.grants.GrantKey(ctx, "room-1", dataKey, alice, "bob")
	require.NoError(t, err)

	resolver := NewRoomKeyResolver(nil, env.grants, bob, nil)

	provider, err := resolver.ResolveCrypto(ctx, bucketRow("room-1"))
	require.NoError(t, err)
	require.NotNil(t, provider)

	// The resolved provider must hold the room's data key: a payload sealed
	// directly under that key decrypts through it.
	direct, err := encryption.NewAESGCMProvider(dataKey)
	require.NoError(t, err)
	envlp, err := direct.Encrypt(ctx, []byte("hello"), "msg-v1")
	require.NoError(t, err)
	plaintext, err := provider.Decrypt(ctx, envlp, "msg-v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)

	// Second resolution comes from the cache and yields the same provider.
	again, err := resolver.ResolveCrypto(ctx, bucketRow("room-1"))
	require.NoError(t, err)
	assert.Same(t, provider, again)

	resolver.Invalidate("room-1")
	fresh, err := resolver.ResolveCrypto(ctx, bucketRow("room-1"))
	require.NoError(t, err)
	assert.NotSame(t, provider, fresh)
}

func TestRoomKeyResolver_NoGrant(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	bob, err := env.service.EnsureKeyPair(ctx, "bob", env.vault)
	require.NoError(t, err)

	resolver := NewRoomKeyResolver(nil, env.grants, bob, nil)

	// A missing grant is no capability, not an error.
	provider, err := resolver.ResolveCrypto(ctx, bucketRow("room-1"))
	require.NoError(t, err)
	assert.Nil(t, provider)
}

func TestRoomKeyResolver_UnscopedRowsUseFallback(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	bob, err := env.service.EnsureKeyPair(ctx, "bob", env.vault)
	require.NoError(t, err)

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	fallback, err := encryption.NewAESGCMProvider(key)
	require.NoError(t, err)

	resolver := NewRoomKeyResolver(nil, env.grants, bob, fallback)

	provider, err := resolver.ResolveCrypto(ctx, bucketRow(""))
	require.NoError(t, err)
	assert.Same(t, fallback, provider)

	// With no fallback configured, unscoped rows have no capability.
	bare := NewRoomKeyResolver(nil, env.grants, bob, nil)
	provider, err = bare.ResolveCrypto(ctx, bucketRow(""))
	require.NoError(t, err)
	assert.Nil(t, provider)
}
