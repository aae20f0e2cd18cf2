package identity

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherglass/cipherglass/ccc/db"
	"github.com/cipherglass/cipherglass/encryption"
)

type identityTestEnv struct {
	conn    *sql.DB
	service Service
	grants  GrantService
	vault   encryption.CryptoProvider
}

func newIdentityTestEnv(t *testing.T) *identityTestEnv {
	t.Helper()

	conn, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	publicKeys, err := NewSQLitePublicKeyRepository(conn)
	require.NoError(t, err)
	privateKeys, err := NewSQLitePrivateKeyRepository(conn)
	require.NoError(t, err)
	grantRepo, err := NewSQLiteGrantRepository(conn)
	require.NoError(t, err)

	vault, err := encryption.NewVaultProvider([]byte("vault secret"))
	require.NoError(t, err)

	service := NewService(nil, publicKeys, privateKeys)
	return &identityTestEnv{
		conn:    conn,
		service: service,
		grants:  NewGrantService(nil, grantRepo, service),
		vault:   vault,
	}
}

func TestEnsureKeyPair_Idempotent(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	first, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)
	assert.Equal(t, "alice", first.UserID)
	assert.Len(t, first.PublicKey, 32)
	assert.Len(t, first.SecretKey, 32)

	// A second call must load the stored pair, not mint a new identity.
	second, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.SecretKey, second.SecretKey)
}

func TestEnsureKeyPair_RegeneratesWhenVaultChanges(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	first, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)

	otherVault, err := encryption.NewVaultProvider([]byte("a different secret"))
	require.NoError(t, err)

	// The stored private half no longer decrypts, so a fresh pair is
	// generated and published at the next key version.
	second, err := env.service.EnsureKeyPair(ctx, "alice", otherVault)
	require.NoError(t, err)
	assert.NotEqual(t, first.SecretKey, second.SecretKey)

	peer, err := env.service.LoadPeerPublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second.PublicKey, peer, "the published key must follow the regenerated pair")
}

func TestLoadPeerPublicKey_Unknown(t *testing.T) {
	env := newIdentityTestEnv(t)

	_, err := env.service.LoadPeerPublicKey(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, IsPublicKeyNotFoundError(err))
}

func TestGrantFlow(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	alice, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)
	bob, err := env.service.EnsureKeyPair(ctx, "bob", env.vault)
	require.NoError(t, err)

	// Creating the entity key self-grants it to the owner.
	dataKey, err := env.grants.CreateEntityKey(ctx, "room-1", alice)
	require.NoError(t, err)

	ownKey, err := env.grants.UnwrapGrant(ctx, "room-1", alice)
	require.NoError(t, err)
	assert.Equal(t, dataKey, ownKey)

	// Alice grants Bob, and Bob recovers the same data key.
	_, err = env.grants.GrantKey(ctx, "room-1", dataKey, alice, "bob")
	require.NoError(t, err)

	bobKey, err := env.grants.UnwrapGrant(ctx, "room-1", bob)
	require.NoError(t, err)
	assert.Equal(t, dataKey, bobKey)
}

func TestGrantKey_ReplacesPreviousGrant(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	alice, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)
	bob, err := env.service.EnsureKeyPair(ctx, "bob", env.vault)
	require.NoError(t, err)

	oldKey, err := env.grants.CreateEntityKey(ctx, "room-1", alice)
	require.NoError(t, err)
	_, err = env.grants.GrantKey(ctx, "room-1", oldKey, alice, "bob")
	require.NoError(t, err)

	// Re-issuing the entity key overwrites Bob's grant in place.
	newKey, err := encryption.GenerateKey()
	require.NoError(t, err)
	_, err = env.grants.GrantKey(ctx, "room-1", newKey, alice, "bob")
	require.NoError(t, err)

	got, err := env.grants.UnwrapGrant(ctx, "room-1", bob)
	require.NoError(t, err)
	assert.Equal(t, newKey, got)
}

func TestUnwrapGrant_NoGrant(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	bob, err := env.service.EnsureKeyPair(ctx, "bob", env.vault)
	require.NoError(t, err)

	_, err = env.grants.UnwrapGrant(ctx, "room-1", bob)
	require.Error(t, err)
	assert.True(t, IsGrantNotFoundError(err))
}

func TestGrantKey_UnknownGrantee(t *testing.T) {
	env := newIdentityTestEnv(t)
	ctx := context.Background()

	alice, err := env.service.EnsureKeyPair(ctx, "alice", env.vault)
	require.NoError(t, err)
	dataKey, err := env.grants.CreateEntityKey(ctx, "room-1", alice)
	require.NoError(t, err)

	// The grantee has never published a public key.
	_, err = env.grants.GrantKey(ctx, "room-1", dataKey, alice, "carol")
	require.Error(t, err)
	assert.True(t, IsPublicKeyNotFoundError(err))
}
