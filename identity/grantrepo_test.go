package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherglass/cipherglass/ccc/db"
	"github.com/cipherglass/cipherglass/encryption"
)

func newGrantRepo(t *testing.T) *SQLiteGrantRepository {
	t.Helper()

	conn, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	repo, err := NewSQLiteGrantRepository(conn)
	require.NoError(t, err)
	return repo
}

func testGrant(id, entityID, granteeUserID string) *RoomKeyGrant {
	return &RoomKeyGrant{
		ID:            id,
		EntityID:      entityID,
		GranteeUserID: granteeUserID,
		GrantorUserID: "alice",
		Envelope: &encryption.Envelope{
			Version:   encryption.EnvelopeVersion,
			Alg:       "xchacha20poly1305/x25519-wrap-v1",
			AAD:       "entity:" + entityID + "|from:alice|to:" + granteeUserID,
			NonceB64:  "bm9uY2U=",
			CipherB64: "Y2lwaGVy",
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestGrantRepository_ReplaceAndGet(t *testing.T) {
	repo := newGrantRepo(t)
	ctx := context.Background()

	original := testGrant("g1", "room-1", "bob")
	require.NoError(t, repo.Replace(ctx, original))

	got, err := repo.Get(ctx, "room-1", "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, original.GrantorUserID, got.GrantorUserID)
	assert.Equal(t, *original.Envelope, *got.Envelope)
	assert.True(t, original.CreatedAt.Equal(got.CreatedAt))
}

func TestGrantRepository_Get_Missing(t *testing.T) {
	repo := newGrantRepo(t)

	got, err := repo.Get(context.Background(), "room-1", "bob")
	require.NoError(t, err, "a missing grant is not an error")
	assert.Nil(t, got)
}

func TestGrantRepository_Replace_Overwrites(t *testing.T) {
	repo := newGrantRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, testGrant("g1", "room-1", "bob")))

	replacement := testGrant("g2", "room-1", "bob")
	replacement.Envelope.CipherB64 = "bmV3Y2lwaGVy"
	require.NoError(t, repo.Replace(ctx, replacement))

	got, err := repo.Get(ctx, "room-1", "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "g2", got.ID)
	assert.Equal(t, "bmV3Y2lwaGVy", got.Envelope.CipherB64)

	grants, err := repo.ListForEntity(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1, "replace must not accumulate grants for the same recipient")
}

func TestGrantRepository_ListForEntity(t *testing.T) {
	repo := newGrantRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, testGrant("g1", "room-1", "alice")))
	require.NoError(t, repo.Replace(ctx, testGrant("g2", "room-1", "bob")))
	require.NoError(t, repo.Replace(ctx, testGrant("g3", "room-2", "bob")))

	grants, err := repo.ListForEntity(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, "room-1", g.EntityID)
	}

	empty, err := repo.ListForEntity(ctx, "room-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
