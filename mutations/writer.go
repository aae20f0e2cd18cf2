package mutations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cipherglass/cipherglass/ccc/db"
	"github.com/cipherglass/cipherglass/ccc/logging"
	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/pairs"
)

// Mutation describes one insert or update against a pair's opaque table.
// Exactly one of Object and Plaintext must be set. AAD overrides the
// pair's default associated data when non-empty.
type Mutation struct {
	ID        string
	BucketID  *string
	Object    any
	Plaintext []byte
	AAD       string
}

// Writer performs encrypt-then-write mutations against opaque tables. It
// never touches mirror tables; those belong to the replicator (and to the
// cascade-delete trigger). The owner user id is bound at construction and
// stamped onto every row, so a write for a different owner cannot be
// expressed through this API.
type Writer struct {
	logger   logging.Logger
	conn     *sql.DB
	provider encryption.CryptoProvider
	userID   string
}

// NewWriter creates a mutation writer for the given owner.
func NewWriter(logger logging.Logger, conn *sql.DB, provider encryption.CryptoProvider, userID string) *Writer {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &Writer{
		logger:   logger,
		conn:     conn,
		provider: provider,
		userID:   userID,
	}
}

// resolvePayload resolves the plaintext bytes and aad for a mutation,
// either directly or through the pair's serializer.
func resolvePayload(pair *pairs.Pair, m Mutation) (plaintext []byte, aad string, err error) {
	switch {
	case m.Plaintext != nil:
		plaintext, aad = m.Plaintext, pair.DefaultAAD
	case m.Object != nil:
		plaintext, aad, err = pair.Serialize(m.Object)
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", NewConfigurationError("requires either an object or plaintext bytes")
	}

	if m.AAD != "" {
		aad = m.AAD
	}
	return plaintext, aad, nil
}

// Insert encrypts the mutation's payload and writes a new opaque row with
// created-at equal to updated-at. Encryption failure aborts before any row
// is written.
func (w *Writer) Insert(ctx context.Context, pair *pairs.Pair, m Mutation) error {
	if m.ID == "" {
		return NewConfigurationError("insert requires an id")
	}

	plaintext, aad, err := resolvePayload(pair, m)
	if err != nil {
		return err
	}

	env, err := w.provider.Encrypt(ctx, plaintext, aad)
	if err != nil {
		w.logger.Error("Failed to encrypt payload for insert", "pair", pair.Name, "id", m.ID, "error", err)
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	cols := env.ToRowColumns()
	now := db.TimeToString(time.Now().UTC())

	query := `
	INSERT INTO ` + pair.EncryptedTable + ` (id, user_id, bucket_id, alg, aad, nonce, ciphertext, kdf_salt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = w.conn.ExecContext(ctx, query,
		m.ID, w.userID, m.BucketID,
		cols.Alg, cols.AAD, cols.NonceB64, cols.CipherB64, cols.KdfSaltB64,
		now, now,
	)
	if err != nil {
		w.logger.Error("Failed to insert encrypted row", "pair", pair.Name, "id", m.ID, "error", err)
		return fmt.Errorf("failed to insert encrypted row: %w", err)
	}

	return nil
}

// Update re-encrypts the full payload and replaces all envelope columns
// plus updated-at. The row id and bucket id are immutable through this API;
// there are no partial field updates.
func (w *Writer) Update(ctx context.Context, pair *pairs.Pair, m Mutation) error {
	if m.ID == "" {
		return NewConfigurationError("update requires an id")
	}

	plaintext, aad, err := resolvePayload(pair, m)
	if err != nil {
		return err
	}

	env, err := w.provider.Encrypt(ctx, plaintext, aad)
	if err != nil {
		w.logger.Error("Failed to encrypt payload for update", "pair", pair.Name, "id", m.ID, "error", err)
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	cols := env.ToRowColumns()
	now := db.TimeToString(time.Now().UTC())

	query := `
	UPDATE ` + pair.EncryptedTable + `
	SET alg = ?, aad = ?, nonce = ?, ciphertext = ?, kdf_salt = ?, updated_at = ?
	WHERE id = ? AND user_id = ?`

	result, err := w.conn.ExecContext(ctx, query,
		cols.Alg, cols.AAD, cols.NonceB64, cols.CipherB64, cols.KdfSaltB64, now,
		m.ID, w.userID,
	)
	if err != nil {
		w.logger.Error("Failed to update encrypted row", "pair", pair.Name, "id", m.ID, "error", err)
		return fmt.Errorf("failed to update encrypted row: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return NewRowNotFoundError(pair.EncryptedTable, m.ID)
	}

	return nil
}

// Delete removes the opaque row. The mirror row goes with it via the
// cascade-delete trigger, so the mirror never outlives its source.
func (w *Writer) Delete(ctx context.Context, pair *pairs.Pair, id string) error {
	if id == "" {
		return NewConfigurationError("delete requires an id")
	}

	query := `DELETE FROM ` + pair.EncryptedTable + ` WHERE id = ? AND user_id = ?`

	result, err := w.conn.ExecContext(ctx, query, id, w.userID)
	if err != nil {
		w.logger.Error("Failed to delete encrypted row", "pair", pair.Name, "id", id, "error", err)
		return fmt.Errorf("failed to delete encrypted row: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return NewRowNotFoundError(pair.EncryptedTable, id)
	}

	return nil
}

// Touch bumps a row's updated-at without changing its payload. A touched
// row gets a new content fingerprint, which forces the live-query
// collaborator to re-deliver it; deployments use this to resurface rows
// after a key grant, since granting access changes no row content by
// itself.
func (w *Writer) Touch(ctx context.Context, pair *pairs.Pair, id string) error {
	if id == "" {
		return NewConfigurationError("touch requires an id")
	}

	now := db.TimeToString(time.Now().UTC())

	query := `UPDATE ` + pair.EncryptedTable + ` SET updated_at = ? WHERE id = ? AND user_id = ?`

	result, err := w.conn.ExecContext(ctx, query, now, id, w.userID)
	if err != nil {
		return fmt.Errorf("failed to touch encrypted row: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return NewRowNotFoundError(pair.EncryptedTable, id)
	}

	return nil
}
