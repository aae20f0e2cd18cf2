package identity

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cipherglass/cipherglass/ccc/db"
	"github.com/cipherglass/cipherglass/encryption"
)

type PublicKeyRepository interface {
	// Upsert replaces the record for (user, version)
	Upsert(ctx context.Context, rec *PublicKeyRecord) error
	// GetLatest retrieves the newest key version for a user
	// Returns nil if the user has no published key (this is not an error)
	GetLatest(ctx context.Context, userID string) (*PublicKeyRecord, error)
}

// SQLitePublicKeyRepository implements PublicKeyRepository using SQLite
type SQLitePublicKeyRepository struct {
	conn *sql.DB
}

// NewSQLitePublicKeyRepository creates a new SQLite-based PublicKeyRepository
func NewSQLitePublicKeyRepository(conn *sql.DB) (*SQLitePublicKeyRepository, error) {
	repo := &SQLitePublicKeyRepository{conn: conn}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLitePublicKeyRepository) createTables() error {
	createTable := `
	CREATE TABLE IF NOT EXISTS identity_public_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		key_version INTEGER NOT NULL,
		public_key TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := r.conn.Exec(createTable)
	return err
}

func (r *SQLitePublicKeyRepository) Upsert(ctx context.Context, rec *PublicKeyRecord) error {
	deleteQuery := `DELETE FROM identity_public_keys WHERE id = ?`
	if _, err := r.conn.ExecContext(ctx, deleteQuery, rec.ID); err != nil {
		return fmt.Errorf("failed to clear existing public key: %w", err)
	}

	insertQuery := `
	INSERT INTO identity_public_keys (id, user_id, key_version, public_key, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.conn.ExecContext(ctx, insertQuery,
		rec.ID, rec.UserID, rec.KeyVersion, rec.PublicKeyB64,
		db.TimeToString(rec.CreatedAt), db.TimeToString(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert public key: %w", err)
	}

	return nil
}

func (r *SQLitePublicKeyRepository) GetLatest(ctx context.Context, userID string) (*PublicKeyRecord, error) {
	query := `
	SELECT id, user_id, key_version, public_key, created_at, updated_at
	FROM identity_public_keys
	WHERE user_id = ?
	ORDER BY key_version DESC
	LIMIT 1`

	row := r.conn.QueryRowContext(ctx, query, userID)

	rec := &PublicKeyRecord{}
	var createdAtStr, updatedAtStr string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.KeyVersion, &rec.PublicKeyB64, &createdAtStr, &updatedAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	rec.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	rec.UpdatedAt, err = db.StringToTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}

	return rec, nil
}

type PrivateKeyRepository interface {
	// Replace removes any stored private key for the user and stores the new one
	Replace(ctx context.Context, rec *PrivateKeyRecord) error
	// Get retrieves the stored private key for a user
	// Returns nil if none exists (this is not an error)
	Get(ctx context.Context, userID string) (*PrivateKeyRecord, error)
}

// SQLitePrivateKeyRepository implements PrivateKeyRepository using SQLite
type SQLitePrivateKeyRepository struct {
	conn *sql.DB
}

// NewSQLitePrivateKeyRepository creates a new SQLite-based PrivateKeyRepository
func NewSQLitePrivateKeyRepository(conn *sql.DB) (*SQLitePrivateKeyRepository, error) {
	repo := &SQLitePrivateKeyRepository{conn: conn}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLitePrivateKeyRepository) createTables() error {
	createTable := `
	CREATE TABLE IF NOT EXISTS identity_private_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		alg TEXT NOT NULL,
		aad TEXT,
		nonce TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		kdf_salt TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := r.conn.Exec(createTable)
	return err
}

func (r *SQLitePrivateKeyRepository) Replace(ctx context.Context, rec *PrivateKeyRecord) error {
	deleteQuery := `DELETE FROM identity_private_keys WHERE user_id = ?`
	if _, err := r.conn.ExecContext(ctx, deleteQuery, rec.UserID); err != nil {
		return fmt.Errorf("failed to clear existing private key: %w", err)
	}

	cols := rec.Envelope.ToRowColumns()
	insertQuery := `
	INSERT INTO identity_private_keys (id, user_id, alg, aad, nonce, ciphertext, kdf_salt, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.conn.ExecContext(ctx, insertQuery,
		rec.ID, rec.UserID,
		cols.Alg, cols.AAD, cols.NonceB64, cols.CipherB64, cols.KdfSaltB64,
		db.TimeToString(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store private key: %w", err)
	}

	return nil
}

func (r *SQLitePrivateKeyRepository) Get(ctx context.Context, userID string) (*PrivateKeyRecord, error) {
	query := `
	SELECT id, user_id, alg, aad, nonce, ciphertext, kdf_salt, created_at
	FROM identity_private_keys
	WHERE user_id = ?
	LIMIT 1`

	row := r.conn.QueryRowContext(ctx, query, userID)

	rec := &PrivateKeyRecord{}
	var cols encryption.RowColumns
	var createdAtStr string
	err := row.Scan(&rec.ID, &rec.UserID, &cols.Alg, &cols.AAD, &cols.NonceB64, &cols.CipherB64, &cols.KdfSaltB64, &createdAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	rec.Envelope = encryption.FromRowColumns(cols)
	rec.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}

	return rec, nil
}
