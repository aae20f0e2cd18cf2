package identity

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cipherglass/cipherglass/ccc/db"
	"github.com/cipherglass/cipherglass/encryption"
)

type GrantRepository interface {
	// Replace removes any existing grant for (entity, grantee) and stores the new one
	Replace(ctx context.Context, grant *RoomKeyGrant) error
	// Get retrieves the grant for (entity, grantee)
	// Returns nil if none exists (this is not an error)
	Get(ctx context.Context, entityID, granteeUserID string) (*RoomKeyGrant, error)
	// ListForEntity retrieves all grants issued for an entity
	ListForEntity(ctx context.Context, entityID string) ([]*RoomKeyGrant, error)
}

// SQLiteGrantRepository implements GrantRepository using SQLite
type SQLiteGrantRepository struct {
	conn *sql.DB
}

// NewSQLiteGrantRepository creates a new SQLite-based GrantRepository
func NewSQLiteGrantRepository(conn *sql.DB) (*SQLiteGrantRepository, error) {
	repo := &SQLiteGrantRepository{conn: conn}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLiteGrantRepository) createTables() error {
	createTable := `
	CREATE TABLE IF NOT EXISTS room_key_grants (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		grantee_user_id TEXT NOT NULL,
		grantor_user_id TEXT NOT NULL,
		alg TEXT NOT NULL,
		aad TEXT,
		nonce TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		kdf_salt TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := r.conn.Exec(createTable); err != nil {
		return err
	}

	createIndex := `
	CREATE INDEX IF NOT EXISTS idx_room_key_grants_entity_grantee
	ON room_key_grants(entity_id, grantee_user_id);`

	_, err := r.conn.Exec(createIndex)
	return err
}

func (r *SQLiteGrantRepository) Replace(ctx context.Context, grant *RoomKeyGrant) error {
	deleteQuery := `DELETE FROM room_key_grants WHERE entity_id = ? AND grantee_user_id = ?`
	if _, err := r.conn.ExecContext(ctx, deleteQuery, grant.EntityID, grant.GranteeUserID); err != nil {
		return fmt.Errorf("failed to clear existing grant: %w", err)
	}

	cols := grant.Envelope.ToRowColumns()
	insertQuery := `
	INSERT INTO room_key_grants (id, entity_id, grantee_user_id, grantor_user_id, alg, aad, nonce, ciphertext, kdf_salt, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.conn.ExecContext(ctx, insertQuery,
		grant.ID, grant.EntityID, grant.GranteeUserID, grant.GrantorUserID,
		cols.Alg, cols.AAD, cols.NonceB64, cols.CipherB64, cols.KdfSaltB64,
		db.TimeToString(grant.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}

	return nil
}

func (r *SQLiteGrantRepository) Get(ctx context.Context, entityID, granteeUserID string) (*RoomKeyGrant, error) {
	query := `
	SELECT id, entity_id, grantee_user_id, grantor_user_id, alg, aad, nonce, ciphertext, kdf_salt, created_at
	FROM room_key_grants
	WHERE entity_id = ? AND grantee_user_id = ?
	LIMIT 1`

	row := r.conn.QueryRowContext(ctx, query, entityID, granteeUserID)

	grant, err := scanGrant(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return grant, nil
}

func (r *SQLiteGrantRepository) ListForEntity(ctx context.Context, entityID string) ([]*RoomKeyGrant, error) {
	query := `
	SELECT id, entity_id, grantee_user_id, grantor_user_id, alg, aad, nonce, ciphertext, kdf_salt, created_at
	FROM room_key_grants
	WHERE entity_id = ?
	ORDER BY created_at`

	rows, err := r.conn.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []*RoomKeyGrant
	for rows.Next() {
		grant, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	return grants, nil
}

func scanGrant(scan func(dest ...any) error) (*RoomKeyGrant, error) {
	grant := &RoomKeyGrant{}
	var cols encryption.RowColumns
	var createdAtStr string

	err := scan(
		&grant.ID, &grant.EntityID, &grant.GranteeUserID, &grant.GrantorUserID,
		&cols.Alg, &cols.AAD, &cols.NonceB64, &cols.CipherB64, &cols.KdfSaltB64,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	grant.Envelope = encryption.FromRowColumns(cols)
	grant.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}

	return grant, nil
}
