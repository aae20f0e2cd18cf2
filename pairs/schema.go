package pairs

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// OutboxTable is the queue table the opaque-table triggers feed. The
// external sync collaborator drains it; nothing in this module reads it
// back except tests.
const OutboxTable = "sync_outbox"

// InstallSchema creates, for each pair, the opaque table, the mirror table,
// their supporting indexes and the change-capture triggers on the opaque
// table. Installation is idempotent: re-running it against an initialized
// store neither errors nor duplicates objects.
func InstallSchema(conn *sql.DB, pairList []*Pair) error {
	if err := createOutboxTable(conn); err != nil {
		return fmt.Errorf("failed to create outbox table: %w", err)
	}

	for _, p := range pairList {
		if err := p.Validate(); err != nil {
			return err
		}
		if err := installPair(conn, p); err != nil {
			return fmt.Errorf("failed to install schema for pair %s: %w", p.Name, err)
		}
	}

	return nil
}

func createOutboxTable(conn *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS ` + OutboxTable + ` (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		row_id TEXT NOT NULL,
		tbl TEXT NOT NULL,
		data TEXT
	);`

	_, err := conn.Exec(stmt)
	return err
}

func installPair(conn *sql.DB, p *Pair) error {
	stmts := []string{
		encryptedTableDDL(p),
		userUpdatedIndexDDL(p.EncryptedTable),
		mirrorTableDDL(p),
		userUpdatedIndexDDL(p.MirrorTable),
	}
	stmts = append(stmts, p.MirrorExtraIndexes...)
	stmts = append(stmts, triggerDDL(p)...)

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// encryptedTableDDL renders the opaque table: envelope columns only, no
// plaintext ever touches this table.
func encryptedTableDDL(p *Pair) string {
	return `
	CREATE TABLE IF NOT EXISTS ` + p.EncryptedTable + ` (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		bucket_id TEXT,
		alg TEXT NOT NULL,
		aad TEXT,
		nonce TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		kdf_salt TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
}

// mirrorTableDDL renders the mirror table: the fixed identity columns
// followed by the pair's declared columns in declared order.
func mirrorTableDDL(p *Pair) string {
	cols := make([]string, 0, len(p.MirrorColumns))
	for _, c := range p.MirrorColumns {
		cols = append(cols, columnDDL(c))
	}

	return `
	CREATE TABLE IF NOT EXISTS ` + p.MirrorTable + ` (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		bucket_id TEXT,
		updated_at TEXT NOT NULL,
		` + strings.Join(cols, ",\n\t\t") + `
	);`
}

func columnDDL(c MirrorColumn) string {
	parts := []string{c.Name, c.Type}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	return strings.Join(parts, " ")
}

// userUpdatedIndexDDL supports "recent items for this user" scans on both
// tables of a pair.
func userUpdatedIndexDDL(table string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_user_updated ON %s(user_id, updated_at DESC);",
		table, table,
	)
}

// triggerDDL renders the change-capture triggers on the opaque table:
// insert/update enqueue the full envelope row for the sync collaborator,
// delete enqueues a tombstone and synchronously cascade-deletes the mirror
// row so the mirror never outlives its source.
func triggerDDL(p *Pair) []string {
	enc := p.EncryptedTable
	rowJSON := outboxRowJSON()

	insertTrigger := fmt.Sprintf(`
	CREATE TRIGGER IF NOT EXISTS %s_outbox_insert AFTER INSERT ON %s
	BEGIN
		INSERT INTO %s (op, row_id, tbl, data)
		VALUES ('PUT', NEW.id, '%s', %s);
	END;`, enc, enc, OutboxTable, enc, rowJSON)

	updateTrigger := fmt.Sprintf(`
	CREATE TRIGGER IF NOT EXISTS %s_outbox_update AFTER UPDATE ON %s
	BEGIN
		INSERT INTO %s (op, row_id, tbl, data)
		VALUES ('PATCH', NEW.id, '%s', %s);
	END;`, enc, enc, OutboxTable, enc, rowJSON)

	deleteTrigger := fmt.Sprintf(`
	CREATE TRIGGER IF NOT EXISTS %s_outbox_delete AFTER DELETE ON %s
	BEGIN
		INSERT INTO %s (op, row_id, tbl)
		VALUES ('DELETE', OLD.id, '%s');
	END;`, enc, enc, OutboxTable, enc)

	cascadeTrigger := fmt.Sprintf(`
	CREATE TRIGGER IF NOT EXISTS %s_mirror_cascade_delete AFTER DELETE ON %s
	BEGIN
		DELETE FROM %s WHERE id = OLD.id;
	END;`, enc, enc, p.MirrorTable)

	return []string{insertTrigger, updateTrigger, deleteTrigger, cascadeTrigger}
}

// outboxRowJSON serializes the envelope-bearing row into the generic change
// record the sync collaborator consumes.
func outboxRowJSON() string {
	fields := []string{
		"'user_id', NEW.user_id",
		"'bucket_id', NEW.bucket_id",
		"'alg', NEW.alg",
		"'aad', NEW.aad",
		"'nonce', NEW.nonce",
		"'ciphertext', NEW.ciphertext",
		"'kdf_salt', NEW.kdf_salt",
		"'created_at', NEW.created_at",
		"'updated_at', NEW.updated_at",
	}
	return "json_object(" + strings.Join(fields, ", ") + ")"
}
