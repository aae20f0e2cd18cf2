package mirrors

import (
	"context"

	"github.com/cipherglass/cipherglass/pairs"
)

// DiffBatch is one observation from the live-query collaborator: the rows
// added to, updated in and removed from the watched result set since the
// previous observation, keyed by row identity.
type DiffBatch struct {
	Added   []*pairs.EncryptedRow
	Updated []*pairs.EncryptedRow
	Removed []*pairs.EncryptedRow
}

// Empty reports whether the batch carries no changes at all.
func (b DiffBatch) Empty() bool {
	return len(b.Added) == 0 && len(b.Updated) == 0 && len(b.Removed) == 0
}

// WatchQuery is the SQL select the live query maintains a result set for.
// It must project the opaque-table columns in their canonical order:
// id, user_id, bucket_id, alg, aad, nonce, ciphertext, kdf_salt,
// created_at, updated_at.
type WatchQuery struct {
	SQL  string
	Args []any
}

// RowComparator tells the live-query collaborator how to key rows and how
// to detect content changes between observations.
type RowComparator struct {
	KeyBy     func(*pairs.EncryptedRow) string
	CompareBy func(*pairs.EncryptedRow) string
}

// WatchHandle closes one live query.
type WatchHandle interface {
	Close() error
}

// LiveQuery is the external collaborator that maintains a query's result
// set and delivers diff batches as the underlying table changes. The
// replicator only depends on this interface; the query engine itself lives
// outside this module.
type LiveQuery interface {
	Watch(ctx context.Context, query WatchQuery, comparator RowComparator, onDiff func(DiffBatch), onError func(error)) (WatchHandle, error)
}

// Fingerprint is the content fingerprint the replicator hands to the live
// query for change detection: the concatenated envelope fields plus the
// updated-at stamp, over the stored text forms. Two rows with equal
// fingerprints need no re-decryption.
func Fingerprint(r *pairs.EncryptedRow) string {
	return r.Alg + "|" + r.AADString() + "|" + r.NonceB64 + "|" + r.CipherB64 + "|" + r.KdfSaltB64 + "|" + r.UpdatedAt
}

// DefaultComparator keys rows by id and compares them by Fingerprint.
func DefaultComparator() RowComparator {
	return RowComparator{
		KeyBy:     func(r *pairs.EncryptedRow) string { return r.ID },
		CompareBy: Fingerprint,
	}
}
