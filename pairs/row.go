package pairs

import (
	"github.com/cipherglass/cipherglass/ccc/db"
	"github.com/cipherglass/cipherglass/encryption"
)

// EncryptedRow is the raw stored form of one opaque-table row: the owner,
// the optional bucket used for access scoping, the envelope columns and the
// timestamps. Timestamps stay in their stored string form because the
// replicator fingerprints rows over the stored text.
type EncryptedRow struct {
	ID         string
	UserID     string
	BucketID   *string
	Alg        string
	AAD        *string
	NonceB64   string
	CipherB64  string
	KdfSaltB64 string
	CreatedAt  string
	UpdatedAt  string
}

// Envelope rebuilds the row's cipher envelope from its columns.
func (r *EncryptedRow) Envelope() *encryption.Envelope {
	return encryption.FromRowColumns(encryption.RowColumns{
		Alg:        r.Alg,
		AAD:        r.AAD,
		NonceB64:   r.NonceB64,
		CipherB64:  r.CipherB64,
		KdfSaltB64: r.KdfSaltB64,
	})
}

// AADString returns the row's bound associated data, "" when absent.
func (r *EncryptedRow) AADString() string {
	return db.PtrToString(r.AAD)
}

// Bucket returns the row's bucket id, "" when the row is unscoped.
func (r *EncryptedRow) Bucket() string {
	return db.PtrToString(r.BucketID)
}
