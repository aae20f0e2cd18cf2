package mirrors

import (
	"context"

	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/pairs"
)

// CryptoResolver resolves the decryption capability for one opaque row.
// Returning (nil, nil) means no usable capability exists right now; the
// replicator treats that, and any resolution error, as recoverable and
// feeds the row into the retry subsystem. Implementations exist per
// deployment: a single-key vault, a per-bucket room key map, etc.
type CryptoResolver interface {
	ResolveCrypto(ctx context.Context, row *pairs.EncryptedRow) (encryption.CryptoProvider, error)
}

// StaticResolver resolves every row to one fixed provider. It is the
// default for single-key deployments.
type StaticResolver struct {
	Provider encryption.CryptoProvider
}

func (r StaticResolver) ResolveCrypto(ctx context.Context, row *pairs.EncryptedRow) (encryption.CryptoProvider, error) {
	return r.Provider, nil
}
