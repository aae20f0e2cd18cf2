package identity

import (
	"context"
	"sync"

	"github.com/cipherglass/cipherglass/ccc/logging"
	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/pairs"
)

// RoomKeyResolver resolves decryption capabilities for bucket-scoped rows:
// it looks up the local user's grant for the row's bucket, unwraps the data
// key and caches the resulting provider per bucket. Rows without a bucket
// fall back to the configured vault provider. It implements the
// replicator's crypto-resolution hook; a missing grant resolves to no
// capability, which the replicator treats as recoverable.
type RoomKeyResolver struct {
	logger   logging.Logger
	grants   GrantService
	keys     *KeyPair
	fallback encryption.CryptoProvider

	mu    sync.Mutex
	cache map[string]encryption.CryptoProvider
}

// NewRoomKeyResolver creates a resolver for the local user's key pair.
// fallback may be nil when unscoped rows should not be decryptable.
func NewRoomKeyResolver(logger logging.Logger, grants GrantService, keys *KeyPair, fallback encryption.CryptoProvider) *RoomKeyResolver {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &RoomKeyResolver{
		logger:   logger,
		grants:   grants,
		keys:     keys,
		fallback: fallback,
		cache:    make(map[string]encryption.CryptoProvider),
	}
}

func (r *RoomKeyResolver) ResolveCrypto(ctx context.Context, row *pairs.EncryptedRow) (encryption.CryptoProvider, error) {
	bucket := row.Bucket()
	if bucket == "" {
		return r.fallback, nil
	}

	r.mu.Lock()
	cached, ok := r.cache[bucket]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	dataKey, err := r.grants.UnwrapGrant(ctx, bucket, r.keys)
	if err != nil {
		if IsGrantNotFoundError(err) {
			// No capability yet; the replicator retries until one appears.
			return nil, nil
		}
		return nil, err
	}

	provider, err := encryption.NewAESGCMProvider(dataKey)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[bucket] = provider
	r.mu.Unlock()

	r.logger.Debug("Resolved data key for bucket", "bucket", bucket)
	return provider, nil
}

// Invalidate drops the cached provider for a bucket, forcing the next
// resolution to unwrap the stored grant again (e.g., after a re-issue).
func (r *RoomKeyResolver) Invalidate(bucket string) {
	r.mu.Lock()
	delete(r.cache, bucket)
	r.mu.Unlock()
}
