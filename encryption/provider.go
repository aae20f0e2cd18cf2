package encryption

import "context"

// CryptoProvider is the capability used to produce and consume envelopes.
// Implementations are pure with respect to external state: no hidden
// retries or caching. Both operations accept a context because key
// material may live behind I/O (a store read, an unwrap).
type CryptoProvider interface {
	// Encrypt seals the plaintext under the provider's key, binding the
	// given associated data into the authentication tag.
	Encrypt(ctx context.Context, plaintext []byte, aad string) (*Envelope, error)
	// Decrypt opens the envelope. It fails with a DecryptionError if the
	// tag check fails or the aad does not match the envelope's bound aad,
	// and with an UnsupportedAlgorithmError for an unknown alg.
	Decrypt(ctx context.Context, env *Envelope, aad string) ([]byte, error)
}
