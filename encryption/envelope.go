package encryption

// EnvelopeVersion is the current envelope format version.
const EnvelopeVersion = 1

// Algorithm identifiers carried in the envelope's alg field. The identifier
// names both the AEAD scheme and any key-derivation step, so a decryptor can
// reject ciphertext it does not understand without touching the key.
const (
	// AlgAESGCM is AES-256-GCM with a directly supplied key (no derivation).
	AlgAESGCM = "aes256gcm/v1"
	// AlgAESGCMPBKDF2 is AES-256-GCM with a key derived from a secret via
	// PBKDF2-SHA256 and the per-envelope salt.
	AlgAESGCMPBKDF2 = "aes256gcm/pbkdf2-v1"
)

// Envelope is the stable container for a single ciphertext: the algorithm
// identifier, the optional associated data the ciphertext is bound to, the
// key-derivation salt (empty when no derivation applies), the nonce and the
// ciphertext itself. An Envelope is immutable once produced; it is created
// by an encrypt operation and consumed whole by a decrypt operation.
type Envelope struct {
	Version    int
	Alg        string
	AAD        string // empty when the ciphertext is not context-bound
	KdfSaltB64 string // empty when no key-derivation step applies
	NonceB64   string
	CipherB64  string
}

// RowColumns is the flat column representation of an Envelope used for
// storage. The kdf salt is always a string, with "" as the "absent"
// sentinel rather than NULL, so that the replicator's content fingerprint
// stays stable. The aad column is the only nullable one.
type RowColumns struct {
	Alg        string
	AAD        *string
	NonceB64   string
	CipherB64  string
	KdfSaltB64 string
}

// ToRowColumns maps the envelope onto flat column values for storage.
func (e *Envelope) ToRowColumns() RowColumns {
	var aad *string
	if e.AAD != "" {
		v := e.AAD
		aad = &v
	}
	return RowColumns{
		Alg:        e.Alg,
		AAD:        aad,
		NonceB64:   e.NonceB64,
		CipherB64:  e.CipherB64,
		KdfSaltB64: e.KdfSaltB64,
	}
}

// FromRowColumns rebuilds an Envelope from its stored column values.
func FromRowColumns(cols RowColumns) *Envelope {
	aad := ""
	if cols.AAD != nil {
		aad = *cols.AAD
	}
	return &Envelope{
		Version:    EnvelopeVersion,
		Alg:        cols.Alg,
		AAD:        aad,
		KdfSaltB64: cols.KdfSaltB64,
		NonceB64:   cols.NonceB64,
		CipherB64:  cols.CipherB64,
	}
}
