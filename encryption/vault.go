package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const iterationCount = 10000 // PBKDF2 iterations

// VaultProvider implements CryptoProvider with a key derived from a
// long-lived secret (e.g., the user's vault passphrase). Every envelope
// carries its own random salt, so the derived key differs per ciphertext
// and the secret itself never has a fixed key fingerprint in the store.
type VaultProvider struct {
	secret []byte
}

// NewVaultProvider creates a provider around a vault secret.
func NewVaultProvider(secret []byte) (*VaultProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("vault secret cannot be empty")
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &VaultProvider{secret: s}, nil
}

// DeriveKeyFromSecret derives an encryption key from a secret and salt using PBKDF2
func DeriveKeyFromSecret(secret []byte, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}
	return pbkdf2.Key(secret, salt, iterationCount, keyLength, sha256.New), nil
}

// Encrypt seals the plaintext under a key derived from the vault secret
// and a fresh random salt recorded in the envelope.
func (p *VaultProvider) Encrypt(ctx context.Context, plaintext []byte, aad string) (*Envelope, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}

	key, err := DeriveKeyFromSecret(p.secret, salt)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext, err := sealAESGCM(key, plaintext, aad)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version:    EnvelopeVersion,
		Alg:        AlgAESGCMPBKDF2,
		AAD:        aad,
		KdfSaltB64: base64.StdEncoding.EncodeToString(salt),
		NonceB64:   base64.StdEncoding.EncodeToString(nonce),
		CipherB64:  base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt re-derives the per-envelope key from the recorded salt and opens
// the envelope.
func (p *VaultProvider) Decrypt(ctx context.Context, env *Envelope, aad string) ([]byte, error) {
	if env.Alg != AlgAESGCMPBKDF2 {
		return nil, NewUnsupportedAlgorithmError(env.Alg)
	}
	if env.AAD != aad {
		return nil, NewDecryptionError()
	}

	salt, err := base64.StdEncoding.DecodeString(env.KdfSaltB64)
	if err != nil || len(salt) == 0 {
		return nil, NewDecryptionError()
	}

	key, err := DeriveKeyFromSecret(p.secret, salt)
	if err != nil {
		return nil, NewDecryptionError()
	}

	return openAESGCM(key, env, aad)
}
