package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// Constants for encryption parameters
const (
	keyLength   = 32 // 256 bits for AES-256
	saltLength  = 16 // 128 bits for key-derivation salt
	nonceLength = 12 // 96 bits for GCM nonce
)

// AESGCMProvider implements CryptoProvider using AES-256-GCM with a
// directly supplied key. Envelopes it produces carry an empty kdf salt.
type AESGCMProvider struct {
	key []byte
}

// NewAESGCMProvider creates a provider around a raw 256-bit key.
func NewAESGCMProvider(key []byte) (*AESGCMProvider, error) {
	if len(key) != keyLength {
		return nil, errors.New("invalid key length")
	}
	k := make([]byte, keyLength)
	copy(k, key)
	return &AESGCMProvider{key: k}, nil
}

// Encrypt seals the plaintext with a fresh random nonce.
func (p *AESGCMProvider) Encrypt(ctx context.Context, plaintext []byte, aad string) (*Envelope, error) {
	nonce, ciphertext, err := sealAESGCM(p.key, plaintext, aad)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version:    EnvelopeVersion,
		Alg:        AlgAESGCM,
		AAD:        aad,
		KdfSaltB64: "",
		NonceB64:   base64.StdEncoding.EncodeToString(nonce),
		CipherB64:  base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens an envelope previously produced by Encrypt.
func (p *AESGCMProvider) Decrypt(ctx context.Context, env *Envelope, aad string) ([]byte, error) {
	if env.Alg != AlgAESGCM {
		return nil, NewUnsupportedAlgorithmError(env.Alg)
	}
	if env.AAD != aad {
		return nil, NewDecryptionError()
	}
	return openAESGCM(p.key, env, aad)
}

// sealAESGCM encrypts plaintext under key with a random nonce, binding the
// aad string into the authentication tag.
func sealAESGCM(key, plaintext []byte, aad string) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aadBytes(aad))
	return nonce, ciphertext, nil
}

// openAESGCM decrypts an envelope under key. All failures collapse into a
// single DecryptionError so that nothing about the ciphertext leaks.
func openAESGCM(key []byte, env *Envelope, aad string) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewDecryptionError()
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewDecryptionError()
	}

	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, NewDecryptionError()
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.CipherB64)
	if err != nil {
		return nil, NewDecryptionError()
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aadBytes(aad))
	if err != nil {
		return nil, NewDecryptionError()
	}

	return plaintext, nil
}

func aadBytes(aad string) []byte {
	if aad == "" {
		return nil
	}
	return []byte(aad)
}

// GenerateKey generates a new random 256-bit data key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt generates a new random key-derivation salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
