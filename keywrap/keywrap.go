// Package keywrap encrypts a symmetric data key for one recipient at a
// time, using an X25519 key agreement instead of a pre-shared secret. Any
// party holding the data key and their own identity secret can grant access
// to a new recipient; the data key never appears outside a
// recipient-specific ciphertext.
package keywrap

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cipherglass/cipherglass/encryption"
)

// Alg is the algorithm identifier stamped on wrapped-key envelopes. It is
// distinct from every payload algorithm so wrapped keys can never be
// mistaken for payload ciphertext.
const Alg = "xchacha20poly1305/x25519-wrap-v1"

// algFamily accepts future minor revisions of the same wrap construction.
const algFamily = "xchacha20poly1305/x25519-wrap"

// Context binds a wrapped key to exactly one (entity, sender, recipient)
// triple. A wrap produced for one context cannot be unwrapped under
// another, which prevents reuse across entities and redirection to a
// different recipient.
type Context struct {
	EntityID    string
	SenderID    string
	RecipientID string
}

// String renders the canonical context string used for both key derivation
// and associated data.
func (c Context) String() string {
	return fmt.Sprintf("entity:%s|from:%s|to:%s", c.EntityID, c.SenderID, c.RecipientID)
}

// GenerateKeyPair generates a fresh X25519 identity key pair as raw bytes.
func GenerateKeyPair() (publicKey, secretKey []byte, err error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate identity key pair: %w", err)
	}
	return priv.PublicKey().Bytes(), priv.Bytes(), nil
}

// PublicKeyFor derives the public half for a raw X25519 secret key.
func PublicKeyFor(secretKey []byte) ([]byte, error) {
	priv, err := ecdh.X25519().NewPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid identity secret key: %w", err)
	}
	return priv.PublicKey().Bytes(), nil
}

// deriveWrapKey computes the per-recipient wrapping key: the X25519 shared
// secret hashed together with a digest of the canonical context string.
// ECDH is commutative, so both parties derive the same key from their own
// secret and the other's public half.
func deriveWrapKey(ourSecret, peerPublic []byte, c Context) ([]byte, error) {
	curve := ecdh.X25519()

	priv, err := curve.NewPrivateKey(ourSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid identity secret key: %w", err)
	}
	pub, err := curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid identity public key: %w", err)
	}

	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}

	contextDigest := blake2b.Sum256([]byte(c.String()))
	hasher, err := blake2b.New256(contextDigest[:])
	if err != nil {
		return nil, err
	}
	hasher.Write(shared)
	return hasher.Sum(nil), nil
}

// Wrap encrypts the data key for the recipient under a key derived from the
// sender's secret, the recipient's public key and the context, with a fresh
// random nonce and the canonical context string as associated data.
func Wrap(dataKey, ourSecret, recipientPublic []byte, c Context) (*encryption.Envelope, error) {
	wrapKey, err := deriveWrapKey(ourSecret, recipientPublic, c)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	aad := c.String()
	ciphertext := aead.Seal(nil, nonce, dataKey, []byte(aad))

	return &encryption.Envelope{
		Version:    encryption.EnvelopeVersion,
		Alg:        Alg,
		AAD:        aad,
		KdfSaltB64: "",
		NonceB64:   base64.StdEncoding.EncodeToString(nonce),
		CipherB64:  base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Unwrap recovers the data key from a wrapped-key envelope, failing closed
// when the algorithm id or the bound context do not match expectations.
func Unwrap(env *encryption.Envelope, ourSecret, peerPublic []byte, c Context) ([]byte, error) {
	if !strings.HasPrefix(env.Alg, algFamily) {
		return nil, encryption.NewUnsupportedAlgorithmError(env.Alg)
	}
	if env.AAD != c.String() {
		return nil, encryption.NewDecryptionError()
	}

	wrapKey, err := deriveWrapKey(ourSecret, peerPublic, c)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, encryption.NewDecryptionError()
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.CipherB64)
	if err != nil {
		return nil, encryption.NewDecryptionError()
	}

	dataKey, err := aead.Open(nil, nonce, ciphertext, []byte(env.AAD))
	if err != nil {
		return nil, encryption.NewDecryptionError()
	}

	return dataKey, nil
}
