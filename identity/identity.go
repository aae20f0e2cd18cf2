// Package identity manages per-user asymmetric key pairs and the wrapped
// room-key grants built on them. Identity keys are used only for wrapping
// and unwrapping data keys, never for payload encryption; the private half
// is itself protected with the vault-level symmetric envelope, so the
// engine recursively secures its own key material.
package identity

import (
	"time"

	"github.com/cipherglass/cipherglass/encryption"
)

// identityKeyAAD binds identity private-key envelopes to their purpose.
const identityKeyAAD = "identity-key-v1"

// KeyPair is a user's X25519 identity key pair in raw byte form.
type KeyPair struct {
	UserID    string
	PublicKey []byte
	SecretKey []byte
}

// PublicKeyRecord is the published half of an identity key pair. Newer key
// versions supersede older ones.
type PublicKeyRecord struct {
	ID           string
	UserID       string
	KeyVersion   int
	PublicKeyB64 string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PrivateKeyRecord is the stored private half: an envelope produced by the
// user's vault provider, never by the asymmetric wrap path, to avoid a
// circular dependency in key protection.
type PrivateKeyRecord struct {
	ID        string
	UserID    string
	Envelope  *encryption.Envelope
	CreatedAt time.Time
}

// RoomKeyGrant is one recipient's wrapped copy of an entity's symmetric
// data key. Grants are never mutated, only replaced when re-issued.
type RoomKeyGrant struct {
	ID            string
	EntityID      string
	GranteeUserID string
	GrantorUserID string
	Envelope      *encryption.Envelope
	CreatedAt     time.Time
}
