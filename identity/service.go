package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cipherglass/cipherglass/ccc/logging"
	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/keywrap"
)

type Service interface {
	// EnsureKeyPair returns the user's identity key pair, generating and
	// persisting a fresh one when none exists or the stored private half
	// no longer decrypts with the current vault key
	EnsureKeyPair(ctx context.Context, userID string, vault encryption.CryptoProvider) (*KeyPair, error)
	// LoadPeerPublicKey retrieves another user's newest published public key
	LoadPeerPublicKey(ctx context.Context, userID string) ([]byte, error)
}

type identityService struct {
	logger      logging.Logger
	publicKeys  PublicKeyRepository
	privateKeys PrivateKeyRepository
}

func NewService(logger logging.Logger, publicKeys PublicKeyRepository, privateKeys PrivateKeyRepository) *identityService {

	if logger == nil {
		logger = logging.NopLogger
	}

	return &identityService{
		logger:      logger,
		publicKeys:  publicKeys,
		privateKeys: privateKeys,
	}
}

func (s *identityService) EnsureKeyPair(ctx context.Context, userID string, vault encryption.CryptoProvider) (*KeyPair, error) {
	existing, err := s.privateKeys.Get(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to read stored identity key", "userId", userID, "error", err)
		return nil, err
	}

	if existing != nil {
		secret, err := vault.Decrypt(ctx, existing.Envelope, existing.Envelope.AAD)
		if err == nil {
			return s.rebuildKeyPair(ctx, userID, secret)
		}
		// The stored private half no longer decrypts with the current
		// vault key; fall through and regenerate.
		s.logger.Warn("Stored identity key not decryptable with current vault key, regenerating", "userId", userID)
	}

	return s.generateKeyPair(ctx, userID, vault)
}

// rebuildKeyPair reconstitutes the pair from a decrypted secret, preferring
// the published public half and deriving it from the secret otherwise.
func (s *identityService) rebuildKeyPair(ctx context.Context, userID string, secret []byte) (*KeyPair, error) {
	publicKey, err := s.LoadPeerPublicKey(ctx, userID)
	if err != nil {
		if !IsPublicKeyNotFoundError(err) {
			return nil, err
		}
		publicKey, err = keywrap.PublicKeyFor(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to derive public key: %w", err)
		}
	}

	return &KeyPair{
		UserID:    userID,
		PublicKey: publicKey,
		SecretKey: secret,
	}, nil
}

func (s *identityService) generateKeyPair(ctx context.Context, userID string, vault encryption.CryptoProvider) (*KeyPair, error) {
	s.logger.Info("Generating identity key pair", "userId", userID)

	publicKey, secretKey, err := keywrap.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	// The private half always goes through the vault-level symmetric key,
	// never the asymmetric wrap path.
	env, err := vault.Encrypt(ctx, secretKey, identityKeyAAD)
	if err != nil {
		s.logger.Error("Failed to encrypt identity private key", "userId", userID, "error", err)
		return nil, fmt.Errorf("failed to encrypt identity private key: %w", err)
	}

	now := time.Now().UTC()

	if err := s.privateKeys.Replace(ctx, &PrivateKeyRecord{
		ID:        fmt.Sprintf("identity:%s", userID),
		UserID:    userID,
		Envelope:  env,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	version := 1
	if latest, err := s.publicKeys.GetLatest(ctx, userID); err != nil {
		return nil, err
	} else if latest != nil {
		version = latest.KeyVersion + 1
	}

	if err := s.publicKeys.Upsert(ctx, &PublicKeyRecord{
		ID:           fmt.Sprintf("%s:%d", userID, version),
		UserID:       userID,
		KeyVersion:   version,
		PublicKeyB64: base64.StdEncoding.EncodeToString(publicKey),
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, err
	}

	return &KeyPair{
		UserID:    userID,
		PublicKey: publicKey,
		SecretKey: secretKey,
	}, nil
}

func (s *identityService) LoadPeerPublicKey(ctx context.Context, userID string) ([]byte, error) {
	rec, err := s.publicKeys.GetLatest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewPublicKeyNotFoundError(userID)
	}

	publicKey, err := base64.StdEncoding.DecodeString(rec.PublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key for user %s: %w", userID, err)
	}

	return publicKey, nil
}
