package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cipherglass/cipherglass/ccc/logging"
	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/keywrap"
)

type GrantService interface {
	// CreateEntityKey generates a fresh symmetric data key for the entity
	// and self-grants it to the owner
	CreateEntityKey(ctx context.Context, entityID string, owner *KeyPair) ([]byte, error)
	// GrantKey wraps the entity's data key for the grantee and stores the
	// grant, replacing any previous grant for the same recipient
	GrantKey(ctx context.Context, entityID string, dataKey []byte, grantor *KeyPair, granteeUserID string) (*RoomKeyGrant, error)
	// UnwrapGrant recovers the entity's data key from the grantee's stored
	// grant
	UnwrapGrant(ctx context.Context, entityID string, grantee *KeyPair) ([]byte, error)
}

type grantService struct {
	logger     logging.Logger
	grants     GrantRepository
	identities Service
}

func NewGrantService(logger logging.Logger, grants GrantRepository, identities Service) *grantService {

	if logger == nil {
		logger = logging.NopLogger
	}

	return &grantService{
		logger:     logger,
		grants:     grants,
		identities: identities,
	}
}

func (s *grantService) CreateEntityKey(ctx context.Context, entityID string, owner *KeyPair) ([]byte, error) {
	s.logger.Info("Creating entity data key", "entityId", entityID, "owner", owner.UserID)

	dataKey, err := encryption.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate entity data key: %w", err)
	}

	// Self-grant so the owner can recover the key through the same path as
	// every other member.
	if _, err := s.GrantKey(ctx, entityID, dataKey, owner, owner.UserID); err != nil {
		return nil, err
	}

	return dataKey, nil
}

func (s *grantService) GrantKey(ctx context.Context, entityID string, dataKey []byte, grantor *KeyPair, granteeUserID string) (*RoomKeyGrant, error) {
	s.logger.Info("Granting entity key", "entityId", entityID, "grantor", grantor.UserID, "grantee", granteeUserID)

	granteePublic, err := s.granteePublicKey(ctx, grantor, granteeUserID)
	if err != nil {
		return nil, err
	}

	env, err := keywrap.Wrap(dataKey, grantor.SecretKey, granteePublic, keywrap.Context{
		EntityID:    entityID,
		SenderID:    grantor.UserID,
		RecipientID: granteeUserID,
	})
	if err != nil {
		s.logger.Error("Failed to wrap entity key", "entityId", entityID, "grantee", granteeUserID, "error", err)
		return nil, fmt.Errorf("failed to wrap entity key: %w", err)
	}

	grant := &RoomKeyGrant{
		ID:            uuid.NewString(),
		EntityID:      entityID,
		GranteeUserID: granteeUserID,
		GrantorUserID: grantor.UserID,
		Envelope:      env,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.grants.Replace(ctx, grant); err != nil {
		return nil, err
	}

	return grant, nil
}

// granteePublicKey resolves the recipient's public half, avoiding a lookup
// for self-grants where the grantor already holds it.
func (s *grantService) granteePublicKey(ctx context.Context, grantor *KeyPair, granteeUserID string) ([]byte, error) {
	if granteeUserID == grantor.UserID {
		return grantor.PublicKey, nil
	}
	return s.identities.LoadPeerPublicKey(ctx, granteeUserID)
}

func (s *grantService) UnwrapGrant(ctx context.Context, entityID string, grantee *KeyPair) ([]byte, error) {
	grant, err := s.grants.Get(ctx, entityID, grantee.UserID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, NewGrantNotFoundError(entityID, grantee.UserID)
	}

	grantorPublic, err := s.grantorPublicKey(ctx, grantee, grant.GrantorUserID)
	if err != nil {
		return nil, err
	}

	dataKey, err := keywrap.Unwrap(grant.Envelope, grantee.SecretKey, grantorPublic, keywrap.Context{
		EntityID:    entityID,
		SenderID:    grant.GrantorUserID,
		RecipientID: grantee.UserID,
	})
	if err != nil {
		s.logger.Error("Failed to unwrap entity key", "entityId", entityID, "grantee", grantee.UserID, "error", err)
		return nil, err
	}

	return dataKey, nil
}

func (s *grantService) grantorPublicKey(ctx context.Context, grantee *KeyPair, grantorUserID string) ([]byte, error) {
	if grantorUserID == grantee.UserID {
		return grantee.PublicKey, nil
	}
	return s.identities.LoadPeerPublicKey(ctx, grantorUserID)
}
