package identity

import "fmt"

// GrantNotFoundError indicates no wrapped key exists for the requested
// entity and grantee.
type GrantNotFoundError struct {
	EntityID      string
	GranteeUserID string
}

func (e *GrantNotFoundError) Error() string {
	return fmt.Sprintf("no key grant for entity %s and user %s", e.EntityID, e.GranteeUserID)
}

// PublicKeyNotFoundError indicates a user has no published identity key.
type PublicKeyNotFoundError struct {
	UserID string
}

func (e *PublicKeyNotFoundError) Error() string {
	return fmt.Sprintf("no published identity key for user %s", e.UserID)
}

// helper functions for error handling
func IsGrantNotFoundError(err error) bool {
	_, ok := err.(*GrantNotFoundError)
	return ok
}
func IsPublicKeyNotFoundError(err error) bool {
	_, ok := err.(*PublicKeyNotFoundError)
	return ok
}

// factory functions for identity-related errors
func NewGrantNotFoundError(entityID, granteeUserID string) error {
	return &GrantNotFoundError{EntityID: entityID, GranteeUserID: granteeUserID}
}
func NewPublicKeyNotFoundError(userID string) error {
	return &PublicKeyNotFoundError{UserID: userID}
}
