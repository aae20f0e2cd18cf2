package mirrors

import "fmt"

// KeyUnavailableError indicates the crypto-resolution hook yielded no
// usable capability for a row. Always recoverable; the row is retried with
// backoff until a key appears or the attempt ceiling is reached.
type KeyUnavailableError struct {
	RowID string
}

func (e *KeyUnavailableError) Error() string {
	return fmt.Sprintf("no decryption key available for row %s", e.RowID)
}

// helper functions for error handling
func IsKeyUnavailableError(err error) bool {
	_, ok := err.(*KeyUnavailableError)
	return ok
}

// factory functions for replication errors
func NewKeyUnavailableError(rowID string) error {
	return &KeyUnavailableError{RowID: rowID}
}
