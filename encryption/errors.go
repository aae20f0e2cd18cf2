package encryption

import "fmt"

// DecryptionError indicates that an envelope could not be opened: the tag
// check failed, the key was wrong, or the associated data did not match.
// It deliberately carries no detail about the failed ciphertext.
type DecryptionError struct {
}

func (e *DecryptionError) Error() string {
	return "decryption failed"
}

// UnsupportedAlgorithmError indicates an envelope carried an algorithm
// identifier the provider does not implement.
type UnsupportedAlgorithmError struct {
	Alg string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported envelope algorithm: %s", e.Alg)
}

// helper functions for error handling
func IsDecryptionError(err error) bool {
	_, ok := err.(*DecryptionError)
	return ok
}
func IsUnsupportedAlgorithmError(err error) bool {
	_, ok := err.(*UnsupportedAlgorithmError)
	return ok
}

// factory functions for envelope-related errors
func NewDecryptionError() error {
	return &DecryptionError{}
}
func NewUnsupportedAlgorithmError(alg string) error {
	return &UnsupportedAlgorithmError{Alg: alg}
}
