package mutations

import "fmt"

// ConfigurationError indicates a mutation call was malformed, e.g. neither
// an object nor plaintext bytes were supplied. It is always surfaced to the
// caller synchronously, before any row is written.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid mutation: %s", e.Message)
}

// RowNotFoundError indicates an update or delete addressed a row that does
// not exist for the writer's owner.
type RowNotFoundError struct {
	Table string
	ID    string
}

func (e *RowNotFoundError) Error() string {
	return fmt.Sprintf("no row with id %s in %s for this owner", e.ID, e.Table)
}

// helper functions for error handling
func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}
func IsRowNotFoundError(err error) bool {
	_, ok := err.(*RowNotFoundError)
	return ok
}

// factory functions for mutation-related errors
func NewConfigurationError(message string) error {
	return &ConfigurationError{Message: message}
}
func NewRowNotFoundError(table, id string) error {
	return &RowNotFoundError{Table: table, ID: id}
}
