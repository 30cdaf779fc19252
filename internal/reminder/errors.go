package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no reminder has the requested id.
	ErrNotFound = errors.New("reminder not found")

	// ErrStatusConflict is returned by conditional status writes when the
	// stored status no longer matches the expected one.
	ErrStatusConflict = errors.New("reminder status changed concurrently")
)

// ValidationError reports the first invalid field of a create or update.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
