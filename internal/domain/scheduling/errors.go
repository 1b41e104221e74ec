package scheduling

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Concrete errors wrap one of these with
// a message fit for display.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage failure")
)

// ErrCorruptTemplate is returned when a template's stored entries cannot be
// decoded. It is a NotFound from the caller's point of view.
var ErrCorruptTemplate = fmt.Errorf("%w: template data is missing or corrupt", ErrNotFound)

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr classifies an error coming back from a repository. Domain
// errors pass through untouched; anything else becomes a StorageFailure.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrStorage} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Message strips the kind prefix so the text can be shown to a user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrValidation} {
		prefix := kind.Error() + ": "
		if errors.Is(err, kind) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	if errors.Is(err, ErrStorage) {
		return "the schedule store is unavailable, please try again"
	}
	return msg
}
