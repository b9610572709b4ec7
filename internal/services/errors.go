package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIngest            = errors.New("ingest rejected")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("timeout")
	ErrTransientDispatch = errors.New("transient dispatch failure")
	ErrPermanentDispatch = errors.New("permanent dispatch failure")
	ErrStateCorruption   = errors.New("state corruption")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientDispatch
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ShouldRetryDispatch reports whether a delivery failure should be retried.
// Permanent failures are final; everything else, including timeouts and
// unclassified errors, is treated as transient.
func ShouldRetryDispatch(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanentDispatch)
}

// IsCorruption reports whether an error indicates persisted state that no
// longer satisfies the tier ladder's invariants.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrStateCorruption)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
