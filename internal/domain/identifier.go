package domain

import (
	"errors"
	"strings"
)

// ErrInvalidIdentifier indicates a product or order identifier is not a
// well-formed 24-character hex object identifier.
var ErrInvalidIdentifier = errors.New("domain: invalid identifier")

const identifierLength = 24

// ValidateIdentifier checks the canonical identifier format used by the
// catalog and order services. It is the single place identifier syntax is
// enforced; callers validate once at the boundary instead of re-deriving
// the rule at every call site.
func ValidateIdentifier(id string) error {
	trimmed := strings.TrimSpace(id)
	if len(trimmed) != identifierLength {
		return ErrInvalidIdentifier
	}
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return ErrInvalidIdentifier
		}
	}
	return nil
}
