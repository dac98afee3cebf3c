package eventstream

import (
	"fmt"
	"strings"
	"unicode"
)

// SystemStreamPrefix marks streams owned by the store itself.
const SystemStreamPrefix = "$"

// ValidateStreamName reports whether name can be used for a user stream. A
// name must be non-empty, must not start with SystemStreamPrefix and must not
// contain whitespace or control characters.
func ValidateStreamName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidStreamName)
	}
	if strings.HasPrefix(name, SystemStreamPrefix) {
		return fmt.Errorf("%q is a system stream: %w", name, ErrInvalidStreamName)
	}
	if i := strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return fmt.Errorf("%q has a blank or control character at %d: %w", name, i, ErrInvalidStreamName)
	}
	return nil
}
