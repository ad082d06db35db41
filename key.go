package idempotency

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// KeyValidator checks a client-supplied idempotency key after it has been
// trimmed and found non-blank. Return a *KeyFormatError (or any error) to
// reject the key; adapters turn the rejection into a 400.
type KeyValidator func(key string) error

// Key length bounds enforced by PatternValidator-based validators.
const (
	KeyMinLength = 1
	KeyMaxLength = 255
)

var defaultKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

// PatternValidator returns a KeyValidator enforcing length bounds and a
// character pattern. A nil pattern falls back to alphanumerics plus
// hyphen, underscore, and colon.
func PatternValidator(minLen, maxLen int, pattern *regexp.Regexp) KeyValidator {
	if pattern == nil {
		pattern = defaultKeyPattern
	}
	return func(key string) error {
		if len(key) < minLen || len(key) > maxLen {
			return &KeyFormatError{
				Key:    key,
				Reason: fmt.Sprintf("length must be between %d and %d characters", minLen, maxLen),
			}
		}
		if !pattern.MatchString(key) {
			return &KeyFormatError{Key: key, Reason: "contains characters outside the allowed set"}
		}
		return nil
	}
}

// UUIDValidator accepts only keys that parse as UUIDs. Use it when clients
// are instructed to send RFC 4122 identifiers and anything else should be
// rejected outright.
func UUIDValidator() KeyValidator {
	return func(key string) error {
		if _, err := uuid.Parse(key); err != nil {
			return &KeyFormatError{Key: key, Reason: "not a valid UUID"}
		}
		return nil
	}
}

// GenerateKey generates a fresh idempotency key with the given prefix.
// If prefix is empty, "idem_" is used as the default prefix.
//
// The generated key format is: prefix + UUID v4 without hyphens (32 hex chars)
// Example: "idem_7d5d747be160e280504c099d984bcfe0"
func GenerateKey(prefix string) string {
	if prefix == "" {
		prefix = "idem_"
	}
	uuidStr := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + uuidStr
}

// keyFromHeader extracts the idempotency key from h.
//
// Returns:
//   - "", nil when the header is absent (no idempotency requested)
//   - "", ErrBlankKey when the header is present but blank
//   - "", *KeyFormatError when the configured validator rejects the key
//   - the trimmed key otherwise
func keyFromHeader(h http.Header, name string, validate KeyValidator) (string, error) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", nil
	}
	key := strings.TrimSpace(values[0])
	if key == "" {
		return "", ErrBlankKey
	}
	if validate != nil {
		if err := validate(key); err != nil {
			return "", err
		}
	}
	return key, nil
}
