package results

import (
	"fmt"
	"regexp"
	"strings"
)

const maxRunIDLength = 128

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateRunID checks that id is usable as a single path segment.
func ValidateRunID(id string) error {
	if id == "" || id == "." || id == ".." ||
		len(id) > maxRunIDLength || !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}

	return nil
}

// SanitizeRunID maps arbitrary text, such as an upload file name, onto a
// valid run id. It returns "" when nothing usable remains.
func SanitizeRunID(s string) string {
	var b strings.Builder

	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	id := strings.Trim(b.String(), "._")
	if len(id) > maxRunIDLength {
		id = id[:maxRunIDLength]
	}

	if ValidateRunID(id) != nil {
		return ""
	}

	return id
}
