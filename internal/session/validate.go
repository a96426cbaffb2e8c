package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.wamcp/sessions, so the
// accepted alphabet is deliberately narrow.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot safely serve as a session
// directory: only lowercase letters, digits, hyphen and underscore, at
// most 64 characters.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
