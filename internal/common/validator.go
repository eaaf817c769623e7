package common

import (
	"errors"
	"regexp"
	"strings"
)

var languageCodeRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateLanguageCode checks that the language code can be used as a single directory segment.
// It rejects separators, traversal segments and anything outside letters, digits, '-', '_' and '.'.
func ValidateLanguageCode(code string) error {

	if code == "" {
		return errors.New("invalid language code, empty")
	}

	if code == "." || code == ".." || strings.Contains(code, "..") {
		return errors.New("invalid language code, path traversal")
	}

	if !languageCodeRE.MatchString(code) {
		return errors.New("invalid language code, only letters, digits, '-', '_' and '.' are allowed")
	}

	return nil
}

// ValidateReleaseIdentifier checks the release identifier is not blank and cannot be mistaken for a flag
// by the download command.
func ValidateReleaseIdentifier(release string) error {
	if strings.TrimSpace(release) == "" {
		return errors.New("invalid release identifier, empty")
	}

	if strings.HasPrefix(release, "-") {
		return errors.New("invalid release identifier, starts with '-'")
	}

	return nil
}
