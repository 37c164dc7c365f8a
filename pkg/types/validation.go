package types

import (
	"regexp"
	"unicode"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// since machine names are checked on every robot registration and login
var machineNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateMachineName checks a robot machine name.
func ValidateMachineName(name string) error {
	if len(name) < 1 || len(name) > 50 || !machineNameRegex.MatchString(name) {
		return ErrInvalidMachineName
	}
	return nil
}

// ValidateName checks a user or friendly name. Display names allow spaces and
// any printable character but are length limited so they render in monitors.
func ValidateName(name string) error {
	if len(name) < 1 || len(name) > 100 {
		return ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrInvalidName
		}
	}
	return nil
}
