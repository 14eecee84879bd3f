package clinics

import (
	"fmt"
	"regexp"
	"strings"
)

var clinicIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// reserved IDs collide with API path segments
var reservedIDs = map[string]bool{
	"health":   true,
	"metrics":  true,
	"evaluate": true,
	"stages":   true,
	"new":      true,
}

// ValidateClinicID checks a clinic identifier: 1-64 characters of lowercase
// letters, digits, '-' or '_', not starting with a separator.
func ValidateClinicID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("identifier length %d exceeds maximum of 64 characters", len(id))
	}
	if !clinicIDPattern.MatchString(id) {
		return fmt.Errorf("identifier %q must match pattern %s", id, clinicIDPattern)
	}
	if reservedIDs[id] {
		return fmt.Errorf("cannot use reserved word %q as identifier", id)
	}
	return nil
}

// ValidateClinicName checks a display name
func ValidateClinicName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name %q has leading or trailing whitespace", name)
	}
	if len(name) > 200 {
		return fmt.Errorf("name length %d exceeds maximum of 200 characters", len(name))
	}
	return nil
}
