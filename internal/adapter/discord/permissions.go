package discord

import (
	"strconv"
	"strings"
)

const (
	// PermissionAdministrator is the ADMINISTRATOR bit of a Discord permission bitfield.
	PermissionAdministrator uint64 = 0x8
	// legacyAllPermissions is the value older clients report for full access.
	legacyAllPermissions uint64 = 0x80000000

	administratorMarker = "ADMINISTRATOR"
)

// HasAdministrator reports whether a permission set grants administrator. It
// accepts a decimal bitfield or a list of permission names.
func HasAdministrator(permissions string) bool {
	trimmed := strings.TrimSpace(permissions)
	if trimmed == "" {
		return false
	}
	if strings.Contains(strings.ToUpper(trimmed), administratorMarker) {
		return true
	}
	bits, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return false
	}
	return bits&PermissionAdministrator != 0 || bits == legacyAllPermissions
}
