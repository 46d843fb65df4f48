package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrGuildNotFound    = fmt.Errorf("guild %w", ErrNotFound)
	ErrForbidden        = errors.New("forbidden")
	ErrNotAMember       = fmt.Errorf("%w: user is not a member of this guild", ErrForbidden)
	ErrNoAdminAccess    = fmt.Errorf("%w: user does not have admin access", ErrForbidden)
	ErrNoModerator      = fmt.Errorf("%w: user does not have moderator access", ErrForbidden)
	ErrNotSystemAdmin   = fmt.Errorf("%w: system admin access required", ErrForbidden)
	ErrTokenUnavailable = errors.New("discord token unavailable")
	ErrPermissionCheck  = fmt.Errorf("%w: error checking permissions", ErrForbidden)
	ErrInvalidInput     = errors.New("invalid input")
)
