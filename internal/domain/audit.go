package domain

import "time"

// AuditResult is the outcome recorded for an access decision.
type AuditResult string

const (
	AuditAllowed AuditResult = "allowed"
	AuditDenied  AuditResult = "denied"
)

// Audit actions.
const (
	AuditActionGuildAdminCheck       = "guild_admin_check"
	AuditActionGuildAdminAccessCheck = "guild_admin_access_check"
	AuditActionGuildModeratorCheck   = "guild_moderator_check"
	AuditActionSystemAdminCheck      = "system_admin_check"
	AuditActionSettingsRolesUpdate   = "settings_roles_update"
)

// AuditRecord is one append-only entry in the access-decision log.
type AuditRecord struct {
	ID        int64
	UserID    string
	GuildID   *string
	Action    string
	Resource  string
	Result    AuditResult
	Metadata  map[string]any
	Timestamp time.Time
}

// Reason returns metadata["reason"] when it is a string.
func (r AuditRecord) Reason() string {
	if r.Metadata == nil {
		return ""
	}
	reason, _ := r.Metadata["reason"].(string)
	return reason
}
