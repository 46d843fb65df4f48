package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SettingsSchemaVersion is written on every settings upsert.
const SettingsSchemaVersion = 2

// SettingsOwnerGuild is the owner type used for guild settings rows.
const SettingsOwnerGuild = "guild"

// RoleRef names a Discord role by snowflake ID.
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GuildRoles lists the roles that grant elevated access in a guild.
type GuildRoles struct {
	Admin     []RoleRef
	Moderator []RoleRef
	// Other keeps role categories this service does not interpret.
	Other map[string]json.RawMessage
}

// GuildSettings is the canonical in-memory form of a guild's settings blob.
type GuildSettings struct {
	GuildID       string
	Roles         GuildRoles
	SchemaVersion int
}

// AdminRoleIDs returns the configured admin role IDs.
func (s GuildSettings) AdminRoleIDs() []string {
	return roleIDs(s.Roles.Admin)
}

// ModeratorRoleIDs returns the configured moderator role IDs.
func (s GuildSettings) ModeratorRoleIDs() []string {
	return roleIDs(s.Roles.Moderator)
}

// HasAdminRoles reports whether any admin role is configured.
func (s GuildSettings) HasAdminRoles() bool {
	return len(s.AdminRoleIDs()) > 0
}

// DefaultGuildSettings is stored the first time a guild's settings are read.
func DefaultGuildSettings(guildID string) GuildSettings {
	return GuildSettings{
		GuildID:       guildID,
		Roles:         GuildRoles{Admin: []RoleRef{}, Moderator: []RoleRef{}},
		SchemaVersion: SettingsSchemaVersion,
	}
}

type settingsDocument struct {
	Roles         rolesDocument `json:"roles"`
	SchemaVersion int           `json:"schemaVersion"`
}

type rolesDocument struct {
	Admin     roleList                   `json:"admin"`
	Moderator roleList                   `json:"moderator"`
	Other     map[string]json.RawMessage `json:"-"`
}

// roleList decodes either the legacy ["<id>", ...] shape or the current
// [{"id": "<id>", "name": "<name>"}, ...] shape into RoleRefs.
type roleList []RoleRef

func (l *roleList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("role list: %w", err)
	}
	out := make(roleList, 0, len(items))
	for _, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		if trimmed[0] == '"' {
			var id string
			if err := json.Unmarshal(trimmed, &id); err != nil {
				return fmt.Errorf("legacy role id: %w", err)
			}
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, RoleRef{ID: id})
			}
			continue
		}
		var ref RoleRef
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return fmt.Errorf("role ref: %w", err)
		}
		ref.ID = strings.TrimSpace(ref.ID)
		if ref.ID != "" {
			out = append(out, ref)
		}
	}
	*l = out
	return nil
}

func (d *rolesDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("roles: %w", err)
	}
	for key, value := range raw {
		switch key {
		case "admin":
			if err := d.Admin.UnmarshalJSON(value); err != nil {
				return err
			}
		case "moderator":
			if err := d.Moderator.UnmarshalJSON(value); err != nil {
				return err
			}
		default:
			if d.Other == nil {
				d.Other = make(map[string]json.RawMessage)
			}
			d.Other[key] = value
		}
	}
	return nil
}

func (d rolesDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Other)+2)
	for key, value := range d.Other {
		out[key] = value
	}
	out["admin"] = nonNilRefs(d.Admin)
	out["moderator"] = nonNilRefs(d.Moderator)
	return json.Marshal(out)
}

// DecodeGuildSettings parses a stored settings blob, normalizing legacy role lists.
// An empty blob yields the defaults.
func DecodeGuildSettings(guildID string, raw []byte) (GuildSettings, error) {
	settings := DefaultGuildSettings(guildID)
	if len(bytes.TrimSpace(raw)) == 0 {
		return settings, nil
	}
	var doc settingsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return GuildSettings{}, fmt.Errorf("decode guild settings: %w", err)
	}
	settings.Roles.Admin = nonNilRefs(doc.Roles.Admin)
	settings.Roles.Moderator = nonNilRefs(doc.Roles.Moderator)
	settings.Roles.Other = doc.Roles.Other
	settings.SchemaVersion = doc.SchemaVersion
	return settings, nil
}

// EncodeGuildSettings serializes settings in the current schema.
func EncodeGuildSettings(settings GuildSettings) ([]byte, error) {
	doc := settingsDocument{
		Roles: rolesDocument{
			Admin:     roleList(settings.Roles.Admin),
			Moderator: roleList(settings.Roles.Moderator),
			Other:     settings.Roles.Other,
		},
		SchemaVersion: SettingsSchemaVersion,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode guild settings: %w", err)
	}
	return payload, nil
}

func roleIDs(refs []RoleRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if id := strings.TrimSpace(ref.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func nonNilRefs[T ~[]RoleRef](refs T) []RoleRef {
	if refs == nil {
		return []RoleRef{}
	}
	return []RoleRef(refs)
}
