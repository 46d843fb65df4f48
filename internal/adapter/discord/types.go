package discord

// UserProfile is the subset of GET /users/@me used for login.
type UserProfile struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Avatar     *string `json:"avatar"`
	Email      *string `json:"email"`
}

// PartialGuild is an entry of GET /users/@me/guilds.
type PartialGuild struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Icon        *string `json:"icon"`
	Owner       bool    `json:"owner"`
	Permissions string  `json:"permissions"`
}

// GuildMember is the caller's member object in one guild.
type GuildMember struct {
	Roles []string `json:"roles"`
	Nick  *string  `json:"nick"`
}

// Role is a guild role as returned by GET /guilds/{id}/roles.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
}

// PermissionCheck summarizes the caller's standing in a guild.
type PermissionCheck struct {
	IsMember         bool
	Permissions      string
	Roles            []string
	HasAdministrator bool
}
