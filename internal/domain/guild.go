package domain

import "time"

// Guild is a Discord server the bot has joined.
type Guild struct {
	ID        string
	Name      string
	Icon      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GuildMembership caches a user's membership and role IDs in a guild.
type GuildMembership struct {
	UserID   string
	GuildID  string
	Roles    []string
	JoinedAt time.Time
}

// League belongs to exactly one guild and reuses its memberships and settings.
type League struct {
	ID      string
	GuildID string
	Name    string
}

// Organization groups teams inside a league and resolves to the league's guild.
type Organization struct {
	ID       string
	GuildID  string
	LeagueID string
	Name     string
}

// Tracker is a user-owned resource. Only the owner may delete it.
type Tracker struct {
	ID          string
	OwnerUserID string
	Name        string
	CreatedAt   time.Time
}
