package domain

import "time"

// User is a Discord account that has signed in at least once. ID is the Discord snowflake.
type User struct {
	ID         string
	Username   string
	GlobalName string
	Avatar     string
	Email      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName prefers the global display name over the account username.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// UserPatch carries the profile fields refreshed on every login.
type UserPatch struct {
	Username   string
	GlobalName string
	Avatar     string
	Email      string
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID     string
	Username   string
	GlobalName string
	Avatar     string
	Email      string
	GuildIDs   []string
}
