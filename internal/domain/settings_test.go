package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeGuildSettingsShapes(t *testing.T) {
	cases := map[string]struct {
		raw       string
		admin     []RoleRef
		moderator []RoleRef
	}{
		"empty blob":     {raw: ``, admin: []RoleRef{}, moderator: []RoleRef{}},
		"legacy strings": {raw: `{"roles":{"admin":["1","2"]}}`, admin: []RoleRef{{ID: "1"}, {ID: "2"}}, moderator: []RoleRef{}},
		"current objects": {
			raw:       `{"roles":{"admin":[{"id":"1","name":"Admin"}],"moderator":[{"id":"3","name":"Mod"}]},"schemaVersion":2}`,
			admin:     []RoleRef{{ID: "1", Name: "Admin"}},
			moderator: []RoleRef{{ID: "3", Name: "Mod"}},
		},
		"mixed and blanks": {raw: `{"roles":{"admin":["1",{"id":"2"},"",null,{"id":" "}]}}`, admin: []RoleRef{{ID: "1"}, {ID: "2"}}, moderator: []RoleRef{}},
		"null roles":       {raw: `{"roles":null}`, admin: []RoleRef{}, moderator: []RoleRef{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeGuildSettings("g1", []byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, "g1", got.GuildID)
			require.Equal(t, tc.admin, got.Roles.Admin)
			require.Equal(t, tc.moderator, got.Roles.Moderator)
		})
	}
}

func TestDecodeGuildSettingsRejectsGarbage(t *testing.T) {
	_, err := DecodeGuildSettings("g1", []byte(`{"roles":{"admin":"nope"}}`))
	require.Error(t, err)
}

func TestEncodeGuildSettingsUpgradesLegacy(t *testing.T) {
	legacy, err := DecodeGuildSettings("g1", []byte(`{"roles":{"admin":["1"],"streamer":["9"]},"schemaVersion":1}`))
	require.NoError(t, err)

	blob, err := EncodeGuildSettings(legacy)
	require.NoError(t, err)
	require.JSONEq(t, `{"roles":{"admin":[{"id":"1","name":""}],"moderator":[],"streamer":["9"]},"schemaVersion":2}`, string(blob))

	var again GuildSettings
	again, err = DecodeGuildSettings("g1", blob)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, again.AdminRoleIDs())
	require.True(t, json.Valid(blob))
}
