package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"Admin":    RoleAdmin,
		" teacher": RoleTeacher,
		"Faculty":  RoleTeacher,
		"Learner":  RoleLearner,
		"STUDENT":  RoleLearner,
	}
	for raw, want := range cases {
		got, err := ParseRole(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseRole("janitor")
	assert.Error(t, err)
}

func TestRoleValid(t *testing.T) {
	for _, r := range Roles {
		assert.True(t, r.Valid())
	}
	assert.False(t, Role("ADMIN").Valid())
	assert.False(t, Role("").Valid())
}

func TestProfileFullName(t *testing.T) {
	assert.Equal(t, "Asha Rao", Profile{FirstName: "Asha", LastName: "Rao"}.FullName())
	assert.Equal(t, "Asha", Profile{FirstName: "Asha"}.FullName())
}
