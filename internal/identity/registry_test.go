package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demandline/internal/domain"
	"demandline/internal/identity"
)

func smallRegistry(t *testing.T) *identity.Registry {
	t.Helper()
	reg, err := identity.New([]domain.Identity{
		{ID: "1", Name: "Leader Joan", Role: domain.RoleLeader},
		{ID: "2", Name: "Maria", Role: domain.RoleCollaborator},
		{ID: "3", Name: "Pedro", Role: domain.RoleCollaborator},
	})
	require.NoError(t, err)
	return reg
}

func TestResolveAndRoles(t *testing.T) {
	reg := smallRegistry(t)
	name, err := reg.Resolve("2")
	require.NoError(t, err)
	assert.Equal(t, "Maria", name)

	_, err = reg.Resolve("99")
	require.ErrorIs(t, err, identity.ErrUnknownIdentity)

	assert.True(t, reg.IsLeader("1"))
	assert.False(t, reg.IsLeader("2"))
	assert.False(t, reg.IsLeader("99"))

	leader, err := reg.DefaultLeader()
	require.NoError(t, err)
	assert.Equal(t, "1", leader.ID)
}

func TestIdentitiesKeepOrder(t *testing.T) {
	reg := smallRegistry(t)
	ids := []string{}
	for _, it := range reg.Identities() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	got, err := reg.FindByName("pedro")
	require.NoError(t, err)
	assert.Equal(t, "3", got.ID)
}

func TestNewRejectsBadRegistries(t *testing.T) {
	cases := map[string][]domain.Identity{
		"duplicate": {
			{ID: "1", Name: "A", Role: domain.RoleLeader},
			{ID: "1", Name: "B", Role: domain.RoleCollaborator},
		},
		"no leader": {
			{ID: "1", Name: "A", Role: domain.RoleCollaborator},
		},
		"empty name": {
			{ID: "1", Name: " ", Role: domain.RoleLeader},
		},
		"bad role": {
			{ID: "1", Name: "A", Role: "boss"},
		},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := identity.New(items)
			assert.Error(t, err)
		})
	}
}
