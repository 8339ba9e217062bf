package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountmover/accountmover/cloud"
)

func int64Ptr(v int64) *int64 { return &v }

func TestRemapPermissions(t *testing.T) {
	groupMap := map[string]string{
		"sg-web": "sg-target-web",
		"sg-db":  "sg-target-db",
	}
	perms := []cloud.IPPermission{
		{
			Protocol:   "tcp",
			FromPort:   int64Ptr(443),
			ToPort:     int64Ptr(443),
			CIDRBlocks: []string{"0.0.0.0/0"},
		},
		{
			Protocol: "tcp",
			FromPort: int64Ptr(5432),
			ToPort:   int64Ptr(5432),
			GroupPairs: []cloud.GroupPair{
				{GroupID: "sg-web", UserID: "111122223333", Description: "app tier"},
				{GroupID: "sg-external", UserID: "999988887777"},
			},
		},
		{
			Protocol:   "-1",
			GroupPairs: []cloud.GroupPair{{GroupID: "sg-external"}, {GroupID: "sg-db"}},
		},
	}

	remapped, unmapped := RemapPermissions(perms, groupMap)
	require.Len(t, remapped, 3)

	assert.Equal(t, []string{"0.0.0.0/0"}, remapped[0].CIDRBlocks)
	assert.Empty(t, remapped[0].GroupPairs)

	require.Len(t, remapped[1].GroupPairs, 2)
	assert.Equal(t, "sg-target-web", remapped[1].GroupPairs[0].GroupID)
	assert.Empty(t, remapped[1].GroupPairs[0].UserID, "remapped pairs live in the caller's own account")
	assert.Equal(t, "app tier", remapped[1].GroupPairs[0].Description)
	assert.Equal(t, cloud.GroupPair{GroupID: "sg-external", UserID: "999988887777"}, remapped[1].GroupPairs[1],
		"unmapped pairs are preserved verbatim")

	assert.Equal(t, "sg-target-db", remapped[2].GroupPairs[1].GroupID)

	// sg-external appears twice but is reported once.
	assert.Equal(t, []string{"sg-external"}, unmapped)
}

func TestRemapPermissionsDoesNotMutateInput(t *testing.T) {
	perms := []cloud.IPPermission{{
		Protocol:   "tcp",
		GroupPairs: []cloud.GroupPair{{GroupID: "sg-a", UserID: "111122223333"}},
	}}
	_, _ = RemapPermissions(perms, map[string]string{"sg-a": "sg-b"})
	assert.Equal(t, "sg-a", perms[0].GroupPairs[0].GroupID)
	assert.Equal(t, "111122223333", perms[0].GroupPairs[0].UserID)
}
