package membership_test

import (
	"errors"
	"testing"
	"time"

	"github.com/couchbase/stellar-distributed/common/membership"
	"github.com/couchbase/stellar-distributed/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireSchemaError(t *testing.T, err error, member, field string) {
	t.Helper()

	require.Error(t, err)
	require.True(t, errors.Is(err, membership.ErrSchema), "expected schema error, got %v", err)

	var schemaErr *membership.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, member, schemaErr.Member)
	assert.Equal(t, field, schemaErr.Field)
}

func TestBuildThreeMembers(t *testing.T) {
	desc := testutils.NewDescriptor(3, 1)

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	assert.Equal(t, desc.GroupName, snap.GroupName())
	assert.Equal(t, 3, snap.RequiredCount())
	assert.Equal(t, "1", snap.SelfID())
	assert.Equal(t, 3, snap.Len())

	me, err := snap.Me()
	require.NoError(t, err)
	assert.Equal(t, 1, me.Rank())
	assert.Equal(t, "1", me.ID())

	master, err := snap.Master()
	require.NoError(t, err)
	assert.Equal(t, 0, master.Rank())
	assert.True(t, master.IsMaster())
	assert.False(t, me.IsMaster())

	members := snap.Members()
	require.Len(t, members, 3)
	for rank, m := range members {
		assert.Equal(t, rank, m.Rank())
	}

	// me is the very same member as the one in the list
	assert.Same(t, members[1], me)

	require.NoError(t, snap.CheckComplete())
}

func TestBuildMemberFields(t *testing.T) {
	desc := testutils.NewDescriptor(2, 0)
	desc.Members[1].ExposedPorts = map[string]interface{}{
		"8080": 31080,
		"22":   "34.88.1.101:30022",
	}
	desc.Members[1].LocalIPs = []string{"10.0.16.21", "172.17.0.2"}

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	m, err := snap.MemberByID("1")
	require.NoError(t, err)

	assert.Equal(t, desc.Members[1].Identity, m.Identity())
	assert.Equal(t, time.Date(2022, 5, 11, 8, 30, 1, 0, time.UTC), m.AnnounceTime().UTC())
	assert.Equal(t, []string{"10.0.16.21", "172.17.0.2"}, m.LocalIPs())
	assert.Equal(t, []string{"34.88.1.101"}, m.PublicIPs())
	assert.Equal(t, map[string]string{
		"8080": "31080",
		"22":   "34.88.1.101:30022",
	}, m.ExposedPorts())
}

func TestBuildSelfOrderIndependent(t *testing.T) {
	desc := testutils.NewDescriptor(3, 2)
	desc.Members[0], desc.Members[2] = desc.Members[2], desc.Members[0]

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	var ids []string
	for _, m := range snap.Members() {
		ids = append(ids, m.ID())
	}
	assert.Equal(t, []string{"0", "1", "2"}, ids)

	me, err := snap.Me()
	require.NoError(t, err)
	assert.Equal(t, 2, me.Rank())
}

func TestBuildNamedMembersRankedByAnnounceTime(t *testing.T) {
	desc := testutils.NewDescriptor(3, 0)
	desc.Members[0].MemberID = "worker-c"
	desc.Members[0].AnnounceTime = "2022-05-11T08:30:05Z"
	desc.Members[1].MemberID = "worker-a"
	desc.Members[1].AnnounceTime = "2022-05-11T08:30:09Z"
	desc.Members[2].MemberID = "worker-b"
	desc.Members[2].AnnounceTime = "2022-05-11T08:30:05Z"
	desc.SelfID = "worker-a"

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	master, err := snap.Master()
	require.NoError(t, err)
	assert.Equal(t, "worker-b", master.ID())

	byRank, err := snap.MemberByRank(1)
	require.NoError(t, err)
	assert.Equal(t, "worker-c", byRank.ID())

	me, err := snap.Me()
	require.NoError(t, err)
	assert.Equal(t, 2, me.Rank())
}

func TestBuildMixedIdsAreNotUsedAsRanks(t *testing.T) {
	desc := testutils.NewDescriptor(2, 0)
	desc.Members[1].MemberID = "worker-1"

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	master, err := snap.Master()
	require.NoError(t, err)
	assert.Equal(t, "0", master.ID())

	worker, err := snap.MemberByRank(1)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", worker.ID())
}

func TestBuildMissingLocalIPsNamesMember(t *testing.T) {
	desc := testutils.NewDescriptor(3, 0)
	tree := desc.Tree(t)

	network := testutils.MemberTree(t, tree, 2)["network"].(map[string]interface{})
	delete(network, "local_ips")

	_, err := membership.Build(tree)
	requireSchemaError(t, err, "2", "network.local_ips")
	assert.Contains(t, err.Error(), `member "2"`)
}

func TestBuildMissingMemberFields(t *testing.T) {
	testCases := []struct {
		field    string
		member   string
		errField string
	}{
		{field: "member_id", member: "members[1]", errField: "member_id"},
		{field: "identity", member: "1", errField: "identity"},
		{field: "announce_time", member: "1", errField: "announce_time"},
		{field: "network", member: "1", errField: "network"},
	}

	for _, tc := range testCases {
		t.Run(tc.field, func(t *testing.T) {
			tree := testutils.NewDescriptor(2, 0).Tree(t)
			delete(testutils.MemberTree(t, tree, 1), tc.field)

			_, err := membership.Build(tree)
			requireSchemaError(t, err, tc.member, tc.errField)
		})
	}
}

func TestBuildWrongShapes(t *testing.T) {
	t.Run("PublicIPsNotList", func(t *testing.T) {
		tree := testutils.NewDescriptor(2, 0).Tree(t)
		network := testutils.MemberTree(t, tree, 0)["network"].(map[string]interface{})
		network["public_ips"] = "34.88.1.100"

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "0", "network.public_ips")
	})

	t.Run("LocalIPNotString", func(t *testing.T) {
		tree := testutils.NewDescriptor(2, 0).Tree(t)
		network := testutils.MemberTree(t, tree, 0)["network"].(map[string]interface{})
		network["local_ips"] = []interface{}{float64(10)}

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "0", "network.local_ips")
	})

	t.Run("BadAnnounceTime", func(t *testing.T) {
		desc := testutils.NewDescriptor(2, 0)
		desc.Members[1].AnnounceTime = "yesterday"

		_, err := membership.Build(desc.Tree(t))
		requireSchemaError(t, err, "1", "announce_time")
	})

	t.Run("ExposedPortsNotMapping", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		network := testutils.MemberTree(t, tree, 0)["network"].(map[string]interface{})
		network["exposed_ports"] = []interface{}{"8080"}

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "0", "network.exposed_ports")
	})

	t.Run("MembersNotList", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		tree["members"] = map[string]interface{}{}

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "members")
	})

	t.Run("NoMembers", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		tree["members"] = []interface{}{}

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "members")
	})
}

func TestBuildExposedPortsOptional(t *testing.T) {
	tree := testutils.NewDescriptor(1, 0).Tree(t)
	network := testutils.MemberTree(t, tree, 0)["network"].(map[string]interface{})
	delete(network, "exposed_ports")

	snap, err := membership.Build(tree)
	require.NoError(t, err)

	me, err := snap.Me()
	require.NoError(t, err)
	assert.Empty(t, me.ExposedPorts())
}

func TestBuildGroupIdentity(t *testing.T) {
	t.Run("WrongPrefix", func(t *testing.T) {
		desc := testutils.NewDescriptor(3, 0)
		desc.GroupName = "job-abc"

		_, err := membership.Build(desc.Tree(t))
		requireSchemaError(t, err, "", "config.group_name")
	})

	t.Run("MissingGroupName", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		delete(tree["config"].(map[string]interface{}), "group_name")

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "config.group_name")
	})

	t.Run("MissingRequiredCount", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		delete(tree["config"].(map[string]interface{}), "required_count")

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "config.required_count")
	})

	t.Run("FractionalRequiredCount", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		tree["config"].(map[string]interface{})["required_count"] = 1.5

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "config.required_count")
	})

	t.Run("StringRequiredCount", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		tree["config"].(map[string]interface{})["required_count"] = "3"

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "config.required_count")
	})

	t.Run("ZeroRequiredCount", func(t *testing.T) {
		desc := testutils.NewDescriptor(1, 0)
		desc.RequiredCount = 0

		_, err := membership.Build(desc.Tree(t))
		requireSchemaError(t, err, "", "config.required_count")
	})

	t.Run("MissingConfig", func(t *testing.T) {
		tree := testutils.NewDescriptor(1, 0).Tree(t)
		delete(tree, "config")

		_, err := membership.Build(tree)
		requireSchemaError(t, err, "", "config")
	})

	t.Run("Nil", func(t *testing.T) {
		_, err := membership.Build(nil)
		assert.ErrorIs(t, err, membership.ErrSchema)
	})
}

func TestBuildDuplicateMemberID(t *testing.T) {
	desc := testutils.NewDescriptor(3, 0)
	desc.Members[2].MemberID = "1"

	_, err := membership.Build(desc.Tree(t))
	requireSchemaError(t, err, "1", "member_id")
}

func TestBuildSelfNotInMembers(t *testing.T) {
	desc := testutils.NewDescriptor(2, 0)
	desc.SelfID = "2"

	_, err := membership.Build(desc.Tree(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, membership.ErrInconsistent)
	assert.NotErrorIs(t, err, membership.ErrSchema)

	var consistencyErr *membership.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.Equal(t, "2", consistencyErr.SelfID)
}

func TestBuildSelfDisagreesWithConfig(t *testing.T) {
	tree := testutils.NewDescriptor(2, 0).Tree(t)
	tree["config"].(map[string]interface{})["member_id"] = "1"

	_, err := membership.Build(tree)
	assert.ErrorIs(t, err, membership.ErrInconsistent)
}

func TestBuildConfigMemberIDOptional(t *testing.T) {
	tree := testutils.NewDescriptor(2, 1).Tree(t)
	delete(tree["config"].(map[string]interface{}), "member_id")

	snap, err := membership.Build(tree)
	require.NoError(t, err)
	assert.Equal(t, "1", snap.SelfID())
}

func TestBuildMissingSelf(t *testing.T) {
	tree := testutils.NewDescriptor(2, 1).Tree(t)
	delete(tree, "self")

	_, err := membership.Build(tree)
	requireSchemaError(t, err, "", "self")
}

func TestBuildYAMLShapedTree(t *testing.T) {
	announced := time.Date(2022, 5, 11, 8, 30, 0, 0, time.UTC)
	tree := map[string]interface{}{
		"config": map[string]interface{}{
			"group_name":     "task-0180acd6-c7ad-ca5b-bb1a-00f278d4183c",
			"member_id":      1,
			"required_count": 2,
		},
		"members": []interface{}{
			map[string]interface{}{
				"member_id":     0,
				"identity":      "i-0",
				"announce_time": announced,
				"network": map[interface{}]interface{}{
					"exposed_ports": map[interface{}]interface{}{8080: 31080},
					"local_ips":     []interface{}{"10.0.0.1"},
					"public_ips":    []interface{}{},
				},
			},
			map[string]interface{}{
				"member_id":     1,
				"identity":      "i-1",
				"announce_time": announced,
				"network": map[string]interface{}{
					"local_ips":  []interface{}{"10.0.0.2"},
					"public_ips": []interface{}{},
				},
			},
		},
		"self": map[string]interface{}{
			"member_id": 1,
		},
	}

	snap, err := membership.Build(tree)
	require.NoError(t, err)

	master, err := snap.Master()
	require.NoError(t, err)
	assert.Equal(t, "0", master.ID())

	port, ok := master.ExposedPortInt(8080)
	assert.True(t, ok)
	assert.Equal(t, "31080", port)

	me, err := snap.Me()
	require.NoError(t, err)
	assert.Equal(t, 1, me.Rank())
}

func TestCheckComplete(t *testing.T) {
	t.Run("MissingMember", func(t *testing.T) {
		desc := testutils.NewDescriptor(3, 0)
		desc.Members = desc.Members[:2]

		snap, err := membership.Build(desc.Tree(t))
		require.NoError(t, err)

		err = snap.CheckComplete()
		assert.ErrorIs(t, err, membership.ErrIncompleteTopology)
	})

	t.Run("RankGap", func(t *testing.T) {
		desc := testutils.NewDescriptor(3, 0)
		desc.Members[2].MemberID = "5"

		snap, err := membership.Build(desc.Tree(t))
		require.NoError(t, err)

		err = snap.CheckComplete()
		require.ErrorIs(t, err, membership.ErrIncompleteTopology)
		assert.Contains(t, err.Error(), "rank 2")
	})
}

func TestMemberLookup(t *testing.T) {
	desc := testutils.NewDescriptor(3, 0)
	desc.Members[2].MemberID = "worker-x"

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	m, err := snap.Member("worker-x")
	require.NoError(t, err)
	assert.Equal(t, "worker-x", m.ID())

	m, err = snap.Member("1")
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID())

	m, err = snap.Member(fmtRank(m.Rank()))
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID())

	_, err = snap.Member("worker-y")
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)

	_, err = snap.MemberByRank(7)
	var notFoundErr *membership.MemberNotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "rank 7", notFoundErr.Key)

	_, err = snap.MemberByID("9")
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}

func TestMasterMissing(t *testing.T) {
	desc := testutils.NewDescriptor(2, 1)
	desc.Members = desc.Members[1:]

	snap, err := membership.Build(desc.Tree(t))
	require.NoError(t, err)

	_, err = snap.Master()
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}
