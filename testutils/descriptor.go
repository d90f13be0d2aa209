/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type MemberSpec struct {
	MemberID     string
	Identity     string
	AnnounceTime string
	LocalIPs     []string
	PublicIPs    []string
	ExposedPorts map[string]interface{}
}

type DescriptorSpec struct {
	GroupName     string
	RequiredCount int
	SelfID        string
	Members       []MemberSpec
}

// NewGroupName generates a group name in the format the platform uses,
// e.g. "task-0180acd6-c7ad-ca5b-bb1a-00f278d4183c".
func NewGroupName() string {
	return "task-" + uuid.NewString()
}

var baseAnnounceTime = time.Date(2022, 5, 11, 8, 30, 0, 0, time.UTC)

// NewDescriptor builds a well-formed descriptor for a group of count members
// with numeric member ids, where the process runs as selfRank.
func NewDescriptor(count int, selfRank int) *DescriptorSpec {
	d := &DescriptorSpec{
		GroupName:     NewGroupName(),
		RequiredCount: count,
		SelfID:        fmt.Sprintf("%d", selfRank),
	}

	for i := 0; i < count; i++ {
		d.Members = append(d.Members, MemberSpec{
			MemberID:     fmt.Sprintf("%d", i),
			Identity:     fmt.Sprintf("i-%08x", 0xabc000+i),
			AnnounceTime: baseAnnounceTime.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
			LocalIPs:     []string{fmt.Sprintf("10.0.16.%d", 20+i)},
			PublicIPs:    []string{fmt.Sprintf("34.88.1.%d", 100+i)},
			ExposedPorts: map[string]interface{}{},
		})
	}

	return d
}

func (m MemberSpec) tree() map[string]interface{} {
	ports := m.ExposedPorts
	if ports == nil {
		ports = map[string]interface{}{}
	}

	return map[string]interface{}{
		"member_id":     m.MemberID,
		"identity":      m.Identity,
		"announce_time": m.AnnounceTime,
		"network": map[string]interface{}{
			"exposed_ports": ports,
			"local_ips":     nonNil(m.LocalIPs),
			"public_ips":    nonNil(m.PublicIPs),
		},
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func (d *DescriptorSpec) document() map[string]interface{} {
	var members []interface{}
	var self map[string]interface{}
	for _, m := range d.Members {
		members = append(members, m.tree())
		if m.MemberID == d.SelfID {
			self = m.tree()
		}
	}
	if self == nil {
		self = map[string]interface{}{"member_id": d.SelfID}
	}

	return map[string]interface{}{
		"config": map[string]interface{}{
			"group_name":     d.GroupName,
			"member_id":      d.SelfID,
			"required_count": d.RequiredCount,
		},
		"members": members,
		"self":    self,
	}
}

// Tree returns the descriptor decoded the same way a JSON file would be,
// so numbers come back as float64.
func (d *DescriptorSpec) Tree(t testing.TB) map[string]interface{} {
	data := d.JSON(t)

	var tree map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &tree))
	return tree
}

func (d *DescriptorSpec) JSON(t testing.TB) []byte {
	data, err := json.MarshalIndent(d.document(), "", "  ")
	require.NoError(t, err)
	return data
}

func (d *DescriptorSpec) YAML(t testing.TB) []byte {
	data, err := yaml.Marshal(d.document())
	require.NoError(t, err)
	return data
}

// WriteJSON writes the descriptor as distributed.json into dir.
func (d *DescriptorSpec) WriteJSON(t testing.TB, fs afero.Fs, dir string) string {
	return writeFile(t, fs, dir, "distributed.json", d.JSON(t))
}

// WriteYAML writes the descriptor as distributed.yaml into dir.
func (d *DescriptorSpec) WriteYAML(t testing.TB, fs afero.Fs, dir string) string {
	return writeFile(t, fs, dir, "distributed.yaml", d.YAML(t))
}

func writeFile(t testing.TB, fs afero.Fs, dir, name string, data []byte) string {
	require.NoError(t, fs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, name)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	return path
}

// MemberTree returns the idx'th entry of the members list in a decoded tree
// so tests can tamper with it.
func MemberTree(t testing.TB, tree map[string]interface{}, idx int) map[string]interface{} {
	members, ok := tree["members"].([]interface{})
	require.True(t, ok, "members is not a list")
	require.Less(t, idx, len(members))

	member, ok := members[idx].(map[string]interface{})
	require.True(t, ok, "member is not a mapping")
	return member
}
