/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package membership

import (
	"fmt"
	"strconv"
)

// TaskPrefix is the token every distributed group name starts with, the
// remainder being the id of the task that owns the group.
const TaskPrefix = "task-"

type GroupIdentity struct {
	groupName     string
	requiredCount int
}

func (g GroupIdentity) GroupName() string {
	return g.groupName
}

// RequiredCount is the total number of members the group was created with.
func (g GroupIdentity) RequiredCount() int {
	return g.requiredCount
}

// Snapshot is the validated view of the group taken from a single
// descriptor. It is safe for concurrent use since nothing mutates it after
// Build returns.
type Snapshot struct {
	identity GroupIdentity
	selfID   string

	// sorted by rank ascending
	members []*Member
	byID    map[string]*Member
	byRank  map[int]*Member
}

func (s *Snapshot) Identity() GroupIdentity {
	return s.identity
}

func (s *Snapshot) GroupName() string {
	return s.identity.groupName
}

func (s *Snapshot) RequiredCount() int {
	return s.identity.requiredCount
}

func (s *Snapshot) SelfID() string {
	return s.selfID
}

func (s *Snapshot) Len() int {
	return len(s.members)
}

// Members returns every member exactly once, ordered by rank.
func (s *Snapshot) Members() []*Member {
	return append([]*Member(nil), s.members...)
}

func (s *Snapshot) MemberByID(id string) (*Member, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, &MemberNotFoundError{Key: "member_id " + strconv.Quote(id)}
	}
	return m, nil
}

func (s *Snapshot) MemberByRank(rank int) (*Member, error) {
	m, ok := s.byRank[rank]
	if !ok {
		return nil, &MemberNotFoundError{Key: fmt.Sprintf("rank %d", rank)}
	}
	return m, nil
}

// Member looks a member up by member id first, and then by rank if the key
// is a decimal number that does not match any member id.
func (s *Snapshot) Member(rankOrID string) (*Member, error) {
	if m, ok := s.byID[rankOrID]; ok {
		return m, nil
	}

	rank, err := strconv.Atoi(rankOrID)
	if err == nil {
		if m, ok := s.byRank[rank]; ok {
			return m, nil
		}
	}

	return nil, &MemberNotFoundError{Key: strconv.Quote(rankOrID)}
}

// Me returns the member this process runs as.
func (s *Snapshot) Me() (*Member, error) {
	return s.MemberByID(s.selfID)
}

// Master returns the rank 0 member.
func (s *Snapshot) Master() (*Member, error) {
	return s.MemberByRank(0)
}

// CheckComplete verifies that the group has exactly RequiredCount members
// with ranks forming the range [0, RequiredCount). Build does not require
// this, so callers that depend on a full group must call it themselves.
func (s *Snapshot) CheckComplete() error {
	if len(s.members) != s.identity.requiredCount {
		return &TopologyError{
			Reason: fmt.Sprintf("group has %d members but requires %d",
				len(s.members), s.identity.requiredCount),
		}
	}

	for rank := 0; rank < s.identity.requiredCount; rank++ {
		if _, ok := s.byRank[rank]; !ok {
			return &TopologyError{
				Reason: fmt.Sprintf("no member holds rank %d", rank),
			}
		}
	}

	return nil
}
