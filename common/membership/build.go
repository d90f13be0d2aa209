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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// announce times are ISO 8601, but not every producer includes a zone.
var announceTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Build validates a decoded descriptor tree and produces the typed snapshot.
//
// Build does not require the ranks to be contiguous or the member count to
// match the required count, see Snapshot.CheckComplete.
func Build(raw map[string]interface{}) (*Snapshot, error) {
	if raw == nil {
		return nil, schemaErrorf("", "config", "descriptor is empty")
	}

	configBlock, ok := asMap(raw["config"])
	if !ok {
		return nil, schemaErrorf("", "config", "missing or not a mapping")
	}

	identity, err := parseIdentity(configBlock)
	if err != nil {
		return nil, err
	}

	members, err := parseMembers(raw["members"])
	if err != nil {
		return nil, err
	}

	err = assignRanks(members)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		identity: identity,
		members:  members,
		byID:     make(map[string]*Member, len(members)),
		byRank:   make(map[int]*Member, len(members)),
	}
	for _, m := range members {
		if other, ok := snap.byRank[m.rank]; ok {
			return nil, schemaErrorf(m.id, "member_id",
				"resolves to rank %d which is already held by %q", m.rank, other.id)
		}
		snap.byID[m.id] = m
		snap.byRank[m.rank] = m
	}

	selfID, err := parseSelf(raw["self"], configBlock)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.byID[selfID]; !ok {
		return nil, &ConsistencyError{
			SelfID: selfID,
			Reason: "self is not listed in members",
		}
	}
	snap.selfID = selfID

	return snap, nil
}

func parseIdentity(configBlock map[string]interface{}) (GroupIdentity, error) {
	groupName, ok := asString(configBlock["group_name"])
	if !ok {
		return GroupIdentity{}, schemaErrorf("", "config.group_name", "missing or not a string")
	}
	if !strings.HasPrefix(groupName, TaskPrefix) {
		return GroupIdentity{}, schemaErrorf("", "config.group_name",
			"%q does not start with %q", groupName, TaskPrefix)
	}

	requiredCount, ok := asInt(configBlock["required_count"])
	if !ok {
		return GroupIdentity{}, schemaErrorf("", "config.required_count", "missing or not an integer")
	}
	if requiredCount < 1 {
		return GroupIdentity{}, schemaErrorf("", "config.required_count",
			"must be positive, got %d", requiredCount)
	}

	return GroupIdentity{
		groupName:     groupName,
		requiredCount: requiredCount,
	}, nil
}

func parseMembers(v interface{}) ([]*Member, error) {
	entries, ok := v.([]interface{})
	if !ok {
		return nil, schemaErrorf("", "members", "missing or not a sequence")
	}
	if len(entries) == 0 {
		return nil, schemaErrorf("", "members", "must not be empty")
	}

	seen := make(map[string]struct{}, len(entries))
	members := make([]*Member, 0, len(entries))
	for idx, entry := range entries {
		m, err := parseMember(idx, entry)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[m.id]; ok {
			return nil, schemaErrorf(m.id, "member_id", "duplicate member id")
		}
		seen[m.id] = struct{}{}

		members = append(members, m)
	}

	return members, nil
}

func parseMember(idx int, v interface{}) (*Member, error) {
	label := fmt.Sprintf("members[%d]", idx)

	entry, ok := asMap(v)
	if !ok {
		return nil, schemaErrorf(label, "member", "not a mapping")
	}

	id, ok := asID(entry["member_id"])
	if !ok {
		return nil, schemaErrorf(label, "member_id", "missing or not a string")
	}

	identity, ok := asString(entry["identity"])
	if !ok {
		return nil, schemaErrorf(id, "identity", "missing or not a string")
	}

	announceTime, err := asTime(entry["announce_time"])
	if err != nil {
		return nil, schemaErrorf(id, "announce_time", "%s", err)
	}

	network, ok := asMap(entry["network"])
	if !ok {
		return nil, schemaErrorf(id, "network", "missing or not a mapping")
	}

	localIPs, err := asStringList(network["local_ips"])
	if err != nil {
		return nil, schemaErrorf(id, "network.local_ips", "%s", err)
	}

	publicIPs, err := asStringList(network["public_ips"])
	if err != nil {
		return nil, schemaErrorf(id, "network.public_ips", "%s", err)
	}

	exposedPorts, err := asPortMap(network["exposed_ports"])
	if err != nil {
		return nil, schemaErrorf(id, "network.exposed_ports", "%s", err)
	}

	return &Member{
		id:           id,
		identity:     identity,
		announceTime: announceTime,
		localIPs:     localIPs,
		publicIPs:    publicIPs,
		exposedPorts: exposedPorts,
	}, nil
}

func parseSelf(v interface{}, configBlock map[string]interface{}) (string, error) {
	selfBlock, ok := asMap(v)
	if !ok {
		return "", schemaErrorf("", "self", "missing or not a mapping")
	}

	selfID, ok := asID(selfBlock["member_id"])
	if !ok {
		return "", schemaErrorf("", "self.member_id", "missing or not a string")
	}

	if rawConfigID, present := configBlock["member_id"]; present {
		configID, ok := asID(rawConfigID)
		if !ok {
			return "", schemaErrorf("", "config.member_id", "not a string")
		}
		if configID != selfID {
			return "", &ConsistencyError{
				SelfID: selfID,
				Reason: fmt.Sprintf("config.member_id is %q", configID),
			}
		}
	}

	return selfID, nil
}

// assignRanks uses the member ids as ranks when they are all plain
// non-negative integers. Otherwise members are ranked in the order they
// announced themselves, ties broken by member id.
func assignRanks(members []*Member) error {
	numeric := true
	for _, m := range members {
		if !isRankID(m.id) {
			numeric = false
			break
		}
	}

	if numeric {
		for _, m := range members {
			rank, err := strconv.Atoi(m.id)
			if err != nil {
				return schemaErrorf(m.id, "member_id", "%s", err)
			}
			m.rank = rank
		}
	} else {
		ordered := append([]*Member(nil), members...)
		slices.SortStableFunc(ordered, compareAnnounceOrder)
		for rank, m := range ordered {
			m.rank = rank
		}
	}

	slices.SortStableFunc(members, func(a, b *Member) int {
		return a.rank - b.rank
	})

	return nil
}

func compareAnnounceOrder(a, b *Member) int {
	if c := a.announceTime.Compare(b.announceTime); c != 0 {
		return c
	}
	return strings.Compare(a.id, b.id)
}

func isRankID(id string) bool {
	if id == "" || len(id) > 9 {
		return false
	}
	if len(id) > 1 && id[0] == '0' {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch tv := v.(type) {
	case map[string]interface{}:
		return tv, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(tv))
		for key, val := range tv {
			out[fmt.Sprint(key)] = val
		}
		return out, true
	}
	return nil, false
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// asID accepts integer ids too, since YAML producers leave them unquoted.
func asID(v interface{}) (string, bool) {
	if s, ok := asString(v); ok {
		return s, true
	}
	if n, ok := asInt(v); ok && n >= 0 {
		return strconv.Itoa(n), true
	}
	return "", false
}

func asInt(v interface{}) (int, bool) {
	switch tv := v.(type) {
	case int:
		return tv, true
	case int32:
		return int(tv), true
	case int64:
		return int(tv), true
	case uint:
		return int(tv), true
	case uint32:
		return int(tv), true
	case uint64:
		if tv > math.MaxInt32 {
			return 0, false
		}
		return int(tv), true
	case float64:
		if tv != math.Trunc(tv) || math.Abs(tv) > math.MaxInt32 {
			return 0, false
		}
		return int(tv), true
	case json.Number:
		n, err := tv.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func asTime(v interface{}) (time.Time, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv, nil
	case string:
		for _, layout := range announceTimeLayouts {
			t, err := time.Parse(layout, tv)
			if err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not an ISO 8601 timestamp", tv)
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	}
	return time.Time{}, fmt.Errorf("not a timestamp")
}

func asStringList(v interface{}) ([]string, error) {
	if v == nil {
		return nil, fmt.Errorf("missing")
	}

	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("not a sequence")
	}

	out := make([]string, 0, len(items))
	for idx, item := range items {
		s, ok := asString(item)
		if !ok {
			return nil, fmt.Errorf("entry %d is not a non-empty string", idx)
		}
		out = append(out, s)
	}
	return out, nil
}

// asPortMap normalizes exposed port pairings into strings. The block is
// optional and an absent block means nothing was exposed.
func asPortMap(v interface{}) (map[string]string, error) {
	out := make(map[string]string)
	if v == nil {
		return out, nil
	}

	ports, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("not a mapping")
	}

	for declared, external := range ports {
		switch tv := external.(type) {
		case string:
			out[declared] = tv
		default:
			n, ok := asInt(tv)
			if !ok {
				return nil, fmt.Errorf("port %s maps to %v which is not a port or address", declared, external)
			}
			out[declared] = strconv.Itoa(n)
		}
	}
	return out, nil
}
