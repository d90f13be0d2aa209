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
	"strconv"
	"time"

	"golang.org/x/exp/maps"
)

const (
	localKind  = "local"
	publicKind = "public"
)

// Member is a single participant of the group as it was announced in the
// descriptor. Members are never modified after Build returns.
type Member struct {
	id           string
	rank         int
	identity     string
	announceTime time.Time
	localIPs     []string
	publicIPs    []string
	exposedPorts map[string]string
}

func (m *Member) ID() string {
	return m.id
}

func (m *Member) Rank() int {
	return m.rank
}

// Identity is the infrastructure-defined identifier of the instance the
// member runs on; its format depends on the provider.
func (m *Member) Identity() string {
	return m.identity
}

func (m *Member) AnnounceTime() time.Time {
	return m.announceTime
}

func (m *Member) LocalIPs() []string {
	return append([]string(nil), m.localIPs...)
}

func (m *Member) PublicIPs() []string {
	return append([]string(nil), m.publicIPs...)
}

func (m *Member) ExposedPorts() map[string]string {
	return maps.Clone(m.exposedPorts)
}

// PrimaryLocalIP returns the first reported local address.
func (m *Member) PrimaryLocalIP() (string, error) {
	if len(m.localIPs) == 0 {
		return "", &NoAddressError{MemberID: m.id, Kind: localKind}
	}
	return m.localIPs[0], nil
}

// PrimaryPublicIP returns the first reported public address.
func (m *Member) PrimaryPublicIP() (string, error) {
	if len(m.publicIPs) == 0 {
		return "", &NoAddressError{MemberID: m.id, Kind: publicKind}
	}
	return m.publicIPs[0], nil
}

// IsMaster reports whether this member coordinates the group. Rank 0 is
// always the master.
func (m *Member) IsMaster() bool {
	return m.rank == 0
}

// ExposedPort returns the externally reachable port or address that the
// declared port was mapped to. ok is false if the port was never exposed.
func (m *Member) ExposedPort(declared string) (string, bool) {
	external, ok := m.exposedPorts[declared]
	return external, ok
}

func (m *Member) ExposedPortInt(declared int) (string, bool) {
	return m.ExposedPort(strconv.Itoa(declared))
}
