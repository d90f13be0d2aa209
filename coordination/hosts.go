/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package coordination

import (
	"fmt"
	"strings"

	"github.com/couchbase/stellar-distributed/common/membership"
	"github.com/couchbase/stellar-distributed/utils/netutils"
)

// PrimaryAddress returns the primary local address of a member, refusing
// addresses that cannot be dialed by peers.
func PrimaryAddress(m *membership.Member) (string, error) {
	ip, err := m.PrimaryLocalIP()
	if err != nil {
		return "", err
	}

	if netutils.IsInAddrAny(ip) {
		return "", fmt.Errorf("%w: member %q reported %q", ErrUnroutableAddress, m.ID(), ip)
	}

	return ip, nil
}

// HostList builds an MPI style host list where every member runs
// procsPerHost slots, e.g. "10.0.0.1:2,10.0.0.2:2".
func HostList(members []*membership.Member, procsPerHost int) (string, error) {
	if procsPerHost < 1 {
		return "", ErrInvalidProcsPerHost
	}

	hosts := make([]string, 0, len(members))
	for _, m := range members {
		ip, err := PrimaryAddress(m)
		if err != nil {
			return "", err
		}

		hosts = append(hosts, fmt.Sprintf("%s:%d", ip, procsPerHost))
	}

	return strings.Join(hosts, ","), nil
}

// ProcessCount is the total number of processes to launch across the group.
func ProcessCount(requiredCount int, procsPerHost int) int {
	return requiredCount * procsPerHost
}

// WorkerAddresses returns host:port pairs for every member, in rank order if
// members is.
func WorkerAddresses(members []*membership.Member, port int) ([]string, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	addrs := make([]string, 0, len(members))
	for _, m := range members {
		ip, err := PrimaryAddress(m)
		if err != nil {
			return nil, err
		}

		addrs = append(addrs, netutils.HostPort(ip, port))
	}

	return addrs, nil
}

// RendezvousURL is the tcp:// init url process groups use to find the
// master, e.g. "tcp://10.0.0.1:1234".
func RendezvousURL(master *membership.Member, port int) (string, error) {
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	ip, err := PrimaryAddress(master)
	if err != nil {
		return "", err
	}

	return "tcp://" + netutils.HostPort(ip, port), nil
}
