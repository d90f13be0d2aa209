/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"github.com/couchbase/stellar-distributed/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type MembershipMetrics struct {
	Loads          metric.Int64Counter
	LoadFailures   metric.Int64Counter
	LoadDuration   metric.Float64Histogram
	GroupMembers   metric.Int64Gauge
	LookupFailures metric.Int64Counter
}

var (
	membershipMetrics     *MembershipMetrics
	membershipMetricsLock sync.Mutex
)

func GetMembershipMetrics() *MembershipMetrics {
	membershipMetricsLock.Lock()

	if membershipMetrics != nil {
		membershipMetricsLock.Unlock()
		return membershipMetrics
	}

	membershipMetrics = newMembershipMetrics()

	membershipMetricsLock.Unlock()
	return membershipMetrics
}

func newMembershipMetrics() *MembershipMetrics {
	meter := otel.Meter(
		"com.couchbase.stellar-distributed",
		metric.WithInstrumentationVersion(version.Version()))

	loads, _ := meter.Int64Counter("membership_loads_total",
		metric.WithDescription("Number of distributed config loads attempted."))
	loadFailures, _ := meter.Int64Counter("membership_load_failures_total",
		metric.WithDescription("Number of distributed config loads that failed."))
	loadDuration, _ := meter.Float64Histogram("membership_load_duration_seconds",
		metric.WithUnit("s"))
	groupMembers, _ := meter.Int64Gauge("membership_group_members")
	lookupFailures, _ := meter.Int64Counter("membership_lookup_failures_total")

	return &MembershipMetrics{
		Loads:          loads,
		LoadFailures:   loadFailures,
		LoadDuration:   loadDuration,
		GroupMembers:   groupMembers,
		LookupFailures: lookupFailures,
	}
}
