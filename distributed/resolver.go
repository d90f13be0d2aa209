/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package distributed

import (
	"context"
	"sync"
	"time"

	"github.com/couchbase/stellar-distributed/common/distconfig"
	"github.com/couchbase/stellar-distributed/common/membership"
	"github.com/couchbase/stellar-distributed/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ResolverOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.MembershipMetrics

	// Loader defaults to reading ConfigDir from the local filesystem.
	Loader    distconfig.Loader
	ConfigDir string

	// RequireComplete makes the load fail unless every rank in
	// [0, required_count) is present.
	RequireComplete bool
}

// Resolver gives typed access to the group membership of the current
// process. The descriptor is read at most once, on the first call to Load
// or any accessor, and the outcome is shared by every later caller.
type Resolver struct {
	logger          *zap.Logger
	metrics         *metrics.MembershipMetrics
	tracer          trace.Tracer
	loader          distconfig.Loader
	requireComplete bool

	loadOnce sync.Once
	snapshot *membership.Snapshot
	loadErr  error
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		loader:          opts.Loader,
		requireComplete: opts.RequireComplete,
		tracer:          otel.Tracer("github.com/couchbase/stellar-distributed/distributed"),
	}

	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = metrics.GetMembershipMetrics()
	}
	if r.loader == nil {
		r.loader = distconfig.NewDirLoader(distconfig.DirLoaderOptions{
			Logger: r.logger.Named("loader"),
			Dir:    opts.ConfigDir,
		})
	}

	return r
}

// Load reads and validates the descriptor if that has not happened yet and
// returns the snapshot. A failed load is not retried.
func (r *Resolver) Load(ctx context.Context) (*membership.Snapshot, error) {
	r.loadOnce.Do(func() {
		r.snapshot, r.loadErr = r.load(ctx)
	})
	return r.snapshot, r.loadErr
}

func (r *Resolver) load(ctx context.Context) (*membership.Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "distributed.load")
	defer span.End()

	stime := time.Now()
	r.metrics.Loads.Add(ctx, 1)

	snap, err := r.loadAndBuild()

	r.metrics.LoadDuration.Record(ctx, time.Since(stime).Seconds())
	if err != nil {
		r.metrics.LoadFailures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load distributed config")
		r.logger.Debug("failed to load distributed config", zap.Error(err))
		return nil, err
	}

	r.metrics.GroupMembers.Record(ctx, int64(snap.Len()),
		metric.WithAttributes(attribute.String("group", snap.GroupName())))
	span.SetAttributes(
		attribute.String("group", snap.GroupName()),
		attribute.Int("required_count", snap.RequiredCount()),
		attribute.String("self", snap.SelfID()))

	r.logger.Debug("loaded distributed config",
		zap.String("group", snap.GroupName()),
		zap.Int("requiredCount", snap.RequiredCount()),
		zap.Int("members", snap.Len()),
		zap.String("self", snap.SelfID()))

	return snap, nil
}

func (r *Resolver) loadAndBuild() (*membership.Snapshot, error) {
	raw, err := r.loader.Load()
	if err != nil {
		return nil, err
	}

	snap, err := membership.Build(raw.Tree)
	if err != nil {
		return nil, err
	}

	if r.requireComplete {
		err = snap.CheckComplete()
		if err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// IsDistributed reports whether the process runs as a member of a
// distributed group, meaning a valid descriptor could be loaded.
func (r *Resolver) IsDistributed() bool {
	_, err := r.Load(context.Background())
	return err == nil
}

func (r *Resolver) GroupName() (string, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return "", err
	}
	return snap.GroupName(), nil
}

func (r *Resolver) RequiredCount() (int, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return 0, err
	}
	return snap.RequiredCount(), nil
}

// Members returns all members ordered by rank.
func (r *Resolver) Members() ([]*membership.Member, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return snap.Members(), nil
}

func (r *Resolver) Member(rankOrID string) (*membership.Member, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return r.lookup(snap.Member(rankOrID))
}

func (r *Resolver) MemberByRank(rank int) (*membership.Member, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return r.lookup(snap.MemberByRank(rank))
}

func (r *Resolver) Me() (*membership.Member, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return r.lookup(snap.Me())
}

func (r *Resolver) Master() (*membership.Member, error) {
	snap, err := r.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return r.lookup(snap.Master())
}

// Rank is the rank of the member this process runs as.
func (r *Resolver) Rank() (int, error) {
	me, err := r.Me()
	if err != nil {
		return 0, err
	}
	return me.Rank(), nil
}

func (r *Resolver) lookup(m *membership.Member, err error) (*membership.Member, error) {
	if err != nil {
		r.metrics.LookupFailures.Add(context.Background(), 1)
		return nil, err
	}
	return m, nil
}
