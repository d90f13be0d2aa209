/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package version

import (
	"runtime/debug"
	"sync"
)

const (
	Application = "stellar-distributed"
	modulePath  = "github.com/couchbase/stellar-distributed"
)

var (
	versionOnce sync.Once
	version     string
	revision    string
)

func load() {
	version = "0.0.0-dev"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			revision = setting.Value
		}
	}
}

func Version() string {
	versionOnce.Do(load)
	return version
}

func Revision() string {
	versionOnce.Do(load)
	return revision
}

// WithRevision returns the version, suffixed with the short vcs revision
// when the binary was built from a checkout.
func WithRevision() string {
	versionOnce.Do(load)
	if revision == "" {
		return version
	}
	if len(revision) > 12 {
		return version + "-" + revision[:12]
	}
	return version + "-" + revision
}
