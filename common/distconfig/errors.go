/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package distconfig

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigNotFound = errors.New("distributed config not found")
	ErrConfigParse    = errors.New("distributed config could not be parsed")
)

// ConfigNotFoundError is returned when none of the supported descriptor
// files exist in the config directory.
type ConfigNotFoundError struct {
	Dir   string
	Tried []string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("%s in %s (tried %s)",
		ErrConfigNotFound.Error(), e.Dir, strings.Join(e.Tried, ", "))
}

func (e *ConfigNotFoundError) Unwrap() error { return ErrConfigNotFound }

// ConfigParseError is returned when a descriptor file exists but its
// contents could not be decoded.
type ConfigParseError struct {
	Path   string
	Format string
	Cause  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %s", ErrConfigParse.Error(), e.Path, e.Format, e.Cause)
}

func (e *ConfigParseError) Unwrap() []error { return []error{ErrConfigParse, e.Cause} }
